// Package stm32 holds the register layout of the STM32F1/F4 I2C peripheral,
// its RCC clock gate and the DMA stream control bits used with it.
package stm32

import "gohal/core"

// I2C register offsets.
const (
	CR1   core.Register = 0x00
	CR2   core.Register = 0x04
	OAR1  core.Register = 0x08
	OAR2  core.Register = 0x0C
	DR    core.Register = 0x10
	SR1   core.Register = 0x14
	SR2   core.Register = 0x18
	CCR   core.Register = 0x1C
	TRISE core.Register = 0x20
)

// CR1 bits.
const (
	CR1_PE      = 0x0001
	CR1_SMBUS   = 0x0002
	CR1_SMBTYPE = 0x0008
	CR1_ENARP   = 0x0010
	CR1_START   = 0x0100
	CR1_STOP    = 0x0200
	CR1_ACK     = 0x0400
	CR1_POS     = 0x0800
	CR1_PEC     = 0x1000
	CR1_SWRST   = 0x8000
)

// CR2 bits.
const (
	CR2_FREQ    = 0x003F
	CR2_ITERREN = 0x0100
	CR2_ITEVTEN = 0x0200
	CR2_ITBUFEN = 0x0400
	CR2_DMAEN   = 0x0800
	CR2_LAST    = 0x1000
)

// SR1 bits. Error bits are rc_w0: written 0 to clear, 1 leaves them.
const (
	SR1_SB       = 0x0001
	SR1_ADDR     = 0x0002
	SR1_BTF      = 0x0004
	SR1_ADD10    = 0x0008
	SR1_STOPF    = 0x0010
	SR1_RXNE     = 0x0040
	SR1_TXE      = 0x0080
	SR1_BERR     = 0x0100
	SR1_ARLO     = 0x0200
	SR1_AF       = 0x0400
	SR1_OVR      = 0x0800
	SR1_PECERR   = 0x1000
	SR1_TIMEOUT  = 0x4000
	SR1_SMBALERT = 0x8000

	SR1_ERRORS = SR1_BERR | SR1_ARLO | SR1_AF | SR1_OVR | SR1_PECERR | SR1_TIMEOUT | SR1_SMBALERT
)

// SR2 bits.
const (
	SR2_MSL  = 0x0001
	SR2_BUSY = 0x0002
	SR2_TRA  = 0x0004
)

// CCR fields.
const (
	CCR_CCR  = 0x0FFF
	CCR_DUTY = 0x4000
	CCR_FS   = 0x8000
)

// TRISE_MASK bounds the rise time field.
const TRISE_MASK = 0x3F

// Peripheral base addresses.
const (
	I2C1Base = 0x40005400
	I2C2Base = 0x40005800
)

// RCC_APB1ENR is the APB1 peripheral clock enable register (F1 map).
const RCC_APB1ENR core.Register = 0x4002101C

// RCC_APB1ENR bits.
const (
	APB1ENR_I2C1EN = 0x00200000
	APB1ENR_I2C2EN = 0x00400000
)

// DMA stream configuration register bits.
const (
	DMA_SxCR_EN          = 0x00000001
	DMA_SxCR_DMEIE       = 0x00000002
	DMA_SxCR_TEIE        = 0x00000004
	DMA_SxCR_HTIE        = 0x00000008
	DMA_SxCR_TCIE        = 0x00000010
	DMA_SxCR_DIR_P2M     = 0x00000000
	DMA_SxCR_DIR_M2P     = 0x00000040
	DMA_SxCR_MINC        = 0x00000400
	DMA_SxCR_PL_SHIFT    = 16
	DMA_SxCR_PL_MASK     = 0x00030000
	DMA_SxCR_CHSEL_SHIFT = 25
	DMA_SxCR_CHSEL_MASK  = 0x0E000000
)

// RCC_APB1ENR_F4 is RCC_APB1ENR in the F4 map.
const RCC_APB1ENR_F4 core.Register = 0x40023840

// DMA controller base addresses (F4).
const (
	DMA1Base = 0x40026000
	DMA2Base = 0x40026400
)

// DMA controller registers, offsets from the controller base.
const (
	DMA_LISR  core.Register = 0x00
	DMA_HISR  core.Register = 0x04
	DMA_LIFCR core.Register = 0x08
	DMA_HIFCR core.Register = 0x0C
)

// DMA stream registers, offsets from the stream block at 0x10 + 0x18*stream.
const (
	DMA_SxCR   core.Register = 0x00
	DMA_SxNDTR core.Register = 0x04
	DMA_SxPAR  core.Register = 0x08
	DMA_SxM0AR core.Register = 0x0C

	DMA_StreamBase   = 0x10
	DMA_StreamStride = 0x18
)

// DMA interrupt status bits of one stream, before shifting into LISR/HISR.
const (
	DMA_FEIF  = 0x01
	DMA_DMEIF = 0x04
	DMA_TEIF  = 0x08
	DMA_HTIF  = 0x10
	DMA_TCIF  = 0x20

	DMA_ALLIF = DMA_FEIF | DMA_DMEIF | DMA_TEIF | DMA_HTIF | DMA_TCIF
)

// DMAFlagShift is the position of each stream's status bits within its
// LISR or HISR word, indexed by stream%4.
var DMAFlagShift = [4]uint32{0, 6, 16, 22}
