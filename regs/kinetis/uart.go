// Package kinetis holds the register layout of the Freescale Kinetis K20
// UARTs and the SIM clock gate.
package kinetis

import "gohal/core"

// UART register offsets.
const (
	BDH core.Register = 0x00
	BDL core.Register = 0x01
	C1  core.Register = 0x02
	C2  core.Register = 0x03
	S1  core.Register = 0x04
	S2  core.Register = 0x05
	C3  core.Register = 0x06
	D   core.Register = 0x07
	C4  core.Register = 0x0A
)

// S1 bits.
const (
	S1_PF   = 0x01
	S1_FE   = 0x02
	S1_NF   = 0x04
	S1_OR   = 0x08
	S1_IDLE = 0x10
	S1_RDRF = 0x20
	S1_TC   = 0x40
	S1_TDRE = 0x80
)

// C1 bits.
const (
	C1_PT = 0x01
	C1_PE = 0x02
	C1_M  = 0x10
)

// C2 bits.
const (
	C2_RE   = 0x04
	C2_TE   = 0x08
	C2_ILIE = 0x10
	C2_RIE  = 0x20
	C2_TCIE = 0x40
	C2_TIE  = 0x80
)

// C3 bits.
const (
	C3_PEIE = 0x01
	C3_FEIE = 0x02
	C3_NEIE = 0x04
	C3_ORIE = 0x08
)

// BDH_SBR_MASK and C4_BRFA_MASK bound the baud divisor fields.
const (
	BDH_SBR_MASK = 0x1F
	C4_BRFA_MASK = 0x1F
)

// Peripheral base addresses.
const (
	UART0Base = 0x4006A000
	UART1Base = 0x4006B000
	UART2Base = 0x4006C000
)

// SIM_SCGC4 is the system clock gating control register 4.
const SIM_SCGC4 core.Register = 0x40048034

// SIM_SCGC4 bits.
const (
	SCGC4_UART0 = 0x0400
	SCGC4_UART1 = 0x0800
	SCGC4_UART2 = 0x1000
)
