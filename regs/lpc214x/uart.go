// Package lpc214x holds the register layout of the NXP LPC214x UARTs and the
// power control register gating them.
package lpc214x

import "gohal/core"

// UART register offsets. RBR, THR and DLL share offset 0 and IER and DLM
// offset 4; LCR.DLAB selects the divisor latches.
const (
	RBR core.Register = 0x00
	THR core.Register = 0x00
	DLL core.Register = 0x00
	IER core.Register = 0x04
	DLM core.Register = 0x04
	IIR core.Register = 0x08
	FCR core.Register = 0x08
	LCR core.Register = 0x0C
	LSR core.Register = 0x14
	SCR core.Register = 0x1C
	ACR core.Register = 0x20
	FDR core.Register = 0x28
	TER core.Register = 0x30
)

// IER bits.
const (
	IER_RBR    = 0x01
	IER_THRE   = 0x02
	IER_STATUS = 0x04
)

// IIR fields. Bit 0 set means no interrupt is pending.
const (
	IIR_NONE     = 0x01
	IIR_MASK     = 0x0F
	IIR_SRC_RLS  = 0x06
	IIR_SRC_RDA  = 0x04
	IIR_SRC_CTI  = 0x0C
	IIR_SRC_THRE = 0x02
)

// LCR bits.
const (
	LCR_WL5       = 0x00
	LCR_WL6       = 0x01
	LCR_WL7       = 0x02
	LCR_WL8       = 0x03
	LCR_STOP2     = 0x04
	LCR_PARITY_EN = 0x08
	LCR_EVEN      = 0x10
	LCR_BREAK     = 0x40
	LCR_DLAB      = 0x80
)

// FCR bits.
const (
	FCR_ENABLE  = 0x01
	FCR_RXRESET = 0x02
	FCR_TXRESET = 0x04
	FCR_TRIG1   = 0x00
	FCR_TRIG4   = 0x40
	FCR_TRIG8   = 0x80
	FCR_TRIG14  = 0xC0
)

// LSR bits.
const (
	LSR_RDR  = 0x01
	LSR_OE   = 0x02
	LSR_PE   = 0x04
	LSR_FE   = 0x08
	LSR_BI   = 0x10
	LSR_THRE = 0x20
	LSR_TEMT = 0x40
	LSR_RXFE = 0x80
)

// TER_ENABLE lets the transmitter run.
const TER_ENABLE = 0x80

// FIFOSize is the depth of the receive and transmit FIFOs.
const FIFOSize = 16

// Peripheral base addresses.
const (
	UART0Base = 0xE000C000
	UART1Base = 0xE0010000
)

// PCONP is the power control for peripherals register.
const PCONP core.Register = 0xE01FC0C4

// PCONP bits.
const (
	PCONP_UART0 = 0x08
	PCONP_UART1 = 0x10
)
