package serial

import "gohal/core"

// Cause is the set of interrupt sources a Port found pending.
type Cause uint8

const (
	CauseError Cause = 1 << iota
	CauseRx
	CauseTx
	CauseOther // unrecognized source, acknowledged by dummy reads
)

// Port is the register-level profile of one UART family. All methods
// except Validate run in interrupt context or with interrupts disabled.
type Port interface {
	// Validate checks cfg against the family without touching hardware.
	Validate(cfg Config, clockHz uint32) error
	Init(cfg Config, clockHz uint32)
	Deinit()

	// Pending reads the interrupt status once.
	Pending() Cause
	// LineErrors clears the error status at the source and returns it.
	LineErrors() core.ErrorFlags
	// RxReady reports whether a received byte is waiting, and any line
	// errors observed while checking.
	RxReady() (bool, core.ErrorFlags)
	ReadData() byte
	TxReady() bool
	WriteData(b byte)
	SetTxInterrupt(on bool)
	TxInterruptEnabled() bool
	Acknowledge()

	// FIFODepth bounds the bytes moved per direction per visit.
	FIFODepth() int
}
