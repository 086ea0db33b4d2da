package core

import (
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrContract is returned when an operation is invoked in a state or with
	// parameters it does not accept. The channel is left unmodified.
	ErrContract = errors.New("contract violation")

	// ErrQueueFull is returned by non-blocking puts on a full queue.
	ErrQueueFull = errors.New("queue full")

	// ErrQueueEmpty is returned by non-blocking gets on an empty queue.
	ErrQueueEmpty = errors.New("queue empty")

	// ErrInterruptStorm is reported when an interrupt handler keeps finding
	// pending causes past its iteration bound.
	ErrInterruptStorm = errors.New("interrupt cause not cleared")

	// ErrNotStarted is returned by data operations on a stopped channel.
	ErrNotStarted = errors.New("channel not started")

	// ErrSlotInUse is returned when registering over an occupied registry slot
	// or vector.
	ErrSlotInUse = errors.New("slot already in use")

	// ErrUnknownPeripheral is returned for peripheral IDs outside the tables.
	ErrUnknownPeripheral = errors.New("unknown peripheral")
)

// Contractf wraps ErrContract with a formatted reason.
func Contractf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrContract, format, args...)
}

// ErrorFlags is the portable set of link errors a channel can accumulate.
type ErrorFlags uint16

const (
	Overrun ErrorFlags = 1 << iota
	Framing
	Parity
	Break
	BusError
	ArbitrationLost
	AckFailure
	PECError
	SMBusTimeout
	SMBusAlert
)

var flagNames = [...]string{
	"overrun",
	"framing",
	"parity",
	"break",
	"bus-error",
	"arbitration-lost",
	"ack-failure",
	"pec-error",
	"smbus-timeout",
	"smbus-alert",
}

// Has reports whether every flag in mask is set.
func (f ErrorFlags) Has(mask ErrorFlags) bool {
	return f&mask == mask
}

func (f ErrorFlags) String() string {
	if f == 0 {
		return "none"
	}
	var sb strings.Builder
	for i, name := range flagNames {
		if f&(1<<i) == 0 {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(name)
	}
	return sb.String()
}
