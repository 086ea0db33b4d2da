package i2c

import (
	"fmt"

	"github.com/pkg/errors"

	"gohal/core"
)

var (
	// ErrAckFailure is matched by transfers a slave did not acknowledge.
	ErrAckFailure = errors.New("i2c ack failure")

	// ErrArbitrationLost is matched by transfers that lost the bus.
	ErrArbitrationLost = errors.New("i2c arbitration lost")

	// ErrBusError is matched by transfers hit by a misplaced START or STOP.
	ErrBusError = errors.New("i2c bus error")

	// ErrBusStopTimeout is reported when hardware does not clear CR1.STOP
	// within the configured spin bound.
	ErrBusStopTimeout = errors.New("i2c stop condition not completed")

	// ErrDMAFailure is returned when a DMA stream reports a transfer error.
	ErrDMAFailure = errors.New("i2c dma transfer error")
)

// abortFlags end a transfer in flight.
const abortFlags = core.AckFailure | core.ArbitrationLost | core.BusError

// TransferError is the result of a transfer ended by bus errors.
type TransferError struct {
	Addr  uint8
	Flags core.ErrorFlags
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("i2c transfer to 0x%02x failed: %s", e.Addr, e.Flags)
}

// Is matches the sentinel of every flag in the set.
func (e *TransferError) Is(target error) bool {
	switch target {
	case ErrAckFailure:
		return e.Flags&core.AckFailure != 0
	case ErrArbitrationLost:
		return e.Flags&core.ArbitrationLost != 0
	case ErrBusError:
		return e.Flags&core.BusError != 0
	}
	return false
}
