// Package dma manages exclusive ownership of DMA streams and arms them for
// single peripheral transfers.
package dma

import (
	"github.com/pkg/errors"

	"gohal/core"
)

// StreamID identifies a stream within a controller.
type StreamID uint8

// MaxStreams is the number of streams a Pool can track.
const MaxStreams = 16

// Flags are the interrupt conditions latched by a stream.
type Flags uint8

const (
	FlagComplete Flags = 1 << iota
	FlagHalfComplete
	FlagTransferError
	FlagDirectModeError

	FlagFailed = FlagTransferError | FlagDirectModeError
)

// Callback runs in interrupt context when a stream raises flags.
type Callback func(flags Flags)

// Stream is one DMA stream. Mode takes the stream configuration register
// bits (regs/stm32 DMA_SxCR_*) excluding EN.
type Stream interface {
	ID() StreamID
	SetPeripheral(addr uint32)
	SetMemory(buf []byte)
	SetMode(mode uint32)
	Enable()
	Disable()
	Remaining() int
}

// Controller is the hardware behind a Pool.
type Controller interface {
	Stream(id StreamID) (Stream, bool)
	// TakeFlags returns and clears the flags latched by stream id.
	TakeFlags(id StreamID) Flags
}

// Pool hands out exclusive ownership of a controller's streams.
type Pool struct {
	ctrl      Controller
	owned     uint32
	callbacks [MaxStreams]Callback
}

// NewPool creates a pool over ctrl.
func NewPool(ctrl Controller) *Pool {
	return &Pool{ctrl: ctrl}
}

// Acquire takes exclusive ownership of stream id. cb receives the stream's
// interrupt flags from Serve.
func (p *Pool) Acquire(id StreamID, cb Callback) (Stream, error) {
	if id >= MaxStreams {
		return nil, errors.Wrapf(ErrNoStream, "stream %d", id)
	}
	s, ok := p.ctrl.Stream(id)
	if !ok {
		return nil, errors.Wrapf(ErrNoStream, "stream %d", id)
	}
	state := core.DisableInterrupts()
	defer core.RestoreInterrupts(state)
	if p.owned&(1<<id) != 0 {
		return nil, errors.Wrapf(ErrAlreadyOwned, "stream %d", id)
	}
	p.owned |= 1 << id
	p.callbacks[id] = cb
	return s, nil
}

// Release disables s, drops its latched flags and returns it to the pool.
func (p *Pool) Release(s Stream) {
	if s == nil {
		return
	}
	s.Disable()
	id := s.ID()
	state := core.DisableInterrupts()
	p.ctrl.TakeFlags(id)
	p.owned &^= 1 << id
	p.callbacks[id] = nil
	core.RestoreInterrupts(state)
}

// Owned reports whether stream id is held.
func (p *Pool) Owned(id StreamID) bool {
	state := core.DisableInterrupts()
	defer core.RestoreInterrupts(state)
	return id < MaxStreams && p.owned&(1<<id) != 0
}

// Serve is the controller's interrupt handler. It passes latched flags to
// the owner of each stream.
func (p *Pool) Serve() {
	for id := StreamID(0); id < MaxStreams; id++ {
		if p.owned&(1<<id) == 0 {
			continue
		}
		flags := p.ctrl.TakeFlags(id)
		if flags != 0 && p.callbacks[id] != nil {
			p.callbacks[id](flags)
		}
	}
}
