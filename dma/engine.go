package dma

import (
	"github.com/pkg/errors"

	"gohal/regs/stm32"
)

// Direction of a transfer relative to memory.
type Direction uint8

const (
	PeripheralToMemory Direction = iota
	MemoryToPeripheral
)

// Descriptor is one transfer: buffer, direction, the peripheral data
// register address and the completion callback.
type Descriptor struct {
	Direction  Direction
	Buffer     []byte
	Peripheral uint32
	Done       Callback
}

// Engine owns a receive and a transmit stream serving one peripheral.
type Engine struct {
	pool       *Pool
	rxID, txID StreamID
	rx, tx     Stream
	mode       uint32
	peripheral uint32
	rxDone     Callback
	txDone     Callback
}

// NewEngine returns an engine for the given stream pair. Nothing is acquired
// until Acquire.
func NewEngine(pool *Pool, rx, tx StreamID) *Engine {
	return &Engine{pool: pool, rxID: rx, txID: tx}
}

// Acquire takes both streams. On failure nothing stays held.
func (e *Engine) Acquire() error {
	rx, err := e.pool.Acquire(e.rxID, e.serveRx)
	if err != nil {
		return errors.Wrap(err, "rx stream")
	}
	tx, err := e.pool.Acquire(e.txID, e.serveTx)
	if err != nil {
		e.pool.Release(rx)
		return errors.Wrap(err, "tx stream")
	}
	e.rx, e.tx = rx, tx
	return nil
}

// Acquired reports whether the engine holds its streams.
func (e *Engine) Acquired() bool {
	return e.rx != nil
}

// Configure programs the parameters common to every transfer: byte sized
// items, fixed peripheral address, incrementing memory, priority, channel
// select and completion/error interrupts.
func (e *Engine) Configure(peripheral uint32, channel, priority uint8) {
	e.peripheral = peripheral
	e.mode = uint32(channel)<<stm32.DMA_SxCR_CHSEL_SHIFT&stm32.DMA_SxCR_CHSEL_MASK |
		uint32(priority)<<stm32.DMA_SxCR_PL_SHIFT&stm32.DMA_SxCR_PL_MASK |
		stm32.DMA_SxCR_MINC | stm32.DMA_SxCR_TCIE | stm32.DMA_SxCR_TEIE | stm32.DMA_SxCR_DMEIE
	if e.rx != nil {
		e.rx.SetPeripheral(peripheral)
		e.rx.SetMode(e.mode | stm32.DMA_SxCR_DIR_P2M)
		e.tx.SetPeripheral(peripheral)
		e.tx.SetMode(e.mode | stm32.DMA_SxCR_DIR_M2P)
	}
}

// Mode returns the common mode bits programmed by Configure.
func (e *Engine) Mode() uint32 {
	return e.mode
}

// Arm loads d into the stream for its direction and enables it. Must be
// called from interrupt context or with interrupts disabled.
func (e *Engine) Arm(d Descriptor) error {
	if e.rx == nil {
		return ErrNotAcquired
	}
	s, dir := e.rx, uint32(stm32.DMA_SxCR_DIR_P2M)
	if d.Direction == MemoryToPeripheral {
		s, dir = e.tx, stm32.DMA_SxCR_DIR_M2P
		e.txDone = d.Done
	} else {
		e.rxDone = d.Done
	}
	periph := d.Peripheral
	if periph == 0 {
		periph = e.peripheral
	}
	s.Disable()
	s.SetPeripheral(periph)
	s.SetMemory(d.Buffer)
	s.SetMode(e.mode | dir)
	s.Enable()
	return nil
}

// Disarm disables the stream serving dir.
func (e *Engine) Disarm(dir Direction) {
	if e.rx == nil {
		return
	}
	if dir == MemoryToPeripheral {
		e.tx.Disable()
		e.txDone = nil
	} else {
		e.rx.Disable()
		e.rxDone = nil
	}
}

// Abort disables both streams.
func (e *Engine) Abort() {
	e.Disarm(PeripheralToMemory)
	e.Disarm(MemoryToPeripheral)
}

// Release disables both streams and returns them to the pool.
func (e *Engine) Release() {
	if e.rx == nil {
		return
	}
	e.pool.Release(e.tx)
	e.pool.Release(e.rx)
	e.rx, e.tx = nil, nil
	e.rxDone, e.txDone = nil, nil
}

func (e *Engine) serveRx(flags Flags) {
	if done := e.rxDone; done != nil {
		done(flags)
	}
}

func (e *Engine) serveTx(flags Flags) {
	if done := e.txDone; done != nil {
		done(flags)
	}
}
