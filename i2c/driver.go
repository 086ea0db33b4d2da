// Package i2c is the STM32 I2C master driver. Addressing runs on the event
// interrupt, payload moves by DMA and bus faults are collected by the error
// interrupt, which aborts the transfer in flight.
package i2c

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"gohal/core"
	"gohal/dma"
	"gohal/regs/stm32"
)

// Defaults.
const (
	DefaultStopSpinLimit = 1000
	DefaultMaxVisits     = 16
)

// Hardware is everything a Driver touches outside itself.
type Hardware struct {
	Regs        core.RegisterFile
	Family      Family
	Clock       core.ClockGate
	EventIRQ    core.IRQLine
	ErrorIRQ    core.IRQLine
	ClockHz     uint32
	IRQPriority uint8

	DMA          *dma.Engine
	DataRegister uint32 // bus address of DR
	DMAChannel   uint8
	DMAPriority  uint8
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the driver logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

// WithStopSpinLimit bounds the CR1.STOP polling after an ack failure.
func WithStopSpinLimit(n int) Option {
	return func(d *Driver) {
		d.stopSpin = n
	}
}

// WithMaxVisits bounds the loop iterations per interrupt.
func WithMaxVisits(n int) Option {
	return func(d *Driver) {
		d.maxVisits = n
	}
}

type phase uint8

const (
	phaseIdle phase = iota
	phaseStartTx
	phaseAddrTx
	phaseDataTx
	phaseStartRx
	phaseAddrRx
	phaseDataRx
)

// transfer is the master transfer in flight, shared with the interrupt
// handlers under the critical section.
type transfer struct {
	addr  uint8
	tx    []byte
	rx    []byte
	phase phase
}

type result struct {
	flags core.ErrorFlags
	err   error
}

// Driver is one I2C bus.
type Driver struct {
	id   core.PeripheralID
	name string
	hw   Hardware

	mu     sync.Mutex // serializes Start and Stop
	xferMu sync.Mutex // serializes transfers
	life   core.Lifecycle
	status core.Status
	cfg    Config
	timing Timing

	xfer transfer
	done chan result
	onRx dma.Callback
	onTx dma.Callback

	stopSpin  int
	maxVisits int
	logger    *zap.SugaredLogger
}

// New creates a stopped bus.
func New(id core.PeripheralID, name string, hw Hardware, opts ...Option) *Driver {
	d := &Driver{
		id:        id,
		name:      name,
		hw:        hw,
		done:      make(chan result, 1),
		stopSpin:  DefaultStopSpinLimit,
		maxVisits: DefaultMaxVisits,
		logger:    zap.NewNop().Sugar(),
	}
	d.onRx = d.rxDMAFromISR
	d.onTx = d.txDMAFromISR
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) ID() core.PeripheralID    { return d.id }
func (d *Driver) Name() string             { return d.name }
func (d *Driver) State() core.ChannelState { return d.life.State() }

// Config returns the configuration applied by the last Start.
func (d *Driver) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Timing returns the clock programming applied by the last Start.
func (d *Driver) Timing() Timing {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timing
}

// Events is the bus event source.
func (d *Driver) Events() *core.EventSource {
	return &d.status.Events
}

// Errors returns and clears the accumulated bus errors.
func (d *Driver) Errors() core.ErrorFlags {
	return d.status.Errors()
}

// Fatal returns and clears a fatal condition reported by the interrupt
// handlers, logging it.
func (d *Driver) Fatal() error {
	err := d.status.Fatal()
	if err != nil {
		d.logger.Errorw("i2c fatal", "name", d.name, "error", err)
	}
	return err
}

// Start validates cfg, takes the DMA streams, ungates the clock, programs
// timing and enables the interrupts. On error nothing is held or touched.
func (d *Driver) Start(cfg Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.life.CheckStart(); err != nil {
		d.logger.Warnw("i2c start rejected", "name", d.name, "error", err)
		return errors.Wrap(err, d.name)
	}
	timing, err := ComputeTiming(d.hw.ClockHz, cfg.Speed, cfg.Duty, d.hw.Family)
	if err != nil {
		return errors.Wrap(err, d.name)
	}
	if cfg.OpMode > OpModeSMBusHost {
		return errors.Wrapf(core.ErrContract, "%s: op mode %d", d.name, cfg.OpMode)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if err := d.hw.DMA.Acquire(); err != nil {
		d.logger.Warnw("i2c dma unavailable", "name", d.name, "error", err)
		return errors.Wrap(err, d.name)
	}

	regs := d.hw.Regs
	d.hw.Clock.Enable()
	state := core.DisableInterrupts()
	d.status.ResetFromISR()
	d.xfer = transfer{}
	regs.Write(stm32.CR1, stm32.CR1_SWRST)
	regs.Write(stm32.CR1, 0)
	d.hw.DMA.Configure(d.hw.DataRegister, d.hw.DMAChannel, d.hw.DMAPriority)
	timing.Apply(regs)
	applyOpMode(regs, cfg.OpMode)
	regs.Write(stm32.CR2, regs.Read(stm32.CR2)|stm32.CR2_ITERREN|stm32.CR2_ITEVTEN|stm32.CR2_DMAEN)
	core.SetBits(regs, stm32.CR1, stm32.CR1_PE)
	core.RestoreInterrupts(state)

	d.cfg = cfg
	d.timing = timing
	d.life.Started()
	if d.hw.EventIRQ != nil {
		d.hw.EventIRQ.Enable(d.hw.IRQPriority)
	}
	if d.hw.ErrorIRQ != nil {
		d.hw.ErrorIRQ.Enable(d.hw.IRQPriority)
	}
	d.logger.Debugw("i2c started", "name", d.name, "speed", cfg.Speed, "duty", cfg.Duty, "ccr", timing.CCR)
	return nil
}

// Stop disables the interrupts, disarms and releases DMA, disables the
// peripheral and gates its clock. Stopping a stopped bus does nothing;
// stopping during a transfer is rejected.
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	noop, err := d.life.BeginStop()
	if err != nil {
		return errors.Wrap(err, d.name)
	}
	if noop {
		return nil
	}
	if d.hw.EventIRQ != nil {
		d.hw.EventIRQ.Disable()
	}
	if d.hw.ErrorIRQ != nil {
		d.hw.ErrorIRQ.Disable()
	}
	state := core.DisableInterrupts()
	d.hw.DMA.Abort()
	d.hw.Regs.Write(stm32.CR1, 0)
	d.hw.Regs.Write(stm32.CR2, 0)
	core.RestoreInterrupts(state)
	d.hw.DMA.Release()
	d.hw.Clock.Disable()
	d.logger.Debugw("i2c stopped", "name", d.name)
	return nil
}

// MasterTransceive writes tx to the 7-bit address addr and then, after a
// repeated START, reads len(rx) bytes. Either may be empty; both empty
// addresses the slave only. It blocks until the transfer ends or ctx is
// done. Bus faults return a *TransferError.
func (d *Driver) MasterTransceive(ctx context.Context, addr uint16, tx, rx []byte) error {
	if addr > 0x7F {
		return errors.Wrapf(core.ErrContract, "%s: address 0x%x is not 7-bit", d.name, addr)
	}
	d.xferMu.Lock()
	defer d.xferMu.Unlock()

	if err := d.life.Acquire(); err != nil {
		return errors.Wrap(err, d.name)
	}
	select {
	case <-d.done:
	default:
	}

	regs := d.hw.Regs
	state := core.DisableInterrupts()
	if err := d.waitStop(); err != nil {
		d.life.ReleaseFromISR()
		core.RestoreInterrupts(state)
		return errors.Wrap(err, d.name)
	}
	d.xfer = transfer{addr: uint8(addr), tx: tx, rx: rx, phase: phaseStartTx}
	if len(tx) == 0 && len(rx) > 0 {
		d.xfer.phase = phaseStartRx
	}
	core.ClearBits(regs, stm32.CR2, stm32.CR2_LAST)
	core.SetBits(regs, stm32.CR1, stm32.CR1_START|stm32.CR1_ACK)
	core.RestoreInterrupts(state)

	select {
	case res := <-d.done:
		d.release()
		return d.result(uint8(addr), res)
	case <-ctx.Done():
	}

	state = core.DisableInterrupts()
	if d.xfer.phase == phaseIdle {
		// finished while the deadline fired
		core.RestoreInterrupts(state)
		res := <-d.done
		d.release()
		return d.result(uint8(addr), res)
	}
	d.xfer = transfer{}
	d.hw.DMA.Abort()
	stopErr := d.busStop()
	d.life.ReleaseFromISR()
	core.RestoreInterrupts(state)

	d.logger.Debugw("i2c transfer timed out", "name", d.name, "addr", addr)
	return multierr.Append(errors.Wrapf(ctx.Err(), "%s: transfer to 0x%02x", d.name, addr), stopErr)
}

// MasterTransmit writes tx to addr.
func (d *Driver) MasterTransmit(ctx context.Context, addr uint16, tx []byte) error {
	return d.MasterTransceive(ctx, addr, tx, nil)
}

// MasterReceive reads len(rx) bytes from addr.
func (d *Driver) MasterReceive(ctx context.Context, addr uint16, rx []byte) error {
	return d.MasterTransceive(ctx, addr, nil, rx)
}

func (d *Driver) release() {
	state := core.DisableInterrupts()
	d.life.ReleaseFromISR()
	core.RestoreInterrupts(state)
}

func (d *Driver) result(addr uint8, res result) error {
	var err error
	if res.flags != 0 {
		err = &TransferError{Addr: addr, Flags: res.flags}
	}
	err = multierr.Append(err, res.err)
	if fatal := d.Fatal(); fatal != nil {
		err = multierr.Append(err, fatal)
	}
	return err
}

// finishFromISR ends the transfer in flight and hands res to the waiter.
// It reports whether a transfer was in flight.
func (d *Driver) finishFromISR(res result) bool {
	if d.xfer.phase == phaseIdle {
		return false
	}
	d.xfer = transfer{}
	select {
	case d.done <- res:
	default:
	}
	return true
}

// busStop requests a STOP condition and waits for hardware to complete it.
func (d *Driver) busStop() error {
	core.SetBits(d.hw.Regs, stm32.CR1, stm32.CR1_STOP)
	return d.waitStop()
}

func (d *Driver) waitStop() error {
	for i := 0; d.hw.Regs.Read(stm32.CR1)&stm32.CR1_STOP != 0; i++ {
		if i >= d.stopSpin {
			return ErrBusStopTimeout
		}
	}
	return nil
}
