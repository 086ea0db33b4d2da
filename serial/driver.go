// Package serial is the interrupt-driven, queue-buffered UART driver.
//
// Received bytes flow from the hardware FIFO into the input queue from
// interrupt context; written bytes flow from the output queue into the
// transmitter, preloaded from thread context and refilled on TX-empty
// interrupts. Line errors accumulate in the channel status.
package serial

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"gohal/core"
)

// Default sizes.
const (
	DefaultQueueSize = 16
	DefaultMaxVisits = 32
)

// Hardware is everything a Driver touches outside itself.
type Hardware struct {
	Port        Port
	Clock       core.ClockGate
	IRQ         core.IRQLine
	ClockHz     uint32
	IRQPriority uint8
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the driver logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

// WithQueueSize sets the input and output queue capacities.
func WithQueueSize(in, out int) Option {
	return func(d *Driver) {
		d.inSize, d.outSize = in, out
	}
}

// WithMaxVisits bounds the dispatcher iterations per interrupt.
func WithMaxVisits(n int) Option {
	return func(d *Driver) {
		d.maxVisits = n
	}
}

// Driver is one serial channel.
type Driver struct {
	id   core.PeripheralID
	name string
	hw   Hardware

	mu     sync.Mutex // serializes Start and Stop
	life   core.Lifecycle
	status core.Status
	queues core.QueuePair
	cfg    Config

	inSize, outSize int
	maxVisits       int
	logger          *zap.SugaredLogger
}

// New creates a stopped channel. Queues are allocated here, never after.
func New(id core.PeripheralID, name string, hw Hardware, opts ...Option) *Driver {
	d := &Driver{
		id:        id,
		name:      name,
		hw:        hw,
		inSize:    DefaultQueueSize,
		outSize:   DefaultQueueSize,
		maxVisits: DefaultMaxVisits,
		logger:    zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queues = core.NewQueuePair(d.inSize, d.outSize, d.kick)
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

// Events is the channel's event source.
func (d *Driver) Events() *core.EventSource {
	return &d.status.Events
}

// Errors returns and clears the accumulated line errors.
func (d *Driver) Errors() core.ErrorFlags {
	return d.status.Errors()
}

// Fatal returns and clears a fatal condition reported by the interrupt
// handler, logging it.
func (d *Driver) Fatal() error {
	err := d.status.Fatal()
	if err != nil {
		d.logger.Errorw("serial fatal", "name", d.name, "error", err)
	}
	return err
}

// Start validates cfg, ungates the clock, programs the line and enables the
// interrupt. On error nothing was touched.
func (d *Driver) Start(cfg Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.life.CheckStart(); err != nil {
		d.logger.Warnw("serial start rejected", "name", d.name, "error", err)
		return errors.Wrap(err, d.name)
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, d.name)
	}
	if err := d.hw.Port.Validate(cfg, d.hw.ClockHz); err != nil {
		return errors.Wrap(err, d.name)
	}

	d.hw.Clock.Enable()
	d.queues.Reset()
	state := core.DisableInterrupts()
	d.status.ResetFromISR()
	d.hw.Port.Init(cfg, d.hw.ClockHz)
	core.RestoreInterrupts(state)
	d.cfg = cfg
	d.life.Started()
	if d.hw.IRQ != nil {
		d.hw.IRQ.Enable(d.hw.IRQPriority)
	}
	d.logger.Debugw("serial started", "name", d.name, "speed", cfg.Speed)
	return nil
}

// Stop disables the interrupt, resets the line and gates the clock.
// Stopping a stopped channel does nothing.
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
	if d.hw.IRQ != nil {
		d.hw.IRQ.Disable()
	}
	state := core.DisableInterrupts()
	d.hw.Port.Deinit()
	core.RestoreInterrupts(state)
	d.hw.Clock.Disable()
	d.logger.Debugw("serial stopped", "name", d.name)
	return nil
}

// Read fills p from the input queue, blocking until ctx is done.
func (d *Driver) Read(ctx context.Context, p []byte) (int, error) {
	if d.life.State() == core.StateStop {
		return 0, errors.Wrap(core.ErrNotStarted, d.name)
	}
	return d.queues.In.Read(ctx, p)
}

// Write queues all of p for transmission, blocking while the output queue
// is full until ctx is done.
func (d *Driver) Write(ctx context.Context, p []byte) (int, error) {
	if d.life.State() == core.StateStop {
		return 0, errors.Wrap(core.ErrNotStarted, d.name)
	}
	return d.queues.Out.Write(ctx, p)
}

// ReadByte returns one received byte or core.ErrQueueEmpty.
func (d *Driver) ReadByte() (byte, error) {
	return d.queues.In.TryGet()
}

// WriteByte queues one byte or returns core.ErrQueueFull.
func (d *Driver) WriteByte(b byte) error {
	if d.life.State() == core.StateStop {
		return errors.Wrap(core.ErrNotStarted, d.name)
	}
	return d.queues.Out.TryPut(b)
}

// Buffered returns the number of received bytes waiting in the input queue.
func (d *Driver) Buffered() int {
	return d.queues.In.Len()
}

// InputFree returns how many more received bytes the input queue can take.
func (d *Driver) InputFree() int {
	return d.queues.In.Free()
}

// kick preloads the transmitter after bytes were queued.
func (d *Driver) kick() {
	state := core.DisableInterrupts()
	defer core.RestoreInterrupts(state)

	port := d.hw.Port
	if d.life.StateFromISR() == core.StateStop || port.TxInterruptEnabled() {
		return
	}
	wrote := 0
	if port.TxReady() {
		for wrote < port.FIFODepth() {
			b, err := d.queues.Out.GetFromISR()
			if err != nil {
				break
			}
			port.WriteData(b)
			wrote++
		}
	}
	if wrote > 0 || d.queues.Out.LenFromISR() > 0 {
		port.SetTxInterrupt(true)
	}
}

// ServeInterrupt is the channel's interrupt handler.
func (d *Driver) ServeInterrupt() {
	port := d.hw.Port
	var errs core.ErrorFlags
	var events core.EventFlags
	for visits := 0; ; visits++ {
		if visits == d.maxVisits {
			d.status.FailFromISR(core.ErrInterruptStorm)
			break
		}
		cause := port.Pending()
		if cause == 0 {
			break
		}
		if cause&CauseError != 0 {
			errs |= port.LineErrors()
		}
		if cause&CauseRx != 0 {
			e, ev := d.serveRx()
			errs |= e
			events |= ev
		}
		if cause&CauseTx != 0 {
			events |= d.serveTx()
		}
		if cause&CauseOther != 0 {
			port.Acknowledge()
		}
	}
	d.status.RaiseFromISR(errs, events)
}

func (d *Driver) serveRx() (core.ErrorFlags, core.EventFlags) {
	port := d.hw.Port
	var errs core.ErrorFlags
	var events core.EventFlags
	for n := 0; n < port.FIFODepth(); n++ {
		ready, e := port.RxReady()
		errs |= e
		if !ready {
			break
		}
		wasEmpty, err := d.queues.In.PutFromISR(port.ReadData())
		if err != nil {
			errs |= core.Overrun
		} else if wasEmpty {
			events |= core.EventInputAvailable
		}
	}
	return errs, events
}

func (d *Driver) serveTx() core.EventFlags {
	port := d.hw.Port
	for n := 0; n < port.FIFODepth(); n++ {
		b, err := d.queues.Out.GetFromISR()
		if err != nil {
			port.SetTxInterrupt(false)
			return core.EventOutputEmpty
		}
		port.WriteData(b)
	}
	if !port.TxInterruptEnabled() {
		port.SetTxInterrupt(true)
	}
	return 0
}
