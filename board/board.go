package board

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"gohal/core"
	"gohal/dma"
	"gohal/i2c"
	"gohal/regs/kinetis"
	lpc "gohal/regs/lpc214x"
	"gohal/regs/stm32"
	"gohal/serial"
	"gohal/sim"
)

// WireBuffer is how many transmitted bytes a Wire holds before dropping.
const WireBuffer = 256

// dmaIRQ is the first interrupt line, taken by the DMA controller.
const dmaIRQ = 0

// Board is a built board: simulated chip, drivers and their registry.
type Board struct {
	Config   *Config
	SoC      *sim.SoC
	Registry *core.Registry
	DMA      *dma.Pool

	serial map[core.PeripheralID]*SerialChannel
	i2c    map[core.PeripheralID]*I2CChannel
	logger *zap.SugaredLogger
}

// SerialChannel is a UART with the wire plugged into its simulated pins.
type SerialChannel struct {
	Config ChannelConfig
	Driver *serial.Driver
	Wire   *Wire
}

// I2CChannel is an I2C bus with its simulated controller.
type I2CChannel struct {
	Config ChannelConfig
	Driver *i2c.Driver
	Bus    *sim.STM32I2C
}

// Wire is the far end of a simulated UART.
type Wire struct {
	tx      chan byte
	dropped atomic.Uint32
	receive func(b byte) bool
	space   func() int
	depth   int
}

func newWire(receive func(b byte) bool, space func() int, depth int) *Wire {
	return &Wire{tx: make(chan byte, WireBuffer), receive: receive, space: space, depth: depth}
}

func (w *Wire) transmit(b byte) {
	select {
	case w.tx <- b:
	default:
		w.dropped.Add(1)
	}
}

// Transmitted delivers the bytes the UART sends.
func (w *Wire) Transmitted() <-chan byte {
	return w.tx
}

// Dropped counts transmitted bytes lost because nobody drained the wire.
func (w *Wire) Dropped() uint32 {
	return w.dropped.Load()
}

// Space returns how many bytes the receiver FIFO can take.
func (w *Wire) Space() int {
	return w.space()
}

// Pending returns how many received bytes wait in the receiver FIFO.
func (w *Wire) Pending() int {
	return w.depth - w.space()
}

// Inject puts b on the UART's receive pin. It reports false when the
// receiver FIFO had no room.
func (w *Wire) Inject(b byte) bool {
	return w.receive(b)
}

// Build creates the simulated chip and a driver per channel and registers
// them. Nothing is started.
func Build(cfg *Config, logger *zap.SugaredLogger) (*Board, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	registry := core.NewRegistry(logger.Named("registry"))
	soc := sim.NewSoC(registry.Vectors())
	ctrl := soc.NewDMA(cfg.DMAStreams, dmaIRQ, DMAVector)
	pool := dma.NewPool(ctrl)
	if err := registry.Vectors().Register(DMAVector, core.CauseDMA, pool.Serve); err != nil {
		return nil, errors.Wrap(err, "dma vector")
	}

	b := &Board{
		Config:   cfg,
		SoC:      soc,
		Registry: registry,
		DMA:      pool,
		serial:   make(map[core.PeripheralID]*SerialChannel),
		i2c:      make(map[core.PeripheralID]*I2CChannel),
		logger:   logger,
	}
	irq := dmaIRQ + 1
	for _, ch := range cfg.Channels {
		var err error
		switch ch.Kind {
		case KindSerial:
			err = b.buildSerial(ch, irq)
			irq++
		case KindI2C:
			err = b.buildI2C(ch, ctrl, irq)
			irq += 2
		default:
			err = errors.Errorf("unknown kind %q", ch.Kind)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "channel %q", ch.Name)
		}
	}
	ctrl.IRQ().Enable(0)
	return b, nil
}

func (b *Board) buildSerial(ch ChannelConfig, irq int) error {
	var (
		port serial.Port
		line *sim.Line
		gate core.ClockGate
		wire *Wire
	)
	switch ch.Family {
	case FamilyLPC214x:
		masks := []uint32{lpc.PCONP_UART0, lpc.PCONP_UART1}
		if ch.Instance < 0 || ch.Instance >= len(masks) {
			return errors.Errorf("no UART%d", ch.Instance)
		}
		dev, l := b.SoC.NewLPCUART(irq, ch.ID)
		wire = newWire(func(c byte) bool { return dev.Receive(c) == 1 }, dev.RxSpace, lpc.FIFOSize)
		dev.OnTransmit = wire.transmit
		port, line = &serial.LPC214x{Regs: dev}, l
		gate = core.ClockGate{Regs: b.SoC.SysCtl, Reg: lpc.PCONP, Mask: masks[ch.Instance]}
	case FamilyKinetis:
		masks := []uint32{kinetis.SCGC4_UART0, kinetis.SCGC4_UART1, kinetis.SCGC4_UART2}
		if ch.Instance < 0 || ch.Instance >= len(masks) {
			return errors.Errorf("no UART%d", ch.Instance)
		}
		dev, l := b.SoC.NewKinetisUART(irq, ch.ID)
		wire = newWire(func(c byte) bool { return dev.Receive(c, 0) }, dev.RxSpace, 1)
		dev.OnTransmit = wire.transmit
		port, line = &serial.Kinetis{Regs: dev}, l
		gate = core.ClockGate{Regs: b.SoC.SysCtl, Reg: kinetis.SIM_SCGC4, Mask: masks[ch.Instance]}
	default:
		return errors.Errorf("no serial port on family %q", ch.Family)
	}

	drv := serial.New(ch.ID, ch.Name, serial.Hardware{
		Port:        port,
		Clock:       gate,
		IRQ:         line,
		ClockHz:     ch.ClockHz,
		IRQPriority: ch.IRQPriority,
	}, serial.WithLogger(b.logger.Named(ch.Name)), serial.WithQueueSize(ch.QueueSize, ch.QueueSize))
	if err := b.Registry.Vectors().Register(ch.ID, core.CauseGeneral, drv.ServeInterrupt); err != nil {
		return err
	}
	if err := b.Registry.Register(drv); err != nil {
		return err
	}
	b.serial[ch.ID] = &SerialChannel{Config: ch, Driver: drv, Wire: wire}
	return nil
}

func (b *Board) buildI2C(ch ChannelConfig, ctrl *sim.DMA, irq int) error {
	bases := map[int]uint32{1: stm32.I2C1Base, 2: stm32.I2C2Base}
	masks := map[int]uint32{1: stm32.APB1ENR_I2C1EN, 2: stm32.APB1ENR_I2C2EN}
	base, ok := bases[ch.Instance]
	if !ok {
		return errors.Errorf("no I2C%d", ch.Instance)
	}
	family := i2c.STM32F1
	if ch.Family == FamilySTM32F4 {
		family = i2c.STM32F4
	}

	dev, ev, er := b.SoC.NewSTM32I2C(base, ctrl, irq, irq+1, ch.ID)
	for _, d := range ch.Devices {
		switch d.Kind {
		case "", "memory":
			dev.Attach(d.Addr, sim.NewMemorySlave())
		default:
			return errors.Errorf("unknown device kind %q at 0x%02x", d.Kind, d.Addr)
		}
	}

	drv := i2c.New(ch.ID, ch.Name, i2c.Hardware{
		Regs:         dev,
		Family:       family,
		Clock:        core.ClockGate{Regs: b.SoC.SysCtl, Reg: stm32.RCC_APB1ENR, Mask: masks[ch.Instance]},
		EventIRQ:     ev,
		ErrorIRQ:     er,
		ClockHz:      ch.ClockHz,
		IRQPriority:  ch.IRQPriority,
		DMA:          dma.NewEngine(b.DMA, dma.StreamID(ch.DMA.RX), dma.StreamID(ch.DMA.TX)),
		DataRegister: base + uint32(stm32.DR),
		DMAChannel:   ch.DMA.Channel,
		DMAPriority:  ch.DMA.Priority,
	}, i2c.WithLogger(b.logger.Named(ch.Name)))
	vectors := b.Registry.Vectors()
	if err := vectors.Register(ch.ID, core.CauseEvent, drv.ServeEvent); err != nil {
		return err
	}
	if err := vectors.Register(ch.ID, core.CauseError, drv.ServeError); err != nil {
		return err
	}
	if err := b.Registry.Register(drv); err != nil {
		return err
	}
	b.i2c[ch.ID] = &I2CChannel{Config: ch, Driver: drv, Bus: dev}
	return nil
}

// Serial returns the serial channel at id.
func (b *Board) Serial(id core.PeripheralID) (*SerialChannel, error) {
	ch, ok := b.serial[id]
	if !ok {
		return nil, errors.Wrapf(core.ErrUnknownPeripheral, "no serial channel %d", id)
	}
	return ch, nil
}

// I2C returns the I2C channel at id.
func (b *Board) I2C(id core.PeripheralID) (*I2CChannel, error) {
	ch, ok := b.i2c[id]
	if !ok {
		return nil, errors.Wrapf(core.ErrUnknownPeripheral, "no i2c channel %d", id)
	}
	return ch, nil
}

// Start starts interrupt delivery and every channel with the configuration
// decoded from its attributes. If any channel fails the started ones are
// stopped again.
func (b *Board) Start() error {
	b.SoC.Start()
	for _, ch := range b.Config.Channels {
		err := b.startChannel(ch)
		if err == nil {
			continue
		}
		err = errors.Wrapf(err, "start %s", ch.Name)
		b.logger.Warnw("board start failed", "board", b.Config.Name, "error", err)
		return multierr.Append(err, b.Registry.Teardown())
	}
	b.logger.Debugw("board started", "board", b.Config.Name, "channels", len(b.Config.Channels))
	return nil
}

func (b *Board) startChannel(ch ChannelConfig) error {
	switch ch.Kind {
	case KindSerial:
		cfg, err := ch.SerialConfig()
		if err != nil {
			return err
		}
		return b.serial[ch.ID].Driver.Start(cfg)
	case KindI2C:
		cfg, err := ch.I2CConfig()
		if err != nil {
			return err
		}
		return b.i2c[ch.ID].Driver.Start(cfg)
	}
	return errors.Errorf("unknown kind %q", ch.Kind)
}

// Close stops every channel and interrupt delivery.
func (b *Board) Close() error {
	err := b.Registry.Teardown()
	b.SoC.Close()
	return err
}
