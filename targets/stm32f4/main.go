//go:build tinygo && stm32f4

// Firmware for STM32F4 boards: I2C1 on PB6/PB7 with DMA1, reading an
// ADXL345 accelerometer through the tinygo.org/x/drivers bus interface.
package main

import (
	"device/stm32"
	"machine"
	"runtime/interrupt"
	"time"

	"go.uber.org/zap/zapcore"
	"tinygo.org/x/drivers/adxl345"

	"gohal/core"
	"gohal/dma"
	"gohal/i2c"
	regs "gohal/regs/stm32"
)

const (
	i2c1ID    core.PeripheralID = 1
	dmaVector core.PeripheralID = core.MaxPeripherals - 1
	pclk1                       = 42000000
)

var (
	registry *core.Registry
	pool     *dma.Pool
)

// irqLine adapts a TinyGo interrupt to core.IRQLine.
type irqLine struct {
	intr interrupt.Interrupt
}

func (l irqLine) Enable(priority uint8) {
	l.intr.SetPriority(priority)
	l.intr.Enable()
}

func (l irqLine) Disable() {
	l.intr.Disable()
}

func main() {
	core.SetDebugWriter(func(s string) { println(s) })
	logger := core.NewLogger(zapcore.InfoLevel)
	registry = core.NewRegistry(logger)
	vectors := registry.Vectors()

	pool = dma.NewPool(newDMAController(regs.DMA1Base))
	if err := vectors.Register(dmaVector, core.CauseDMA, pool.Serve); err != nil {
		logger.Fatalw("dma vector", "error", err)
	}
	interrupt.New(stm32.IRQ_DMA1_Stream0, func(interrupt.Interrupt) {
		registry.Vectors().Dispatch(dmaVector, core.CauseDMA)
	}).Enable()
	interrupt.New(stm32.IRQ_DMA1_Stream6, func(interrupt.Interrupt) {
		registry.Vectors().Dispatch(dmaVector, core.CauseDMA)
	}).Enable()

	machine.PB6.ConfigureAltFunc(machine.PinConfig{Mode: machine.PinModeI2CSCL}, 4)
	machine.PB7.ConfigureAltFunc(machine.PinConfig{Mode: machine.PinModeI2CSDA}, 4)

	ev := interrupt.New(stm32.IRQ_I2C1_EV, func(interrupt.Interrupt) {
		registry.Vectors().Dispatch(i2c1ID, core.CauseEvent)
	})
	er := interrupt.New(stm32.IRQ_I2C1_ER, func(interrupt.Interrupt) {
		registry.Vectors().Dispatch(i2c1ID, core.CauseError)
	})
	bus := i2c.New(i2c1ID, "i2c1", i2c.Hardware{
		Regs:         mmio{base: regs.I2C1Base},
		Family:       i2c.STM32F4,
		Clock:        core.ClockGate{Regs: mmio{}, Reg: regs.RCC_APB1ENR_F4, Mask: regs.APB1ENR_I2C1EN},
		EventIRQ:     irqLine{ev},
		ErrorIRQ:     irqLine{er},
		ClockHz:      pclk1,
		IRQPriority:  0xC0,
		DMA:          dma.NewEngine(pool, 0, 6),
		DataRegister: regs.I2C1Base + uint32(regs.DR),
		DMAChannel:   1,
		DMAPriority:  2,
	}, i2c.WithLogger(logger.Named("i2c1")))
	if err := vectors.Register(i2c1ID, core.CauseEvent, bus.ServeEvent); err != nil {
		logger.Fatalw("i2c1 event vector", "error", err)
	}
	if err := vectors.Register(i2c1ID, core.CauseError, bus.ServeError); err != nil {
		logger.Fatalw("i2c1 error vector", "error", err)
	}
	if err := registry.Register(bus); err != nil {
		logger.Fatalw("register i2c1", "error", err)
	}

	cfg := i2c.DefaultConfig()
	cfg.Speed = 400000
	cfg.Duty = i2c.DutyFast2
	if err := bus.Start(cfg); err != nil {
		logger.Fatalw("start i2c1", "error", err)
	}

	sensor := adxl345.New(bus)
	sensor.Configure()
	sensor.SetRange(adxl345.RANGE_16G)
	for {
		x, y, z := sensor.ReadRawAcceleration()
		logger.Infow("accel", "x", x, "y", y, "z", z)
		if errs := bus.Errors(); errs != 0 {
			logger.Warnw("i2c1 errors", "errors", errs)
		}
		time.Sleep(100 * time.Millisecond)
	}
}
