package i2c

import (
	"gohal/core"
	"gohal/regs/stm32"
)

// Family is an STM32 line sharing the I2C block with a different APB1
// clock ceiling.
type Family struct {
	Name        string
	MaxClockMHz uint32
}

var (
	STM32F1 = Family{Name: "stm32f1", MaxClockMHz: 36}
	STM32F4 = Family{Name: "stm32f4", MaxClockMHz: 42}
)

// Speed limits.
const (
	StandardModeMax = 100000
	FastModeMax     = 400000
)

// Timing is the clock control programming for one bus speed.
type Timing struct {
	FreqMHz uint32 // CR2.FREQ
	CCR     uint32 // CCR register including FS and DUTY
	TRISE   uint32
}

// Divider returns the 12-bit CCR field.
func (t Timing) Divider() uint32 {
	return t.CCR & stm32.CCR_CCR
}

func divRound(a, b uint64) uint32 {
	return uint32((a + b/2) / b)
}

// ComputeTiming derives the CCR and TRISE values for speed on a peripheral
// clocked at pclkHz. It touches no hardware.
func ComputeTiming(pclkHz, speed uint32, duty Duty, family Family) (Timing, error) {
	freq := pclkHz / 1000000
	if freq < 2 || freq > family.MaxClockMHz {
		return Timing{}, core.Contractf("%s peripheral clock %d MHz not in 2..%d", family.Name, freq, family.MaxClockMHz)
	}
	if speed == 0 || speed > FastModeMax {
		return Timing{}, core.Contractf("bus speed %d Hz not in 1..%d", speed, FastModeMax)
	}

	t := Timing{FreqMHz: freq}
	var div uint32
	if speed <= StandardModeMax {
		if duty != DutyStandard {
			return Timing{}, core.Contractf("duty %s needs a speed above %d Hz", duty, StandardModeMax)
		}
		div = divRound(uint64(pclkHz), 2*uint64(speed))
		if div < 4 {
			div = 4
		}
		t.TRISE = freq + 1
	} else {
		switch duty {
		case DutyFast2:
			div = divRound(uint64(pclkHz), 3*uint64(speed))
		case DutyFast16_9:
			div = divRound(uint64(pclkHz), 25*uint64(speed))
			t.CCR |= stm32.CCR_DUTY
		default:
			return Timing{}, core.Contractf("duty %s at %d Hz, fast mode needs fast-2 or fast-16:9", duty, speed)
		}
		if div < 1 {
			div = 1
		}
		t.CCR |= stm32.CCR_FS
		t.TRISE = freq*300/1000 + 1
	}
	if div > stm32.CCR_CCR {
		return Timing{}, core.Contractf("clock divider %d exceeds %d", div, stm32.CCR_CCR)
	}
	t.CCR |= div
	return t, nil
}

// Apply programs t. PE is cleared while CCR and TRISE are written and then
// restored to its previous value.
func (t Timing) Apply(regs core.RegisterFile) {
	cr1 := regs.Read(stm32.CR1)
	regs.Write(stm32.CR1, cr1&^stm32.CR1_PE)
	regs.Write(stm32.CR2, regs.Read(stm32.CR2)&^stm32.CR2_FREQ|t.FreqMHz)
	regs.Write(stm32.CCR, t.CCR)
	regs.Write(stm32.TRISE, t.TRISE&stm32.TRISE_MASK)
	regs.Write(stm32.CR1, cr1)
}

// applyOpMode selects I2C or SMBus operation.
func applyOpMode(regs core.RegisterFile, mode OpMode) {
	cr1 := regs.Read(stm32.CR1) &^ (stm32.CR1_SMBUS | stm32.CR1_SMBTYPE)
	switch mode {
	case OpModeSMBusDevice:
		cr1 |= stm32.CR1_SMBUS
	case OpModeSMBusHost:
		cr1 |= stm32.CR1_SMBUS | stm32.CR1_SMBTYPE
	}
	regs.Write(stm32.CR1, cr1)
}
