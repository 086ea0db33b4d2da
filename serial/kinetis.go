package serial

import (
	"gohal/core"
	"gohal/regs/kinetis"
)

// Kinetis is the Port of the Kinetis K20 UARTs. Only 8 data bits and one
// stop bit are supported.
type Kinetis struct {
	Regs core.RegisterFile

	s1 uint32 // status read by the last Pending
}

// KinetisDivisor returns the baud divisor in 1/32 units: SBR in bits 5..17
// and BRFA in bits 0..4.
func KinetisDivisor(clockHz, speed uint32) (uint32, error) {
	if speed == 0 {
		return 0, core.Contractf("serial speed must be positive")
	}
	div := (uint64(clockHz)*2 + 1) / uint64(speed)
	if sbr := div >> 5; sbr == 0 || sbr > 0x1FFF {
		return 0, core.Contractf("baud divisor %d for %d baud at %d Hz out of range", sbr, speed, clockHz)
	}
	return uint32(div), nil
}

func (p *Kinetis) Validate(cfg Config, clockHz uint32) error {
	if cfg.WordLength != 8 {
		return core.Contractf("word length %d unsupported, only 8", cfg.WordLength)
	}
	if cfg.StopBits != 1 {
		return core.Contractf("stop bits %d unsupported, only 1", cfg.StopBits)
	}
	_, err := KinetisDivisor(clockHz, cfg.Speed)
	return err
}

func (p *Kinetis) Init(cfg Config, clockHz uint32) {
	div, _ := KinetisDivisor(clockHz, cfg.Speed)
	u := p.Regs
	core.ClearBits(u, kinetis.C2, kinetis.C2_RE|kinetis.C2_TE)

	var c1 uint32
	switch cfg.Parity {
	case ParityEven:
		c1 = kinetis.C1_M | kinetis.C1_PE
	case ParityOdd:
		c1 = kinetis.C1_M | kinetis.C1_PE | kinetis.C1_PT
	}
	u.Write(kinetis.C1, c1)

	u.Write(kinetis.BDH, div>>13&kinetis.BDH_SBR_MASK)
	u.Write(kinetis.BDL, div>>5&0xFF)
	u.Write(kinetis.C4, u.Read(kinetis.C4)&^kinetis.C4_BRFA_MASK|div&kinetis.C4_BRFA_MASK)

	u.Write(kinetis.C3, kinetis.C3_ORIE|kinetis.C3_NEIE|kinetis.C3_FEIE|kinetis.C3_PEIE)
	u.Write(kinetis.C2, kinetis.C2_RE|kinetis.C2_RIE|kinetis.C2_TE)
}

func (p *Kinetis) Deinit() {
	p.Regs.Write(kinetis.C2, 0)
	p.Regs.Write(kinetis.C3, 0)
}

func (p *Kinetis) Pending() Cause {
	s1 := p.Regs.Read(kinetis.S1)
	p.s1 = s1
	var c Cause
	if s1&(kinetis.S1_OR|kinetis.S1_NF|kinetis.S1_FE|kinetis.S1_PF) != 0 {
		c |= CauseError
	}
	if s1&kinetis.S1_RDRF != 0 {
		c |= CauseRx
	}
	if s1&kinetis.S1_TDRE != 0 && p.TxInterruptEnabled() {
		c |= CauseTx
	}
	return c
}

func kinetisErrors(s1 uint32) core.ErrorFlags {
	var f core.ErrorFlags
	if s1&kinetis.S1_OR != 0 {
		f |= core.Overrun
	}
	// noise has no portable flag of its own
	if s1&(kinetis.S1_NF|kinetis.S1_FE) != 0 {
		f |= core.Framing
	}
	if s1&kinetis.S1_PF != 0 {
		f |= core.Parity
	}
	return f
}

// LineErrors completes the S1-then-D clear sequence. When a byte is
// waiting the receive path reads D instead.
func (p *Kinetis) LineErrors() core.ErrorFlags {
	if p.s1&kinetis.S1_RDRF == 0 {
		p.Regs.Read(kinetis.D)
	}
	return kinetisErrors(p.s1)
}

func (p *Kinetis) RxReady() (bool, core.ErrorFlags) {
	s1 := p.Regs.Read(kinetis.S1)
	return s1&kinetis.S1_RDRF != 0, kinetisErrors(s1)
}

func (p *Kinetis) ReadData() byte {
	return byte(p.Regs.Read(kinetis.D))
}

func (p *Kinetis) TxReady() bool {
	return p.Regs.Read(kinetis.S1)&kinetis.S1_TDRE != 0
}

func (p *Kinetis) WriteData(b byte) {
	p.Regs.Write(kinetis.D, uint32(b))
}

func (p *Kinetis) SetTxInterrupt(on bool) {
	if on {
		core.SetBits(p.Regs, kinetis.C2, kinetis.C2_TIE)
	} else {
		core.ClearBits(p.Regs, kinetis.C2, kinetis.C2_TIE)
	}
}

func (p *Kinetis) TxInterruptEnabled() bool {
	return p.Regs.Read(kinetis.C2)&kinetis.C2_TIE != 0
}

func (p *Kinetis) Acknowledge() {
	p.Regs.Read(kinetis.S1)
	p.Regs.Read(kinetis.D)
}

func (p *Kinetis) FIFODepth() int {
	return 1
}
