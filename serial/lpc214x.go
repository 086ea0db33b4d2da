package serial

import (
	"gohal/core"
	lpc "gohal/regs/lpc214x"
)

// LPC214x is the Port of the NXP LPC214x UARTs.
type LPC214x struct {
	Regs core.RegisterFile
}

// LPCDivisor returns the baud divisor latched into DLL/DLM.
func LPCDivisor(clockHz, speed uint32) (uint32, error) {
	if speed == 0 {
		return 0, core.Contractf("serial speed must be positive")
	}
	div := uint64(clockHz) / (uint64(speed) << 4)
	if div == 0 || div > 0xFFFF {
		return 0, core.Contractf("baud divisor %d for %d baud at %d Hz out of range", div, speed, clockHz)
	}
	return uint32(div), nil
}

func lpcLCR(cfg Config) uint32 {
	lcr := uint32(cfg.WordLength - 5)
	if cfg.StopBits == 2 {
		lcr |= lpc.LCR_STOP2
	}
	switch cfg.Parity {
	case ParityEven:
		lcr |= lpc.LCR_PARITY_EN | lpc.LCR_EVEN
	case ParityOdd:
		lcr |= lpc.LCR_PARITY_EN
	}
	return lcr
}

func lpcTrigger(level uint8) (uint32, bool) {
	switch level {
	case 0, 1:
		return lpc.FCR_TRIG1, true
	case 4:
		return lpc.FCR_TRIG4, true
	case 8:
		return lpc.FCR_TRIG8, true
	case 14:
		return lpc.FCR_TRIG14, true
	}
	return 0, false
}

func (p *LPC214x) Validate(cfg Config, clockHz uint32) error {
	if _, ok := lpcTrigger(cfg.FIFOTrigger); !ok {
		return core.Contractf("fifo trigger %d not 1, 4, 8 or 14", cfg.FIFOTrigger)
	}
	_, err := LPCDivisor(clockHz, cfg.Speed)
	return err
}

func (p *LPC214x) Init(cfg Config, clockHz uint32) {
	div, _ := LPCDivisor(clockHz, cfg.Speed)
	trig, _ := lpcTrigger(cfg.FIFOTrigger)
	lcr := lpcLCR(cfg)
	u := p.Regs
	u.Write(lpc.LCR, lcr|lpc.LCR_DLAB)
	u.Write(lpc.DLL, div&0xFF)
	u.Write(lpc.DLM, div>>8)
	u.Write(lpc.LCR, lcr)
	u.Write(lpc.FCR, lpc.FCR_ENABLE|lpc.FCR_RXRESET|lpc.FCR_TXRESET|trig)
	u.Write(lpc.ACR, 0)
	u.Write(lpc.FDR, 0x10)
	u.Write(lpc.TER, lpc.TER_ENABLE)
	u.Write(lpc.IER, lpc.IER_RBR|lpc.IER_STATUS)
}

func (p *LPC214x) Deinit() {
	u := p.Regs
	u.Write(lpc.LCR, lpc.LCR_DLAB)
	u.Write(lpc.DLL, 1)
	u.Write(lpc.DLM, 0)
	u.Write(lpc.LCR, 0)
	u.Write(lpc.FDR, 0x10)
	u.Write(lpc.IER, 0)
	u.Write(lpc.FCR, lpc.FCR_RXRESET|lpc.FCR_TXRESET)
	u.Write(lpc.ACR, 0)
	u.Write(lpc.TER, lpc.TER_ENABLE)
}

func (p *LPC214x) Pending() Cause {
	iir := p.Regs.Read(lpc.IIR)
	if iir&lpc.IIR_NONE != 0 {
		return 0
	}
	switch iir & lpc.IIR_MASK {
	case lpc.IIR_SRC_RLS:
		return CauseError
	case lpc.IIR_SRC_RDA, lpc.IIR_SRC_CTI:
		return CauseRx
	case lpc.IIR_SRC_THRE:
		return CauseTx
	}
	return CauseOther
}

func lpcErrors(lsr uint32) core.ErrorFlags {
	var f core.ErrorFlags
	if lsr&lpc.LSR_OE != 0 {
		f |= core.Overrun
	}
	if lsr&lpc.LSR_PE != 0 {
		f |= core.Parity
	}
	if lsr&lpc.LSR_FE != 0 {
		f |= core.Framing
	}
	if lsr&lpc.LSR_BI != 0 {
		f |= core.Break
	}
	return f
}

// LineErrors reads LSR, which clears the error bits.
func (p *LPC214x) LineErrors() core.ErrorFlags {
	return lpcErrors(p.Regs.Read(lpc.LSR))
}

func (p *LPC214x) RxReady() (bool, core.ErrorFlags) {
	lsr := p.Regs.Read(lpc.LSR)
	return lsr&lpc.LSR_RDR != 0, lpcErrors(lsr)
}

func (p *LPC214x) ReadData() byte {
	return byte(p.Regs.Read(lpc.RBR))
}

func (p *LPC214x) TxReady() bool {
	return p.Regs.Read(lpc.LSR)&lpc.LSR_THRE != 0
}

func (p *LPC214x) WriteData(b byte) {
	p.Regs.Write(lpc.THR, uint32(b))
}

func (p *LPC214x) SetTxInterrupt(on bool) {
	if on {
		core.SetBits(p.Regs, lpc.IER, lpc.IER_THRE)
	} else {
		core.ClearBits(p.Regs, lpc.IER, lpc.IER_THRE)
	}
}

func (p *LPC214x) TxInterruptEnabled() bool {
	return p.Regs.Read(lpc.IER)&lpc.IER_THRE != 0
}

func (p *LPC214x) Acknowledge() {
	p.Regs.Read(lpc.LSR)
	p.Regs.Read(lpc.RBR)
}

func (p *LPC214x) FIFODepth() int {
	return lpc.FIFOSize
}
