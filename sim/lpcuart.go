package sim

import (
	"gohal/core"
	lpc "gohal/regs/lpc214x"
)

// LPCUART models an LPC214x 16550-style UART with 16 byte FIFOs.
type LPCUART struct {
	soc *SoC
	irq int

	dll, dlm, ier, lcr, fcr uint32
	acr, fdr, ter, scr      uint32

	rx     []byte
	tx     []byte
	lsrErr uint32
	thre   bool // THRE interrupt latched

	sent       []byte
	txOverflow int

	// OnTransmit, if set, receives every byte leaving the transmitter.
	OnTransmit func(b byte)
}

// LPCRegs is the configuration visible in an LPCUART's registers.
type LPCRegs struct {
	DLL, DLM, IER, LCR, FCR, ACR, FDR, TER uint32
}

// NewLPCUART adds a UART on irq bound to vector id.
func (s *SoC) NewLPCUART(irq int, id core.PeripheralID) (*LPCUART, *Line) {
	u := &LPCUART{soc: s, irq: irq, dll: 1, ter: lpc.TER_ENABLE}
	return u, s.NVIC.Connect(irq, id, core.CauseGeneral, u.level)
}

func (u *LPCUART) dlab() bool {
	return u.lcr&lpc.LCR_DLAB != 0
}

func (u *LPCUART) trigger() int {
	switch u.fcr & 0xC0 {
	case lpc.FCR_TRIG4:
		return 4
	case lpc.FCR_TRIG8:
		return 8
	case lpc.FCR_TRIG14:
		return 14
	}
	return 1
}

// iir computes the highest priority pending source. Caller holds the lock.
func (u *LPCUART) iir() uint32 {
	fifo := uint32(0)
	if u.fcr&lpc.FCR_ENABLE != 0 {
		fifo = 0xC0
	}
	switch {
	case u.ier&lpc.IER_STATUS != 0 && u.lsrErr != 0:
		return fifo | lpc.IIR_SRC_RLS
	case u.ier&lpc.IER_RBR != 0 && len(u.rx) >= u.trigger():
		return fifo | lpc.IIR_SRC_RDA
	case u.ier&lpc.IER_RBR != 0 && len(u.rx) > 0:
		return fifo | lpc.IIR_SRC_CTI
	case u.ier&lpc.IER_THRE != 0 && u.thre:
		return fifo | lpc.IIR_SRC_THRE
	}
	return fifo | lpc.IIR_NONE
}

func (u *LPCUART) lsr() uint32 {
	v := u.lsrErr
	if len(u.rx) > 0 {
		v |= lpc.LSR_RDR
	}
	if len(u.tx) == 0 {
		v |= lpc.LSR_THRE | lpc.LSR_TEMT
	}
	return v
}

func (u *LPCUART) Read(r core.Register) uint32 {
	u.soc.mu.Lock()
	defer u.soc.mu.Unlock()
	switch r {
	case lpc.RBR:
		if u.dlab() {
			return u.dll
		}
		if len(u.rx) == 0 {
			return 0
		}
		b := u.rx[0]
		u.rx = u.rx[1:]
		return uint32(b)
	case lpc.IER:
		if u.dlab() {
			return u.dlm
		}
		return u.ier
	case lpc.IIR:
		v := u.iir()
		if v&lpc.IIR_MASK == lpc.IIR_SRC_THRE {
			u.thre = false
		}
		return v
	case lpc.LCR:
		return u.lcr
	case lpc.LSR:
		v := u.lsr()
		u.lsrErr = 0
		return v
	case lpc.SCR:
		return u.scr
	case lpc.ACR:
		return u.acr
	case lpc.FDR:
		return u.fdr
	case lpc.TER:
		return u.ter
	}
	return 0
}

func (u *LPCUART) Write(r core.Register, v uint32) {
	u.soc.mu.Lock()
	defer u.soc.mu.Unlock()
	v &= 0xFF
	switch r {
	case lpc.THR:
		if u.dlab() {
			u.dll = v
			return
		}
		u.thre = false
		if len(u.tx) == lpc.FIFOSize {
			u.txOverflow++
			return
		}
		u.tx = append(u.tx, byte(v))
	case lpc.IER:
		if u.dlab() {
			u.dlm = v
			return
		}
		was := u.ier
		u.ier = v & 0x07
		if was&lpc.IER_THRE == 0 && u.ier&lpc.IER_THRE != 0 && len(u.tx) == 0 {
			u.thre = true
		}
		u.soc.NVIC.Pend(u.irq)
	case lpc.FCR:
		u.fcr = v &^ (lpc.FCR_RXRESET | lpc.FCR_TXRESET)
		if v&lpc.FCR_RXRESET != 0 {
			u.rx = nil
		}
		if v&lpc.FCR_TXRESET != 0 {
			u.tx = nil
		}
	case lpc.LCR:
		u.lcr = v
	case lpc.SCR:
		u.scr = v
	case lpc.ACR:
		u.acr = v
	case lpc.FDR:
		u.fdr = v
	case lpc.TER:
		u.ter = v
	}
}

// drain shifts the transmit FIFO onto the wire.
func (u *LPCUART) drain() {
	if len(u.tx) == 0 || u.ter&lpc.TER_ENABLE == 0 {
		return
	}
	for _, b := range u.tx {
		u.sent = append(u.sent, b)
		if u.OnTransmit != nil {
			u.OnTransmit(b)
		}
	}
	u.tx = u.tx[:0]
	u.thre = true
}

func (u *LPCUART) level() bool {
	u.soc.mu.Lock()
	defer u.soc.mu.Unlock()
	u.drain()
	return u.iir()&lpc.IIR_NONE == 0
}

// Asserted reports whether the UART requests an interrupt, without letting
// the transmitter progress.
func (u *LPCUART) Asserted() bool {
	u.soc.mu.Lock()
	defer u.soc.mu.Unlock()
	return u.iir()&lpc.IIR_NONE == 0
}

// Receive puts bytes on the receive line. Bytes arriving at a full FIFO are
// lost and latch an overrun. It returns how many bytes entered the FIFO.
func (u *LPCUART) Receive(p ...byte) int {
	u.soc.mu.Lock()
	defer u.soc.mu.Unlock()
	n := 0
	for _, b := range p {
		if len(u.rx) == lpc.FIFOSize {
			u.lsrErr |= lpc.LSR_OE
			continue
		}
		u.rx = append(u.rx, b)
		n++
	}
	u.soc.NVIC.Pend(u.irq)
	return n
}

// RxSpace returns the free receive FIFO slots.
func (u *LPCUART) RxSpace() int {
	u.soc.mu.Lock()
	defer u.soc.mu.Unlock()
	return lpc.FIFOSize - len(u.rx)
}

// InjectLineError latches LSR error bits (OE, PE, FE, BI).
func (u *LPCUART) InjectLineError(bits uint32) {
	u.soc.mu.Lock()
	defer u.soc.mu.Unlock()
	u.lsrErr |= bits & (lpc.LSR_OE | lpc.LSR_PE | lpc.LSR_FE | lpc.LSR_BI)
	u.soc.NVIC.Pend(u.irq)
}

// Flush lets the transmitter send everything it holds.
func (u *LPCUART) Flush() {
	u.soc.mu.Lock()
	u.drain()
	u.soc.mu.Unlock()
	u.soc.NVIC.Pend(u.irq)
}

// Sent returns and clears the bytes transmitted so far.
func (u *LPCUART) Sent() []byte {
	u.soc.mu.Lock()
	defer u.soc.mu.Unlock()
	out := u.sent
	u.sent = nil
	return out
}

// TxOverflows counts THR writes to a full transmit FIFO.
func (u *LPCUART) TxOverflows() int {
	u.soc.mu.Lock()
	defer u.soc.mu.Unlock()
	return u.txOverflow
}

// Registers returns the current configuration registers.
func (u *LPCUART) Registers() LPCRegs {
	u.soc.mu.Lock()
	defer u.soc.mu.Unlock()
	return LPCRegs{DLL: u.dll, DLM: u.dlm, IER: u.ier, LCR: u.lcr, FCR: u.fcr, ACR: u.acr, FDR: u.fdr, TER: u.ter}
}
