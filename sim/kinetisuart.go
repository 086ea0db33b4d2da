package sim

import (
	"gohal/core"
	"gohal/regs/kinetis"
)

// KinetisUART models a Kinetis K20 UART with single byte data registers.
type KinetisUART struct {
	soc *SoC
	irq int

	bdh, bdl, c1, c2, c3, c4 uint32

	rx      byte
	rxFull  bool
	tx      byte
	txFull  bool
	errs    uint32 // S1 OR/NF/FE/PF
	s1Read  bool
	sent    []byte
	dropped int

	// OnTransmit, if set, receives every byte leaving the transmitter.
	OnTransmit func(b byte)
}

// KinetisRegs is the configuration visible in a KinetisUART's registers.
type KinetisRegs struct {
	BDH, BDL, C1, C2, C3, C4 uint32
}

// NewKinetisUART adds a UART on irq bound to vector id.
func (s *SoC) NewKinetisUART(irq int, id core.PeripheralID) (*KinetisUART, *Line) {
	u := &KinetisUART{soc: s, irq: irq, bdl: 0x04}
	return u, s.NVIC.Connect(irq, id, core.CauseGeneral, u.level)
}

func (u *KinetisUART) s1() uint32 {
	v := u.errs
	if !u.txFull {
		v |= kinetis.S1_TDRE | kinetis.S1_TC
	}
	if u.rxFull {
		v |= kinetis.S1_RDRF
	}
	return v
}

func (u *KinetisUART) asserted() bool {
	s1 := u.s1()
	switch {
	case u.c2&kinetis.C2_TIE != 0 && s1&kinetis.S1_TDRE != 0:
		return true
	case u.c2&kinetis.C2_TCIE != 0 && s1&kinetis.S1_TC != 0:
		return true
	case u.c2&kinetis.C2_RIE != 0 && s1&kinetis.S1_RDRF != 0:
		return true
	}
	enabled := uint32(0)
	if u.c3&kinetis.C3_ORIE != 0 {
		enabled |= kinetis.S1_OR
	}
	if u.c3&kinetis.C3_NEIE != 0 {
		enabled |= kinetis.S1_NF
	}
	if u.c3&kinetis.C3_FEIE != 0 {
		enabled |= kinetis.S1_FE
	}
	if u.c3&kinetis.C3_PEIE != 0 {
		enabled |= kinetis.S1_PF
	}
	return u.errs&enabled != 0
}

func (u *KinetisUART) Read(r core.Register) uint32 {
	u.soc.mu.Lock()
	defer u.soc.mu.Unlock()
	switch r {
	case kinetis.BDH:
		return u.bdh
	case kinetis.BDL:
		return u.bdl
	case kinetis.C1:
		return u.c1
	case kinetis.C2:
		return u.c2
	case kinetis.C3:
		return u.c3
	case kinetis.C4:
		return u.c4
	case kinetis.S1:
		u.s1Read = true
		return u.s1()
	case kinetis.D:
		if u.s1Read {
			u.errs = 0
		}
		u.s1Read = false
		b := u.rx
		u.rxFull = false
		return uint32(b)
	}
	return 0
}

func (u *KinetisUART) Write(r core.Register, v uint32) {
	u.soc.mu.Lock()
	defer u.soc.mu.Unlock()
	v &= 0xFF
	switch r {
	case kinetis.BDH:
		u.bdh = v
	case kinetis.BDL:
		u.bdl = v
	case kinetis.C1:
		u.c1 = v
	case kinetis.C2:
		u.c2 = v
		u.soc.NVIC.Pend(u.irq)
	case kinetis.C3:
		u.c3 = v
		u.soc.NVIC.Pend(u.irq)
	case kinetis.C4:
		u.c4 = v
	case kinetis.D:
		if u.c2&kinetis.C2_TE == 0 {
			return
		}
		if u.txFull {
			u.dropped++
			return
		}
		u.tx = byte(v)
		u.txFull = true
	}
}

func (u *KinetisUART) drain() {
	if !u.txFull {
		return
	}
	u.sent = append(u.sent, u.tx)
	if u.OnTransmit != nil {
		u.OnTransmit(u.tx)
	}
	u.txFull = false
}

func (u *KinetisUART) level() bool {
	u.soc.mu.Lock()
	defer u.soc.mu.Unlock()
	u.drain()
	return u.asserted()
}

// Asserted reports whether the UART requests an interrupt, without letting
// the transmitter progress.
func (u *KinetisUART) Asserted() bool {
	u.soc.mu.Lock()
	defer u.soc.mu.Unlock()
	return u.asserted()
}

// Receive puts b on the receive line with the given S1 error bits. A byte
// arriving while the data register is full is lost and latches an overrun.
func (u *KinetisUART) Receive(b byte, errs uint32) bool {
	u.soc.mu.Lock()
	defer u.soc.mu.Unlock()
	defer u.soc.NVIC.Pend(u.irq)
	if u.c2&kinetis.C2_RE == 0 {
		return false
	}
	if u.rxFull {
		u.errs |= kinetis.S1_OR
		return false
	}
	u.rx = b
	u.rxFull = true
	u.errs |= errs & (kinetis.S1_NF | kinetis.S1_FE | kinetis.S1_PF)
	return true
}

// RxSpace returns the free receive slots.
func (u *KinetisUART) RxSpace() int {
	u.soc.mu.Lock()
	defer u.soc.mu.Unlock()
	if u.rxFull {
		return 0
	}
	return 1
}

// Sent returns and clears the bytes transmitted so far.
func (u *KinetisUART) Sent() []byte {
	u.soc.mu.Lock()
	defer u.soc.mu.Unlock()
	out := u.sent
	u.sent = nil
	return out
}

// TxOverflows counts data register writes while a byte was still pending.
func (u *KinetisUART) TxOverflows() int {
	u.soc.mu.Lock()
	defer u.soc.mu.Unlock()
	return u.dropped
}

// Registers returns the current configuration registers.
func (u *KinetisUART) Registers() KinetisRegs {
	u.soc.mu.Lock()
	defer u.soc.mu.Unlock()
	return KinetisRegs{BDH: u.bdh, BDL: u.bdl, C1: u.c1, C2: u.c2, C3: u.c3, C4: u.c4}
}
