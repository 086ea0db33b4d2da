package sim

import (
	"gohal/core"
	"gohal/dma"
	"gohal/regs/stm32"
)

// STM32I2C models an STM32F1/F4 I2C master with DMA requests and attached
// slaves.
type STM32I2C struct {
	soc    *SoC
	dma    *DMA
	drAddr uint32
	evIRQ  int
	erIRQ  int

	cr1, cr2, oar1, oar2, ccr, trise uint32
	sr1                              uint32
	msl, tra                         bool
	sr1Read                          bool
	stopPending                      int

	slaves  map[uint8]Slave
	cur     Slave
	stall   bool
	stretch bool

	addresses     []byte
	starts, stops int
	writesWhileOn int
	nackedLast    bool

	// StopLatency is how many CR1 reads a STOP request stays visible before
	// hardware clears it. Negative keeps STOP set forever.
	StopLatency int
}

// I2CRegs is the configuration visible in an STM32I2C's registers.
type I2CRegs struct {
	CR1, CR2, CCR, TRISE uint32
}

// NewSTM32I2C adds an I2C peripheral at base with event and error lines
// bound to vector id. Its data register is served by d.
func (s *SoC) NewSTM32I2C(base uint32, d *DMA, evIRQ, erIRQ int, id core.PeripheralID) (*STM32I2C, *Line, *Line) {
	i := &STM32I2C{
		soc:    s,
		dma:    d,
		drAddr: base + uint32(stm32.DR),
		evIRQ:  evIRQ,
		erIRQ:  erIRQ,
		slaves: make(map[uint8]Slave),
	}
	if d != nil {
		d.attach(i.drAddr, i)
	}
	ev := s.NVIC.Connect(evIRQ, id, core.CauseEvent, i.evLevel)
	er := s.NVIC.Connect(erIRQ, id, core.CauseError, i.erLevel)
	return i, ev, er
}

// Attach places slave at the 7-bit address addr.
func (i *STM32I2C) Attach(addr uint8, slave Slave) {
	i.soc.mu.Lock()
	defer i.soc.mu.Unlock()
	i.slaves[addr] = slave
}

func (i *STM32I2C) reset() {
	i.cr1, i.cr2, i.oar1, i.oar2, i.ccr, i.trise = 0, 0, 0, 0, 0, 0x02
	i.sr1 = 0
	i.msl, i.tra, i.sr1Read = false, false, false
	i.stopPending = 0
	i.cur = nil
	i.stall = false
}

func (i *STM32I2C) sr2() uint32 {
	var v uint32
	if i.msl {
		v |= stm32.SR2_MSL | stm32.SR2_BUSY
	}
	if i.tra {
		v |= stm32.SR2_TRA
	}
	return v
}

func (i *STM32I2C) Read(r core.Register) uint32 {
	i.soc.mu.Lock()
	defer i.soc.mu.Unlock()
	switch r {
	case stm32.CR1:
		if i.stopPending > 0 {
			i.stopPending--
			if i.stopPending == 0 {
				i.finishStop()
			}
		}
		return i.cr1
	case stm32.CR2:
		return i.cr2
	case stm32.OAR1:
		return i.oar1
	case stm32.OAR2:
		return i.oar2
	case stm32.SR1:
		i.sr1Read = true
		return i.sr1
	case stm32.SR2:
		v := i.sr2()
		if i.sr1Read && i.sr1&stm32.SR1_ADDR != 0 {
			i.sr1 &^= stm32.SR1_ADDR
			if i.tra {
				i.sr1 |= stm32.SR1_TXE
			}
			i.pump()
		}
		i.sr1Read = false
		return v
	case stm32.DR:
		if i.cur != nil && !i.tra {
			return uint32(i.cur.Read())
		}
		return 0
	case stm32.CCR:
		return i.ccr
	case stm32.TRISE:
		return i.trise
	}
	return 0
}

func (i *STM32I2C) Write(r core.Register, v uint32) {
	i.soc.mu.Lock()
	defer i.soc.mu.Unlock()
	v &= 0xFFFF
	switch r {
	case stm32.CR1:
		i.writeCR1(v)
	case stm32.CR2:
		i.cr2 = v
		i.pump()
		i.soc.NVIC.Pend(i.evIRQ)
		i.soc.NVIC.Pend(i.erIRQ)
	case stm32.OAR1:
		i.oar1 = v
	case stm32.OAR2:
		i.oar2 = v
	case stm32.SR1:
		// rc_w0: error bits written as 0 are cleared
		i.sr1 &^= stm32.SR1_ERRORS &^ v
	case stm32.DR:
		i.writeDR(byte(v))
	case stm32.CCR:
		if i.cr1&stm32.CR1_PE != 0 {
			i.writesWhileOn++
		}
		i.ccr = v
	case stm32.TRISE:
		if i.cr1&stm32.CR1_PE != 0 {
			i.writesWhileOn++
		}
		i.trise = v & stm32.TRISE_MASK
	}
}

func (i *STM32I2C) writeCR1(v uint32) {
	if v&stm32.CR1_SWRST != 0 {
		i.reset()
		i.cr1 = stm32.CR1_SWRST
		return
	}
	if i.stopPending != 0 {
		// STOP stays set while the condition is generated
		v |= stm32.CR1_STOP
	}
	i.cr1 = v
	if v&stm32.CR1_PE == 0 {
		i.cr1 &^= stm32.CR1_START
		return
	}
	if v&stm32.CR1_STOP != 0 && i.stopPending == 0 {
		i.stops++
		i.sr1 &^= stm32.SR1_BTF
		if i.StopLatency == 0 {
			i.finishStop()
		} else {
			i.stopPending = i.StopLatency
		}
	}
	if v&stm32.CR1_START != 0 {
		i.starts++
		i.cr1 &^= stm32.CR1_START
		i.sr1 &^= stm32.SR1_BTF | stm32.SR1_TXE
		i.sr1 |= stm32.SR1_SB
		i.msl = true
		i.stall = false
		i.soc.NVIC.Pend(i.evIRQ)
	}
}

func (i *STM32I2C) finishStop() {
	i.cr1 &^= stm32.CR1_STOP
	i.stopPending = 0
	i.sr1 &^= stm32.SR1_BTF | stm32.SR1_TXE | stm32.SR1_SB | stm32.SR1_ADDR
	i.msl = false
	i.tra = false
	if i.cur != nil {
		i.cur.Stop()
		i.cur = nil
	}
}

func (i *STM32I2C) writeDR(b byte) {
	if i.sr1&stm32.SR1_SB != 0 && i.sr1Read {
		i.sr1 &^= stm32.SR1_SB
		i.sr1Read = false
		i.addresses = append(i.addresses, b)
		read := b&1 != 0
		slave, ok := i.slaves[b>>1]
		if !ok {
			i.cur = nil
			i.sr1 |= stm32.SR1_AF
			i.soc.NVIC.Pend(i.erIRQ)
			return
		}
		i.cur = slave
		i.tra = !read
		slave.Start(read)
		i.sr1 |= stm32.SR1_ADDR
		i.soc.NVIC.Pend(i.evIRQ)
		return
	}
	if i.cur == nil || !i.tra {
		return
	}
	if !i.cur.Write(b) {
		i.sr1 |= stm32.SR1_AF
		i.soc.NVIC.Pend(i.erIRQ)
		return
	}
	i.sr1 |= stm32.SR1_TXE | stm32.SR1_BTF
	i.soc.NVIC.Pend(i.evIRQ)
}

// dmaRequest implements dmaPeripheral.
func (i *STM32I2C) dmaRequest() {
	i.pump()
}

// pump moves data between the addressed slave and an armed DMA stream.
func (i *STM32I2C) pump() {
	if i.dma == nil || i.cur == nil || i.stall || i.stretch || i.cr2&stm32.CR2_DMAEN == 0 || i.sr1&stm32.SR1_ADDR != 0 {
		return
	}
	if i.tra {
		st := i.dma.active(i.drAddr, dma.MemoryToPeripheral)
		if st == nil {
			return
		}
		for st.remaining() > 0 {
			b := st.mem[st.pos]
			st.pos++
			if !i.cur.Write(b) {
				i.stall = true
				i.sr1 |= stm32.SR1_AF
				i.soc.NVIC.Pend(i.erIRQ)
				return
			}
		}
		st.complete()
		i.sr1 |= stm32.SR1_BTF | stm32.SR1_TXE
		i.soc.NVIC.Pend(i.evIRQ)
		return
	}
	st := i.dma.active(i.drAddr, dma.PeripheralToMemory)
	if st == nil {
		return
	}
	for st.remaining() > 0 {
		st.mem[st.pos] = i.cur.Read()
		st.pos++
	}
	i.nackedLast = i.cr2&stm32.CR2_LAST != 0 || i.cr1&stm32.CR1_ACK == 0
	st.complete()
}

func (i *STM32I2C) evLevel() bool {
	i.soc.mu.Lock()
	defer i.soc.mu.Unlock()
	if i.cr2&stm32.CR2_ITEVTEN == 0 {
		return false
	}
	if i.sr1&(stm32.SR1_SB|stm32.SR1_ADDR|stm32.SR1_BTF|stm32.SR1_STOPF) != 0 {
		return true
	}
	return i.cr2&stm32.CR2_ITBUFEN != 0 && i.sr1&(stm32.SR1_TXE|stm32.SR1_RXNE) != 0
}

func (i *STM32I2C) erLevel() bool {
	i.soc.mu.Lock()
	defer i.soc.mu.Unlock()
	return i.cr2&stm32.CR2_ITERREN != 0 && i.sr1&stm32.SR1_ERRORS != 0
}

// InjectErrors latches SR1 error bits. Arbitration loss also drops master
// mode and stalls the transfer.
func (i *STM32I2C) InjectErrors(bits uint32) {
	i.soc.mu.Lock()
	defer i.soc.mu.Unlock()
	i.sr1 |= bits & stm32.SR1_ERRORS
	if bits&stm32.SR1_ARLO != 0 {
		i.msl = false
		i.stall = true
	}
	i.soc.NVIC.Pend(i.erIRQ)
}

// Stretch holds the data phase as a slave stretching SCL would. Releasing
// it lets pending DMA transfers run.
func (i *STM32I2C) Stretch(on bool) {
	i.soc.mu.Lock()
	defer i.soc.mu.Unlock()
	i.stretch = on
	if !on {
		i.pump()
	}
}

// Addresses returns the address bytes sent after each START.
func (i *STM32I2C) Addresses() []byte {
	i.soc.mu.Lock()
	defer i.soc.mu.Unlock()
	return append([]byte(nil), i.addresses...)
}

// Starts counts START conditions.
func (i *STM32I2C) Starts() int {
	i.soc.mu.Lock()
	defer i.soc.mu.Unlock()
	return i.starts
}

// Stops counts STOP requests.
func (i *STM32I2C) Stops() int {
	i.soc.mu.Lock()
	defer i.soc.mu.Unlock()
	return i.stops
}

// StopPending reports whether CR1.STOP is still set.
func (i *STM32I2C) StopPending() bool {
	i.soc.mu.Lock()
	defer i.soc.mu.Unlock()
	return i.cr1&stm32.CR1_STOP != 0
}

// ConfigWhileEnabled counts CCR and TRISE writes made while PE was set.
func (i *STM32I2C) ConfigWhileEnabled() int {
	i.soc.mu.Lock()
	defer i.soc.mu.Unlock()
	return i.writesWhileOn
}

// NACKedLast reports whether the last receive ended without ACK.
func (i *STM32I2C) NACKedLast() bool {
	i.soc.mu.Lock()
	defer i.soc.mu.Unlock()
	return i.nackedLast
}

// Registers returns the current configuration registers.
func (i *STM32I2C) Registers() I2CRegs {
	i.soc.mu.Lock()
	defer i.soc.mu.Unlock()
	return I2CRegs{CR1: i.cr1, CR2: i.cr2, CCR: i.ccr, TRISE: i.trise}
}
