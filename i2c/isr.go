package i2c

import (
	"gohal/core"
	"gohal/dma"
	"gohal/regs/stm32"
)

// ServeEvent is the event interrupt handler. It walks the transfer
// through START, address and data phases. Events raised on the way are
// broadcast once on return.
func (d *Driver) ServeEvent() {
	regs := d.hw.Regs
	var events core.EventFlags
	defer func() { d.status.RaiseFromISR(0, events) }()
	for i := 0; ; i++ {
		if i == d.maxVisits {
			events |= d.status.RecordFatalFromISR(core.ErrInterruptStorm)
			events |= d.abortFromISR(result{err: core.ErrInterruptStorm})
			return
		}
		sr1 := regs.Read(stm32.SR1)
		switch {
		case sr1&stm32.SR1_SB != 0:
			events |= d.startFromISR()
		case sr1&stm32.SR1_ADDR != 0:
			events |= d.addressedFromISR()
		case sr1&stm32.SR1_BTF != 0:
			events |= d.sentFromISR()
		default:
			return
		}
	}
}

func (d *Driver) startFromISR() core.EventFlags {
	x := &d.xfer
	switch x.phase {
	case phaseStartTx:
		x.phase = phaseAddrTx
		d.hw.Regs.Write(stm32.DR, uint32(x.addr)<<1)
	case phaseStartRx:
		x.phase = phaseAddrRx
		d.hw.Regs.Write(stm32.DR, uint32(x.addr)<<1|1)
	default:
		// stray START, release the bus
		return d.stopFromISR()
	}
	return 0
}

func (d *Driver) addressedFromISR() core.EventFlags {
	regs := d.hw.Regs
	x := &d.xfer
	switch x.phase {
	case phaseAddrTx:
		if len(x.tx) == 0 {
			// address only
			regs.Read(stm32.SR2)
			return d.stopFromISR() | d.completeFromISR(result{})
		}
		x.phase = phaseDataTx
		err := d.hw.DMA.Arm(dma.Descriptor{
			Direction:  dma.MemoryToPeripheral,
			Buffer:     x.tx,
			Peripheral: d.hw.DataRegister,
			Done:       d.onTx,
		})
		regs.Read(stm32.SR2)
		if err != nil {
			return d.abortFromISR(result{err: err})
		}
	case phaseAddrRx:
		if len(x.rx) == 1 {
			core.ClearBits(regs, stm32.CR1, stm32.CR1_ACK)
		}
		core.SetBits(regs, stm32.CR2, stm32.CR2_LAST)
		x.phase = phaseDataRx
		err := d.hw.DMA.Arm(dma.Descriptor{
			Direction:  dma.PeripheralToMemory,
			Buffer:     x.rx,
			Peripheral: d.hw.DataRegister,
			Done:       d.onRx,
		})
		regs.Read(stm32.SR2)
		if err != nil {
			return d.abortFromISR(result{err: err})
		}
	default:
		regs.Read(stm32.SR2)
		return d.stopFromISR()
	}
	return 0
}

// sentFromISR handles BTF after the last transmitted byte.
func (d *Driver) sentFromISR() core.EventFlags {
	x := &d.xfer
	if x.phase != phaseDataTx {
		return d.stopFromISR()
	}
	d.hw.DMA.Disarm(dma.MemoryToPeripheral)
	if len(x.rx) > 0 {
		x.phase = phaseStartRx
		core.SetBits(d.hw.Regs, stm32.CR1, stm32.CR1_START)
		return 0
	}
	return d.stopFromISR() | d.completeFromISR(result{})
}

func (d *Driver) rxDMAFromISR(flags dma.Flags) {
	var events core.EventFlags
	switch {
	case flags&dma.FlagFailed != 0:
		events = d.abortFromISR(result{err: ErrDMAFailure})
	case flags&dma.FlagComplete != 0 && d.xfer.phase == phaseDataRx:
		d.hw.DMA.Disarm(dma.PeripheralToMemory)
		events = d.stopFromISR() | d.completeFromISR(result{})
	}
	d.status.RaiseFromISR(0, events)
}

// txDMAFromISR only reports failures; completion is signalled by BTF.
func (d *Driver) txDMAFromISR(flags dma.Flags) {
	if flags&dma.FlagFailed != 0 {
		d.status.RaiseFromISR(0, d.abortFromISR(result{err: ErrDMAFailure}))
	}
}

// ServeError is the error interrupt handler. Every latched error bit is
// cleared and collected. An ack failure releases the bus with STOP; an
// ack failure, arbitration loss or bus error ends the transfer in flight.
func (d *Driver) ServeError() {
	regs := d.hw.Regs
	var flags core.ErrorFlags
	var events core.EventFlags
	for i := 0; ; i++ {
		errs := regs.Read(stm32.SR1) & stm32.SR1_ERRORS
		if errs == 0 {
			break
		}
		if i == d.maxVisits {
			events |= d.status.RecordFatalFromISR(core.ErrInterruptStorm)
			break
		}
		// rc_w0
		regs.Write(stm32.SR1, ^errs&0xFFFF)
		flags |= errorFlags(errs)
	}
	if flags == 0 && events == 0 {
		return
	}
	if flags.Has(core.AckFailure) {
		events |= d.stopFromISR()
	}
	if flags&abortFlags != 0 && d.xfer.phase != phaseIdle {
		d.hw.DMA.Abort()
		events |= d.completeFromISR(result{flags: flags})
	}
	// one broadcast per entry
	d.status.RaiseFromISR(flags, events)
}

func errorFlags(sr1 uint32) core.ErrorFlags {
	var f core.ErrorFlags
	if sr1&stm32.SR1_BERR != 0 {
		f |= core.BusError
	}
	if sr1&stm32.SR1_ARLO != 0 {
		f |= core.ArbitrationLost
	}
	if sr1&stm32.SR1_AF != 0 {
		f |= core.AckFailure
	}
	if sr1&stm32.SR1_OVR != 0 {
		f |= core.Overrun
	}
	if sr1&stm32.SR1_PECERR != 0 {
		f |= core.PECError
	}
	if sr1&stm32.SR1_TIMEOUT != 0 {
		f |= core.SMBusTimeout
	}
	if sr1&stm32.SR1_SMBALERT != 0 {
		f |= core.SMBusAlert
	}
	return f
}

// completeFromISR ends the transfer with res and returns EventTransferDone
// if a transfer was in flight.
func (d *Driver) completeFromISR(res result) core.EventFlags {
	if d.finishFromISR(res) {
		return core.EventTransferDone
	}
	return 0
}

// abortFromISR disarms DMA, releases the bus and ends the transfer with res.
func (d *Driver) abortFromISR(res result) core.EventFlags {
	d.hw.DMA.Abort()
	return d.stopFromISR() | d.completeFromISR(res)
}

// stopFromISR releases the bus. A stuck STOP is recorded as fatal.
func (d *Driver) stopFromISR() core.EventFlags {
	if err := d.busStop(); err != nil {
		return d.status.RecordFatalFromISR(err)
	}
	return 0
}
