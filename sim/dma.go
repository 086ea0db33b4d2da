package sim

import (
	"gohal/core"
	"gohal/dma"
	"gohal/regs/stm32"
)

// dmaPeripheral is a device serving DMA requests at its data register.
type dmaPeripheral interface {
	// dmaRequest runs pending transfers. Called with the SoC locked.
	dmaRequest()
}

// DMA is a stream-based DMA controller with one shared interrupt line.
type DMA struct {
	soc     *SoC
	streams []*Stream
	devices map[uint32]dmaPeripheral
	irq     int
	line    *Line
	armed   int
}

// Stream is one simulated DMA stream.
type Stream struct {
	ctrl    *DMA
	id      dma.StreamID
	periph  uint32
	mem     []byte
	mode    uint32
	enabled bool
	pos     int
	flags   dma.Flags
}

// NewDMA adds a controller with n streams raising irq on vector id.
func (s *SoC) NewDMA(n int, irq int, id core.PeripheralID) *DMA {
	d := &DMA{soc: s, devices: make(map[uint32]dmaPeripheral), irq: irq}
	for i := 0; i < n; i++ {
		d.streams = append(d.streams, &Stream{ctrl: d, id: dma.StreamID(i)})
	}
	d.line = s.NVIC.Connect(irq, id, core.CauseDMA, d.level)
	return d
}

// IRQ returns the controller's interrupt line.
func (d *DMA) IRQ() *Line {
	return d.line
}

func (d *DMA) attach(addr uint32, p dmaPeripheral) {
	d.devices[addr] = p
}

// Stream implements dma.Controller.
func (d *DMA) Stream(id dma.StreamID) (dma.Stream, bool) {
	if int(id) >= len(d.streams) {
		return nil, false
	}
	return d.streams[id], true
}

// TakeFlags implements dma.Controller.
func (d *DMA) TakeFlags(id dma.StreamID) dma.Flags {
	d.soc.mu.Lock()
	defer d.soc.mu.Unlock()
	if int(id) >= len(d.streams) {
		return 0
	}
	f := d.streams[id].flags
	d.streams[id].flags = 0
	return f
}

// Armed returns how many times a stream was enabled.
func (d *DMA) Armed() int {
	d.soc.mu.Lock()
	defer d.soc.mu.Unlock()
	return d.armed
}

// Enabled reports whether stream id is enabled.
func (d *DMA) Enabled(id dma.StreamID) bool {
	d.soc.mu.Lock()
	defer d.soc.mu.Unlock()
	return int(id) < len(d.streams) && d.streams[id].enabled
}

func (d *DMA) level() bool {
	d.soc.mu.Lock()
	defer d.soc.mu.Unlock()
	for _, st := range d.streams {
		if st.flags != 0 {
			return true
		}
	}
	return false
}

// active returns the enabled stream moving data in dir at addr. Caller
// holds the SoC lock.
func (d *DMA) active(addr uint32, dir dma.Direction) *Stream {
	for _, st := range d.streams {
		if !st.enabled || st.periph != addr {
			continue
		}
		m2p := st.mode&stm32.DMA_SxCR_DIR_M2P != 0
		if m2p == (dir == dma.MemoryToPeripheral) {
			return st
		}
	}
	return nil
}

func (st *Stream) ID() dma.StreamID { return st.id }

func (st *Stream) SetPeripheral(addr uint32) {
	st.ctrl.soc.mu.Lock()
	st.periph = addr
	st.ctrl.soc.mu.Unlock()
}

func (st *Stream) SetMemory(buf []byte) {
	st.ctrl.soc.mu.Lock()
	st.mem = buf
	st.pos = 0
	st.ctrl.soc.mu.Unlock()
}

func (st *Stream) SetMode(mode uint32) {
	st.ctrl.soc.mu.Lock()
	st.mode = mode
	st.ctrl.soc.mu.Unlock()
}

func (st *Stream) Enable() {
	st.ctrl.soc.mu.Lock()
	defer st.ctrl.soc.mu.Unlock()
	st.enabled = true
	st.pos = 0
	st.ctrl.armed++
	if p, ok := st.ctrl.devices[st.periph]; ok {
		p.dmaRequest()
	}
}

func (st *Stream) Disable() {
	st.ctrl.soc.mu.Lock()
	st.enabled = false
	st.ctrl.soc.mu.Unlock()
}

func (st *Stream) Remaining() int {
	st.ctrl.soc.mu.Lock()
	defer st.ctrl.soc.mu.Unlock()
	return len(st.mem) - st.pos
}

// remaining is Remaining with the SoC locked.
func (st *Stream) remaining() int {
	return len(st.mem) - st.pos
}

// complete ends the transfer the way hardware does: the stream disables
// itself and latches the completion flag.
func (st *Stream) complete() {
	st.enabled = false
	if st.mode&stm32.DMA_SxCR_TCIE != 0 {
		st.flags |= dma.FlagComplete
		st.ctrl.soc.NVIC.Pend(st.ctrl.irq)
	}
}

// fail latches a transfer error.
func (st *Stream) fail() {
	st.enabled = false
	if st.mode&stm32.DMA_SxCR_TEIE != 0 {
		st.flags |= dma.FlagTransferError
		st.ctrl.soc.NVIC.Pend(st.ctrl.irq)
	}
}

// FailStream aborts stream id with a transfer error.
func (d *DMA) FailStream(id dma.StreamID) {
	d.soc.mu.Lock()
	defer d.soc.mu.Unlock()
	if int(id) < len(d.streams) {
		d.streams[id].fail()
	}
}
