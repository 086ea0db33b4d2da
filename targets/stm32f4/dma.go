//go:build tinygo && stm32f4

package main

import (
	"unsafe"

	"gohal/core"
	"gohal/dma"
	"gohal/regs/stm32"
)

// disableSpin bounds the wait for a stream's EN bit to drop.
const disableSpin = 1000

// dmaController is one STM32F4 DMA controller with eight streams.
type dmaController struct {
	regs    mmio
	streams [8]dmaStream
}

func newDMAController(base uintptr) *dmaController {
	c := &dmaController{regs: mmio{base: base}}
	for i := range c.streams {
		c.streams[i] = dmaStream{
			regs: mmio{base: base + stm32.DMA_StreamBase + uintptr(i)*stm32.DMA_StreamStride},
			id:   dma.StreamID(i),
		}
	}
	return c
}

func (c *dmaController) Stream(id dma.StreamID) (dma.Stream, bool) {
	if int(id) >= len(c.streams) {
		return nil, false
	}
	return &c.streams[id], true
}

func (c *dmaController) TakeFlags(id dma.StreamID) dma.Flags {
	status, clear := stm32.DMA_LISR, stm32.DMA_LIFCR
	if id >= 4 {
		status, clear = stm32.DMA_HISR, stm32.DMA_HIFCR
	}
	shift := stm32.DMAFlagShift[id%4]
	raw := c.regs.Read(status) >> shift & stm32.DMA_ALLIF
	if raw == 0 {
		return 0
	}
	c.regs.Write(clear, raw<<shift)

	var f dma.Flags
	if raw&stm32.DMA_TCIF != 0 {
		f |= dma.FlagComplete
	}
	if raw&stm32.DMA_HTIF != 0 {
		f |= dma.FlagHalfComplete
	}
	if raw&stm32.DMA_TEIF != 0 {
		f |= dma.FlagTransferError
	}
	if raw&stm32.DMA_DMEIF != 0 {
		f |= dma.FlagDirectModeError
	}
	return f
}

type dmaStream struct {
	regs mmio
	id   dma.StreamID
	mem  []byte
}

func (s *dmaStream) ID() dma.StreamID { return s.id }

func (s *dmaStream) SetPeripheral(addr uint32) {
	s.regs.Write(stm32.DMA_SxPAR, addr)
}

func (s *dmaStream) SetMemory(buf []byte) {
	s.mem = buf
	s.regs.Write(stm32.DMA_SxNDTR, uint32(len(buf)))
	if len(buf) > 0 {
		s.regs.Write(stm32.DMA_SxM0AR, uint32(uintptr(unsafe.Pointer(&buf[0]))))
	}
}

func (s *dmaStream) SetMode(mode uint32) {
	s.regs.Write(stm32.DMA_SxCR, mode&^stm32.DMA_SxCR_EN)
}

func (s *dmaStream) Enable() {
	core.SetBits(s.regs, stm32.DMA_SxCR, stm32.DMA_SxCR_EN)
}

func (s *dmaStream) Disable() {
	core.ClearBits(s.regs, stm32.DMA_SxCR, stm32.DMA_SxCR_EN)
	for i := 0; i < disableSpin && s.regs.Read(stm32.DMA_SxCR)&stm32.DMA_SxCR_EN != 0; i++ {
	}
}

func (s *dmaStream) Remaining() int {
	return int(s.regs.Read(stm32.DMA_SxNDTR))
}
