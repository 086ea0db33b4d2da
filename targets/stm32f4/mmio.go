//go:build tinygo && stm32f4

package main

import (
	"runtime/volatile"
	"unsafe"

	"gohal/core"
)

// mmio is a memory-mapped register block. Registers are offsets from base;
// a zero base takes absolute addresses.
type mmio struct {
	base uintptr
}

func (m mmio) reg(r core.Register) *volatile.Register32 {
	return (*volatile.Register32)(unsafe.Pointer(m.base + uintptr(r)))
}

func (m mmio) Read(r core.Register) uint32 {
	return m.reg(r).Get()
}

func (m mmio) Write(r core.Register, v uint32) {
	m.reg(r).Set(v)
}
