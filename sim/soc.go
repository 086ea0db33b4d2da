// Package sim models the silicon behind the drivers: register files with
// their read/write side effects, a level-triggered interrupt controller and
// a DMA controller. It stands in for hardware on the host build.
package sim

import (
	"sync"

	"gohal/core"
)

// SoC groups the simulated peripherals of one chip. All peripheral state is
// guarded by a single lock, the way a bus serializes register accesses.
type SoC struct {
	mu     sync.Mutex
	NVIC   *NVIC
	SysCtl *RegisterFile
}

// NewSoC creates a chip whose interrupt controller dispatches through vectors.
func NewSoC(vectors *core.VectorTable) *SoC {
	return &SoC{
		NVIC:   NewNVIC(vectors),
		SysCtl: NewRegisterFile(),
	}
}

// Start starts interrupt delivery.
func (s *SoC) Start() {
	s.NVIC.Start()
}

// Close stops interrupt delivery.
func (s *SoC) Close() {
	s.NVIC.Close()
}

// RegisterFile is plain storage with no side effects, used for
// system-control blocks such as clock gates.
type RegisterFile struct {
	mu   sync.Mutex
	regs map[core.Register]uint32
}

// NewRegisterFile returns an all-zero register file.
func NewRegisterFile() *RegisterFile {
	return &RegisterFile{regs: make(map[core.Register]uint32)}
}

func (f *RegisterFile) Read(r core.Register) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs[r]
}

func (f *RegisterFile) Write(r core.Register, v uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[r] = v
}
