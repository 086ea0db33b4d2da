package core

// Register is the byte offset (or absolute address for system-control
// registers) of a peripheral register.
type Register uint32

// RegisterFile is access to one block of memory-mapped registers. Reads and
// writes may have hardware side effects, exactly as on silicon.
type RegisterFile interface {
	Read(r Register) uint32
	Write(r Register, v uint32)
}

// SetBits performs a read-modify-write setting mask in r.
func SetBits(rf RegisterFile, r Register, mask uint32) {
	rf.Write(r, rf.Read(r)|mask)
}

// ClearBits performs a read-modify-write clearing mask in r.
func ClearBits(rf RegisterFile, r Register, mask uint32) {
	rf.Write(r, rf.Read(r)&^mask)
}

// ClockGate is one enable bit in a system-control register (PCONP,
// SIM_SCGC4, RCC_APB1ENR...).
type ClockGate struct {
	Regs RegisterFile
	Reg  Register
	Mask uint32
}

// Enable ungates the peripheral clock.
func (g ClockGate) Enable() {
	if g.Regs != nil {
		state := DisableInterrupts()
		SetBits(g.Regs, g.Reg, g.Mask)
		RestoreInterrupts(state)
	}
}

// Disable gates the peripheral clock.
func (g ClockGate) Disable() {
	if g.Regs != nil {
		state := DisableInterrupts()
		ClearBits(g.Regs, g.Reg, g.Mask)
		RestoreInterrupts(state)
	}
}

// Enabled reports whether the clock is running.
func (g ClockGate) Enabled() bool {
	return g.Regs != nil && g.Regs.Read(g.Reg)&g.Mask == g.Mask
}

// IRQLine is one interrupt request line at the interrupt controller.
type IRQLine interface {
	Enable(priority uint8)
	Disable()
}
