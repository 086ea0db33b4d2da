package sim

// Slave is a device on a simulated I2C bus.
type Slave interface {
	// Start is called when the slave is addressed.
	Start(read bool)
	// Write receives one byte from the master and reports ACK.
	Write(b byte) bool
	// Read returns the next byte for the master.
	Read() byte
	// Stop is called on a STOP condition.
	Stop()
}

// MemorySlave is a register-pointer device: the first byte of a write sets
// the pointer, further bytes are stored at it and reads return from it, both
// auto-incrementing.
type MemorySlave struct {
	Mem [256]byte

	// NACKAfter, when non-negative, NACKs every data byte after that many
	// were acknowledged in one write.
	NACKAfter int

	ptr     byte
	first   bool
	written int
	starts  int
}

// NewMemorySlave returns a slave that acknowledges everything.
func NewMemorySlave() *MemorySlave {
	return &MemorySlave{NACKAfter: -1}
}

func (m *MemorySlave) Start(read bool) {
	m.starts++
	if !read {
		m.first = true
		m.written = 0
	}
}

func (m *MemorySlave) Write(b byte) bool {
	if m.NACKAfter >= 0 && m.written >= m.NACKAfter {
		return false
	}
	m.written++
	if m.first {
		m.ptr = b
		m.first = false
		return true
	}
	m.Mem[m.ptr] = b
	m.ptr++
	return true
}

func (m *MemorySlave) Read() byte {
	b := m.Mem[m.ptr]
	m.ptr++
	return b
}

func (m *MemorySlave) Stop() {}

// Starts counts how often the slave was addressed.
func (m *MemorySlave) Starts() int {
	return m.starts
}
