package sim

import (
	"math/bits"
	"sync"

	"gohal/core"
)

// MaxLines is the number of interrupt lines of the controller.
const MaxLines = 64

// DefaultMaxRedeliveries bounds back-to-back deliveries of one line whose
// level stays asserted.
const DefaultMaxRedeliveries = 4096

// NVIC is a level-triggered interrupt controller. A single goroutine
// delivers pending lines one at a time, highest priority first, and keeps
// re-entering a handler while its line stays asserted.
type NVIC struct {
	vectors *core.VectorTable

	mu      sync.Mutex
	cond    *sync.Cond
	lines   [MaxLines]*Line
	pending uint64
	busy    bool
	running bool
	closed  bool
	done    chan struct{}
	storms  int

	// MaxRedeliveries is read when a line is delivered.
	MaxRedeliveries int
}

// Line is one interrupt request line bound to a vector.
type Line struct {
	nvic     *NVIC
	irq      int
	id       core.PeripheralID
	class    core.CauseClass
	level    func() bool
	enabled  bool
	priority uint8
}

// NewNVIC creates a stopped controller.
func NewNVIC(vectors *core.VectorTable) *NVIC {
	n := &NVIC{
		vectors:         vectors,
		done:            make(chan struct{}),
		MaxRedeliveries: DefaultMaxRedeliveries,
	}
	n.cond = sync.NewCond(&n.mu)
	return n
}

// Connect binds irq to the vector (id, class). level reports whether the
// peripheral currently asserts the line; it may advance peripheral state.
func (n *NVIC) Connect(irq int, id core.PeripheralID, class core.CauseClass, level func() bool) *Line {
	if irq < 0 || irq >= MaxLines {
		panic("sim: irq out of range")
	}
	l := &Line{nvic: n, irq: irq, id: id, class: class, level: level}
	n.mu.Lock()
	n.lines[irq] = l
	n.mu.Unlock()
	return l
}

// Enable unmasks the line.
func (l *Line) Enable(priority uint8) {
	n := l.nvic
	n.mu.Lock()
	l.enabled = true
	l.priority = priority
	n.mu.Unlock()
	n.Pend(l.irq)
}

// Disable masks the line. A pending request stays latched.
func (l *Line) Disable() {
	n := l.nvic
	n.mu.Lock()
	l.enabled = false
	n.mu.Unlock()
}

// Enabled reports whether the line is unmasked.
func (l *Line) Enabled() bool {
	l.nvic.mu.Lock()
	defer l.nvic.mu.Unlock()
	return l.enabled
}

// Pend latches a request on irq. Safe to call with peripheral state locked.
func (n *NVIC) Pend(irq int) {
	n.mu.Lock()
	n.pending |= 1 << uint(irq)
	n.cond.Broadcast()
	n.mu.Unlock()
}

// Start launches the delivery goroutine.
func (n *NVIC) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running || n.closed {
		return
	}
	n.running = true
	go n.run()
}

// Close stops delivery and waits for an in-flight handler to return.
func (n *NVIC) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	running := n.running
	n.cond.Broadcast()
	n.mu.Unlock()
	if running {
		<-n.done
	}
}

// Sync blocks until no enabled line is pending and no handler is running.
func (n *NVIC) Sync() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for n.running && !n.closed && (n.busy || n.runnable() != nil) {
		n.cond.Wait()
	}
}

// Storms returns how many times a line was still asserted after
// MaxRedeliveries consecutive deliveries.
func (n *NVIC) Storms() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.storms
}

// runnable returns the highest priority pending enabled line. Caller holds mu.
func (n *NVIC) runnable() *Line {
	var best *Line
	for p := n.pending; p != 0; p &= p - 1 {
		irq := bits.TrailingZeros64(p)
		l := n.lines[irq]
		if l == nil || !l.enabled {
			continue
		}
		if best == nil || l.priority < best.priority {
			best = l
		}
	}
	return best
}

func (n *NVIC) run() {
	defer close(n.done)
	for {
		n.mu.Lock()
		for !n.closed && n.runnable() == nil {
			n.cond.Wait()
		}
		if n.closed {
			n.mu.Unlock()
			return
		}
		l := n.runnable()
		n.pending &^= 1 << uint(l.irq)
		n.busy = true
		limit := n.MaxRedeliveries
		n.mu.Unlock()

		storm := n.deliver(l, limit)

		n.mu.Lock()
		if storm {
			n.storms++
		}
		n.busy = false
		n.cond.Broadcast()
		n.mu.Unlock()
	}
}

func (n *NVIC) deliver(l *Line, limit int) (storm bool) {
	for i := 0; l.level(); i++ {
		if i == limit {
			return true
		}
		if !l.Enabled() {
			return false
		}
		n.vectors.Dispatch(l.id, l.class)
	}
	return false
}
