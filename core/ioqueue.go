package core

import "context"

// IOQueue is a fixed-capacity circular byte queue shared between one interrupt
// handler and thread code. Methods suffixed FromISR must be called from
// interrupt context or with interrupts disabled; the others take the critical
// section themselves and may block on a context.
type IOQueue struct {
	buf   []byte
	read  int
	count int

	// notify is a coalesced wakeup for a thread blocked on this queue.
	notify chan struct{}
	onPut  func()
}

// NewIOQueue creates a queue holding up to capacity bytes. onPut, if not nil,
// is invoked from thread context after bytes were added by Put or Write.
func NewIOQueue(capacity int, onPut func()) *IOQueue {
	if capacity <= 0 {
		panic("core: queue capacity must be positive")
	}
	return &IOQueue{
		buf:    make([]byte, capacity),
		notify: make(chan struct{}, 1),
		onPut:  onPut,
	}
}

func (q *IOQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// PutFromISR appends b. A full queue drops b and returns ErrQueueFull.
// wasEmpty reports the empty to non-empty transition.
func (q *IOQueue) PutFromISR(b byte) (wasEmpty bool, err error) {
	if q.count == len(q.buf) {
		return false, ErrQueueFull
	}
	q.buf[(q.read+q.count)%len(q.buf)] = b
	q.count++
	q.wake()
	return q.count == 1, nil
}

// GetFromISR removes the oldest byte or returns ErrQueueEmpty.
func (q *IOQueue) GetFromISR() (byte, error) {
	if q.count == 0 {
		return 0, ErrQueueEmpty
	}
	b := q.buf[q.read]
	q.read = (q.read + 1) % len(q.buf)
	q.count--
	q.wake()
	return b, nil
}

// LenFromISR returns the number of queued bytes.
func (q *IOQueue) LenFromISR() int {
	return q.count
}

// Len returns the number of queued bytes.
func (q *IOQueue) Len() int {
	state := DisableInterrupts()
	defer RestoreInterrupts(state)
	return q.count
}

// Cap returns the queue capacity.
func (q *IOQueue) Cap() int {
	return len(q.buf)
}

// Free returns the number of bytes that can be added before the queue is full.
func (q *IOQueue) Free() int {
	return q.Cap() - q.Len()
}

// IsEmpty returns true if the queue is empty
func (q *IOQueue) IsEmpty() bool {
	return q.Len() == 0
}

// IsFull returns true if the queue is full
func (q *IOQueue) IsFull() bool {
	return q.Len() == q.Cap()
}

// Reset drops the queue content and wakes a blocked thread.
func (q *IOQueue) Reset() {
	state := DisableInterrupts()
	q.read = 0
	q.count = 0
	RestoreInterrupts(state)
	q.wake()
}

// TryPut is the non-blocking thread form of PutFromISR.
func (q *IOQueue) TryPut(b byte) error {
	state := DisableInterrupts()
	_, err := q.PutFromISR(b)
	RestoreInterrupts(state)
	if err == nil && q.onPut != nil {
		q.onPut()
	}
	return err
}

// TryGet is the non-blocking thread form of GetFromISR.
func (q *IOQueue) TryGet() (byte, error) {
	state := DisableInterrupts()
	defer RestoreInterrupts(state)
	return q.GetFromISR()
}

// Get removes the oldest byte, waiting for one until ctx is done.
func (q *IOQueue) Get(ctx context.Context) (byte, error) {
	for {
		b, err := q.TryGet()
		if err == nil {
			return b, nil
		}
		select {
		case <-q.notify:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Put appends b, waiting for space until ctx is done.
func (q *IOQueue) Put(ctx context.Context, b byte) error {
	_, err := q.Write(ctx, []byte{b})
	return err
}

// Read fills p in FIFO order. It returns early only when ctx is done, with
// the number of bytes already copied.
func (q *IOQueue) Read(ctx context.Context, p []byte) (int, error) {
	n := 0
	for n < len(p) {
		state := DisableInterrupts()
		for n < len(p) && q.count > 0 {
			p[n], _ = q.GetFromISR()
			n++
		}
		RestoreInterrupts(state)
		if n == len(p) {
			break
		}
		select {
		case <-q.notify:
		case <-ctx.Done():
			return n, ctx.Err()
		}
	}
	return n, nil
}

// Write appends all of p, waiting for space until ctx is done. onPut runs
// after every batch so a consumer can start draining before Write blocks.
func (q *IOQueue) Write(ctx context.Context, p []byte) (int, error) {
	n := 0
	for n < len(p) {
		state := DisableInterrupts()
		batch := 0
		for n < len(p) && q.count < len(q.buf) {
			q.PutFromISR(p[n])
			n++
			batch++
		}
		RestoreInterrupts(state)
		if batch > 0 && q.onPut != nil {
			q.onPut()
		}
		if n == len(p) {
			break
		}
		select {
		case <-q.notify:
		case <-ctx.Done():
			return n, ctx.Err()
		}
	}
	return n, nil
}

// QueuePair is the input and output queue bound to one serial channel.
type QueuePair struct {
	In  *IOQueue // hardware to software
	Out *IOQueue // software to hardware
}

// NewQueuePair allocates both queues. kick is the output queue's onPut hook.
func NewQueuePair(inSize, outSize int, kick func()) QueuePair {
	return QueuePair{
		In:  NewIOQueue(inSize, nil),
		Out: NewIOQueue(outSize, kick),
	}
}

// Reset empties both queues.
func (p QueuePair) Reset() {
	p.In.Reset()
	p.Out.Reset()
}
