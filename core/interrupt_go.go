//go:build !tinygo

package core

import "sync"

// State is the saved interrupt mask returned by DisableInterrupts.
type State uintptr

// On the host build simulated interrupt handlers run on their own goroutine, so
// masking interrupts is a process-wide lock shared with thread code.
var sysLock sync.Mutex

// DisableInterrupts enters the critical section shared with interrupt handlers.
// It does not nest.
func DisableInterrupts() State {
	sysLock.Lock()
	return 0
}

// RestoreInterrupts leaves the critical section entered by DisableInterrupts.
func RestoreInterrupts(state State) {
	sysLock.Unlock()
}
