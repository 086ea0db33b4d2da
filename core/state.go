package core

// ChannelState is the lifecycle state of a channel.
type ChannelState uint8

const (
	StateStop ChannelState = iota
	StateReady
	StateActive // transfer in flight
)

func (s ChannelState) String() string {
	switch s {
	case StateStop:
		return "STOP"
	case StateReady:
		return "READY"
	case StateActive:
		return "ACTIVE"
	default:
		return "UNKNOWN"
	}
}

// Lifecycle guards STOP -> READY -> ACTIVE -> READY -> STOP transitions.
// Thread methods take the critical section; FromISR methods assume it is held.
type Lifecycle struct {
	state ChannelState
}

// State returns the current state.
func (l *Lifecycle) State() ChannelState {
	state := DisableInterrupts()
	defer RestoreInterrupts(state)
	return l.state
}

// StateFromISR returns the current state.
func (l *Lifecycle) StateFromISR() ChannelState {
	return l.state
}

// CheckStart reports whether start is allowed. It does not transition.
func (l *Lifecycle) CheckStart() error {
	if s := l.State(); s != StateStop {
		return Contractf("start in state %s", s)
	}
	return nil
}

// Started moves STOP to READY.
func (l *Lifecycle) Started() {
	l.set(StateReady)
}

// BeginStop moves READY to STOP before the caller tears the hardware down,
// so no transfer can start meanwhile. Stop on a stopped channel is a no-op;
// stop during a transfer is rejected.
func (l *Lifecycle) BeginStop() (noop bool, err error) {
	state := DisableInterrupts()
	defer RestoreInterrupts(state)
	switch l.state {
	case StateStop:
		return true, nil
	case StateActive:
		return false, Contractf("stop in state %s", l.state)
	}
	l.state = StateStop
	return false, nil
}

// Acquire moves READY to ACTIVE for one transfer.
func (l *Lifecycle) Acquire() error {
	state := DisableInterrupts()
	defer RestoreInterrupts(state)
	if l.state != StateReady {
		if l.state == StateStop {
			return ErrNotStarted
		}
		return Contractf("transfer in state %s", l.state)
	}
	l.state = StateActive
	return nil
}

// ReleaseFromISR moves ACTIVE back to READY.
func (l *Lifecycle) ReleaseFromISR() {
	if l.state == StateActive {
		l.state = StateReady
	}
}

func (l *Lifecycle) set(s ChannelState) {
	state := DisableInterrupts()
	l.state = s
	RestoreInterrupts(state)
}
