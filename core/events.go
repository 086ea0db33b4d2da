package core

import "context"

// EventFlags are the conditions a channel announces to its listeners.
type EventFlags uint8

const (
	EventInputAvailable EventFlags = 1 << iota
	EventOutputEmpty
	EventErrors
	EventTransferDone
	EventFatal
)

// MaxListeners bounds the number of subscriptions per event source.
const MaxListeners = 4

// Listener accumulates the events broadcast since its last Wait.
type Listener struct {
	pending EventFlags
	notify  chan struct{}
}

// Wait returns and clears the accumulated events, blocking until at least
// one is pending or ctx is done.
func (l *Listener) Wait(ctx context.Context) (EventFlags, error) {
	for {
		state := DisableInterrupts()
		flags := l.pending
		l.pending = 0
		RestoreInterrupts(state)
		if flags != 0 {
			return flags, nil
		}
		select {
		case <-l.notify:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// EventSource fans broadcasts out to a fixed set of listeners.
type EventSource struct {
	listeners  [MaxListeners]*Listener
	broadcasts uint32
}

// Subscribe registers a new listener.
func (s *EventSource) Subscribe() (*Listener, error) {
	state := DisableInterrupts()
	defer RestoreInterrupts(state)
	for i, l := range s.listeners {
		if l == nil {
			l = &Listener{notify: make(chan struct{}, 1)}
			s.listeners[i] = l
			return l, nil
		}
	}
	return nil, ErrSlotInUse
}

// Unsubscribe removes l.
func (s *EventSource) Unsubscribe(l *Listener) {
	state := DisableInterrupts()
	defer RestoreInterrupts(state)
	for i := range s.listeners {
		if s.listeners[i] == l {
			s.listeners[i] = nil
		}
	}
}

// BroadcastFromISR ORs flags into every listener and wakes it.
func (s *EventSource) BroadcastFromISR(flags EventFlags) {
	if flags == 0 {
		return
	}
	s.broadcasts++
	for _, l := range s.listeners {
		if l == nil {
			continue
		}
		l.pending |= flags
		select {
		case l.notify <- struct{}{}:
		default:
		}
	}
}

// Broadcast is the thread form of BroadcastFromISR.
func (s *EventSource) Broadcast(flags EventFlags) {
	state := DisableInterrupts()
	defer RestoreInterrupts(state)
	s.BroadcastFromISR(flags)
}

// Broadcasts returns how many broadcasts were made.
func (s *EventSource) Broadcasts() uint32 {
	state := DisableInterrupts()
	defer RestoreInterrupts(state)
	return s.broadcasts
}

// Status is the pending error set of one channel, the events announcing it
// and the first fatal condition reported from interrupt context.
type Status struct {
	Events EventSource
	errs   ErrorFlags
	fatal  error
}

// RaiseFromISR accumulates errs and broadcasts events in one combined event.
// A non-empty errs adds EventErrors.
func (s *Status) RaiseFromISR(errs ErrorFlags, events EventFlags) {
	if errs != 0 {
		s.errs |= errs
		events |= EventErrors
	}
	s.Events.BroadcastFromISR(events)
}

// FailFromISR records err as fatal and broadcasts EventFatal. Only the
// first fatal error is kept.
func (s *Status) FailFromISR(err error) {
	s.Events.BroadcastFromISR(s.RecordFatalFromISR(err))
}

// RecordFatalFromISR records err like FailFromISR without broadcasting. It
// returns EventFatal for the caller to fold into its own RaiseFromISR.
func (s *Status) RecordFatalFromISR(err error) EventFlags {
	if s.fatal == nil {
		s.fatal = err
	}
	return EventFatal
}

// Errors returns and clears the pending error flags.
func (s *Status) Errors() ErrorFlags {
	state := DisableInterrupts()
	defer RestoreInterrupts(state)
	errs := s.errs
	s.errs = 0
	return errs
}

// Fatal returns and clears the recorded fatal error.
func (s *Status) Fatal() error {
	state := DisableInterrupts()
	defer RestoreInterrupts(state)
	err := s.fatal
	s.fatal = nil
	return err
}

// ResetFromISR drops pending errors and any fatal condition.
func (s *Status) ResetFromISR() {
	s.errs = 0
	s.fatal = nil
}
