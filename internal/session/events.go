package session

import (
	"time"
)

// EventType classifies a session event.
type EventType string

// Event types.
const (
	EventStateExited    EventType = "state_exited"
	EventStateEntered   EventType = "state_entered"
	EventAuthSucceeded  EventType = "auth_succeeded"
	EventAuthFailed     EventType = "auth_failed"
	EventAuthRejected   EventType = "auth_rejected"
	EventTokenRefreshed EventType = "token_refreshed"
	EventBindFailed     EventType = "bind_failed"
	EventError          EventType = "error"
)

// Event describes something that happened to a session.
type Event struct {
	Type    EventType
	Session string
	// From and To are set on state events. For other events both hold the
	// state the session was in.
	From State
	To   State
	// Attempt is the zero-based attempt number of a failed auth or bind.
	Attempt int
	// Next is the delay before the following attempt.
	Next time.Duration
	Err  error
	At   time.Time
}

// Listener observes session events.
//
// Listeners are called synchronously while the session is locked: they must
// return promptly and must not call back into the Session.
type Listener interface {
	OnEvent(e Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(e Event)

// OnEvent calls f.
func (f ListenerFunc) OnEvent(e Event) {
	f(e)
}

// emit delivers e to every listener. Caller holds s.mu.
func (s *Session) emit(e Event) {
	e.Session = s.id
	if e.At.IsZero() {
		e.At = s.now()
	}
	for _, l := range s.listeners {
		l.OnEvent(e)
	}
}

// emitIn emits a non-transition event stamped with the current state.
func (s *Session) emitIn(typ EventType, attempt int, next time.Duration, err error) {
	st := s.current.tag()
	s.emit(Event{Type: typ, From: st, To: st, Attempt: attempt, Next: next, Err: err})
}
