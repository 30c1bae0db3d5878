package session

import (
	"github.com/mrz1836/replisync/internal/credentials"
	syncerr "github.com/mrz1836/replisync/pkg/errors"
)

// State identifies a session lifecycle state.
type State int

// Lifecycle states.
const (
	StateInitial State = iota
	StateStarted
	StateUnbound
	StateBinding
	StateAuthenticating
	StateAuthenticationRequired
	StateBound
	StateStopped
)

var stateNames = [...]string{
	StateInitial:                "INITIAL",
	StateStarted:                "STARTED",
	StateUnbound:                "UNBOUND",
	StateBinding:                "BINDING",
	StateAuthenticating:         "AUTHENTICATING",
	StateAuthenticationRequired: "AUTHENTICATION_REQUIRED",
	StateBound:                  "BOUND",
	StateStopped:                "STOPPED",
}

// String returns the upper-case state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// States returns every state in lifecycle order.
func States() []State {
	out := make([]State, len(stateNames))
	for i := range stateNames {
		out[i] = State(i)
	}
	return out
}

// Action names used in usage errors.
const (
	actionStart          = "start"
	actionStop           = "stop"
	actionRefresh        = "refresh"
	actionSetCredentials = "setCredentials"
	actionNotifyCommit   = "notifyCommit"
)

// handler is one lifecycle state. A fresh value is built for every
// transition and holds only what that state owns. All methods run with the
// session lock held.
type handler interface {
	tag() State
	enter(s *Session)
	exit(s *Session)

	onStart(s *Session) error
	onBind(s *Session) error
	onUnbind(s *Session) error
	onStop(s *Session) error
	onRefresh(s *Session) error
	onSetCredentials(s *Session, c credentials.Credentials) error
}

// baseState supplies the behavior shared by every non-terminal state.
type baseState struct{}

func (baseState) enter(*Session) {}
func (baseState) exit(*Session)  {}

func (baseState) onStart(s *Session) error {
	return syncerr.WithDetails(syncerr.ErrAlreadyStarted, map[string]string{
		"action": actionStart,
		"state":  s.current.tag().String(),
	})
}

func (baseState) onBind(*Session) error    { return nil }
func (baseState) onUnbind(*Session) error  { return nil }
func (baseState) onRefresh(*Session) error { return nil }

func (baseState) onStop(s *Session) error {
	s.transition(&stoppedState{})
	return nil
}

func (baseState) onSetCredentials(s *Session, c credentials.Credentials) error {
	s.creds.Replace(c)
	s.transition(&bindingState{})
	return nil
}
