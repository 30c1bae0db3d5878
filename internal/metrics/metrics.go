// Package metrics counts session activity with atomic counters and exposes
// them to Prometheus.
package metrics

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/mrz1836/replisync/internal/auth"
	"github.com/mrz1836/replisync/internal/credentials"
	"github.com/mrz1836/replisync/internal/session"
)

// Metrics holds session metrics using atomic counters for thread safety.
// It is a session.Listener.
type Metrics struct {
	// Transitions
	transitionsTotal atomic.Int64
	stateEntries     [numStates]atomic.Int64
	currentState     atomic.Int64

	// Authentication calls
	authCallsTotal   atomic.Int64
	authErrorsTotal  atomic.Int64
	authLatencyNanos atomic.Int64

	// Session outcomes
	authSucceeded   atomic.Int64
	authFailed      atomic.Int64
	authRejected    atomic.Int64
	tokensRefreshed atomic.Int64
	bindFailures    atomic.Int64
	errorsTotal     atomic.Int64
}

// numStates sizes the per-state counters; StateStopped is the last state.
const numStates = int(session.StateStopped) + 1

// Global is the process-wide metrics instance.
//
//nolint:gochecknoglobals // Intentional global for metrics access
var Global = &Metrics{}

// OnEvent updates the counters for e.
func (m *Metrics) OnEvent(e session.Event) {
	switch e.Type {
	case session.EventStateEntered:
		m.transitionsTotal.Add(1)
		if i := int(e.To); i >= 0 && i < numStates {
			m.stateEntries[i].Add(1)
		}
		m.currentState.Store(int64(e.To))
	case session.EventAuthSucceeded:
		m.authSucceeded.Add(1)
	case session.EventAuthFailed:
		m.authFailed.Add(1)
	case session.EventAuthRejected:
		m.authRejected.Add(1)
	case session.EventTokenRefreshed:
		m.tokensRefreshed.Add(1)
	case session.EventBindFailed:
		m.bindFailures.Add(1)
	case session.EventError:
		m.errorsTotal.Add(1)
	case session.EventStateExited:
	}
}

// RecordAuthCall records one authentication round trip.
func (m *Metrics) RecordAuthCall(duration time.Duration, err error) {
	m.authCallsTotal.Add(1)
	m.authLatencyNanos.Add(duration.Nanoseconds())
	if err != nil {
		m.authErrorsTotal.Add(1)
	}
}

// InstrumentAuth wraps c so that every call is recorded on m.
func (m *Metrics) InstrumentAuth(c auth.Client) auth.Client {
	return auth.ClientFunc(func(ctx context.Context, creds credentials.Credentials) (*auth.Result, error) {
		start := time.Now()
		res, err := c.Authenticate(ctx, creds)
		m.RecordAuthCall(time.Since(start), err)
		return res, err
	})
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	TransitionsTotal int64
	StateEntries     map[session.State]int64
	CurrentState     session.State
	AuthCallsTotal   int64
	AuthErrorsTotal  int64
	AuthLatencyNanos int64
	AuthSucceeded    int64
	AuthFailed       int64
	AuthRejected     int64
	TokensRefreshed  int64
	BindFailures     int64
	ErrorsTotal      int64
}

// Snapshot returns a point-in-time copy of all metrics.
func (m *Metrics) Snapshot() Snapshot {
	entries := make(map[session.State]int64, numStates)
	for i := range m.stateEntries {
		entries[session.State(i)] = m.stateEntries[i].Load()
	}
	return Snapshot{
		TransitionsTotal: m.transitionsTotal.Load(),
		StateEntries:     entries,
		CurrentState:     session.State(m.currentState.Load()),
		AuthCallsTotal:   m.authCallsTotal.Load(),
		AuthErrorsTotal:  m.authErrorsTotal.Load(),
		AuthLatencyNanos: m.authLatencyNanos.Load(),
		AuthSucceeded:    m.authSucceeded.Load(),
		AuthFailed:       m.authFailed.Load(),
		AuthRejected:     m.authRejected.Load(),
		TokensRefreshed:  m.tokensRefreshed.Load(),
		BindFailures:     m.bindFailures.Load(),
		ErrorsTotal:      m.errorsTotal.Load(),
	}
}

// TransitionsTotal returns the number of states entered.
func (m *Metrics) TransitionsTotal() int64 {
	return m.transitionsTotal.Load()
}

// CurrentState returns the last state entered.
func (m *Metrics) CurrentState() session.State {
	return session.State(m.currentState.Load())
}

// AuthLatencyAvgMs returns the average authentication latency in milliseconds.
// Returns 0 if no calls have been made.
func (m *Metrics) AuthLatencyAvgMs() float64 {
	calls := m.authCallsTotal.Load()
	if calls == 0 {
		return 0
	}
	return float64(m.authLatencyNanos.Load()) / float64(calls) / 1e6
}

// AuthSuccessRate returns the share of authentication calls that succeeded,
// as a percentage (0-100). Returns 0 if no calls have been made.
func (m *Metrics) AuthSuccessRate() float64 {
	calls := m.authCallsTotal.Load()
	if calls == 0 {
		return 0
	}
	return float64(calls-m.authErrorsTotal.Load()) / float64(calls) * 100
}

// Reset resets all metrics to zero.
// Useful for testing.
func (m *Metrics) Reset() {
	m.transitionsTotal.Store(0)
	for i := range m.stateEntries {
		m.stateEntries[i].Store(0)
	}
	m.currentState.Store(0)
	m.authCallsTotal.Store(0)
	m.authErrorsTotal.Store(0)
	m.authLatencyNanos.Store(0)
	m.authSucceeded.Store(0)
	m.authFailed.Store(0)
	m.authRejected.Store(0)
	m.tokensRefreshed.Store(0)
	m.bindFailures.Store(0)
	m.errorsTotal.Store(0)
}
