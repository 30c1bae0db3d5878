// Package network reports connectivity to the synchronization service.
package network

import (
	"sync"
)

// Watcher reports connectivity and delivers change notifications.
type Watcher interface {
	// IsOnline reports current connectivity.
	IsOnline() bool
	// Subscribe registers fn for the next connectivity change only. fn is
	// called at most once, with the new state, and the subscription is then
	// removed automatically.
	Subscribe(fn func(online bool)) Subscription
}

// Subscription is a pending single-shot registration.
type Subscription interface {
	// Unsubscribe removes the registration. It is safe to call more than once
	// and after delivery.
	Unsubscribe()
}

// Monitor is a Watcher whose state is set explicitly.
type Monitor struct {
	mu     sync.Mutex
	online bool
	nextID uint64
	subs   map[uint64]func(bool)
}

// Compile-time interface check.
var _ Watcher = (*Monitor)(nil)

// NewMonitor creates a monitor with the given initial state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{
		online: online,
		subs:   make(map[uint64]func(bool)),
	}
}

// IsOnline reports current connectivity.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers fn for the next change.
func (m *Monitor) Subscribe(fn func(online bool)) Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.subs[id] = fn
	return &subscription{monitor: m, id: id}
}

// SetOnline updates connectivity. On a change every pending subscriber is
// removed and then called, outside the lock, with the new state.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	pending := m.subs
	m.subs = make(map[uint64]func(bool))
	m.mu.Unlock()

	for _, fn := range pending {
		fn(online)
	}
}

// Subscribers returns the number of pending subscriptions.
func (m *Monitor) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

type subscription struct {
	monitor *Monitor
	id      uint64
}

func (s *subscription) Unsubscribe() {
	s.monitor.mu.Lock()
	defer s.monitor.mu.Unlock()
	delete(s.monitor.subs, s.id)
}
