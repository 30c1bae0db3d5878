package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mrz1836/replisync/internal/auth"
	"github.com/mrz1836/replisync/internal/binding"
	"github.com/mrz1836/replisync/internal/credentials"
	"github.com/mrz1836/replisync/internal/network"
)

// fastScale shrinks backoff delays to milliseconds.
const fastScale = 0.0005

const waitFor = 2 * time.Second

var (
	cred1 = credentials.Credentials{Provider: credentials.ProviderPassword, Identity: "alice", Secret: "one"}
	cred2 = credentials.Credentials{Provider: credentials.ProviderPassword, Identity: "alice", Secret: "two"}
)

// fakeAuth records every authentication call. respond decides the outcome
// of call n (1-based); nil succeeds with a token named after n.
type fakeAuth struct {
	mu          sync.Mutex
	calls       []credentials.Credentials
	inFlight    int
	maxInFlight int
	respond     func(ctx context.Context, n int, c credentials.Credentials) (*auth.Result, error)
}

func (f *fakeAuth) Authenticate(ctx context.Context, c credentials.Credentials) (*auth.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	n := len(f.calls)
	f.inFlight++
	f.maxInFlight = max(f.maxInFlight, f.inFlight)
	respond := f.respond
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if respond == nil {
		return tokenResult(n, time.Time{}, ""), nil
	}
	return respond(ctx, n, c)
}

func (f *fakeAuth) setRespond(fn func(ctx context.Context, n int, c credentials.Credentials) (*auth.Result, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respond = fn
}

func (f *fakeAuth) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeAuth) callsCopy() []credentials.Credentials {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]credentials.Credentials(nil), f.calls...)
}

func (f *fakeAuth) peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

func tokenResult(n int, expires time.Time, refresh string) *auth.Result {
	return &auth.Result{Tokens: credentials.Tokens{
		Access:  credentials.Token{Value: fmt.Sprintf("access-%d", n), Expires: expires},
		Refresh: credentials.Token{Value: refresh},
	}}
}

// blockUntilCanceled is a respond func for an auth call that never completes.
func blockUntilCanceled(ctx context.Context, _ int, _ credentials.Credentials) (*auth.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// fakeBinder hands out sequential handles and counts releases per handle.
type fakeBinder struct {
	mu        sync.Mutex
	next      binding.Handle
	tokens    []string
	unbinds   map[binding.Handle]int
	refreshes []string
	commits   []int64
	bindErr   func(n int) error
	refreshEr error
}

func newFakeBinder() *fakeBinder {
	return &fakeBinder{unbinds: make(map[binding.Handle]int)}
}

func (b *fakeBinder) Bind(_ context.Context, _, token string) (binding.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = append(b.tokens, token)
	if b.bindErr != nil {
		if err := b.bindErr(len(b.tokens)); err != nil {
			return 0, err
		}
	}
	b.next++
	return b.next, nil
}

func (b *fakeBinder) Unbind(h binding.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unbinds[h]++
	return nil
}

func (b *fakeBinder) Refresh(_ binding.Handle, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshes = append(b.refreshes, token)
	return b.refreshEr
}

func (b *fakeBinder) NotifyCommit(_ binding.Handle, version int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commits = append(b.commits, version)
	return nil
}

func (b *fakeBinder) bindTokens() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.tokens...)
}

func (b *fakeBinder) unbindCount(h binding.Handle) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unbinds[h]
}

func (b *fakeBinder) totalUnbinds() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, n := range b.unbinds {
		total += n
	}
	return total
}

func (b *fakeBinder) refreshTokens() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.refreshes...)
}

func (b *fakeBinder) commitVersions() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int64(nil), b.commits...)
}

// recorder collects events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) count(typ EventType, st State) int {
	n := 0
	for _, e := range r.all() {
		if e.Type != typ {
			continue
		}
		if (typ == EventStateExited && e.From == st) || (typ != EventStateExited && e.To == st) {
			n++
		}
	}
	return n
}

func (r *recorder) ofType(typ EventType) []Event {
	var out []Event
	for _, e := range r.all() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// entered returns the sequence of entered states.
func (r *recorder) entered() []State {
	var out []State
	for _, e := range r.ofType(EventStateEntered) {
		out = append(out, e.To)
	}
	return out
}

type harness struct {
	session *Session
	auth    *fakeAuth
	binder  *fakeBinder
	network *network.Monitor
	events  *recorder
}

func newHarness(t *testing.T, mutate ...func(o *Options)) *harness {
	t.Helper()

	h := &harness{
		auth:    &fakeAuth{},
		binder:  newFakeBinder(),
		network: network.NewMonitor(true),
		events:  &recorder{},
	}
	opts := &Options{
		ID:          "test",
		Path:        filepath.Join(t.TempDir(), "replica.db"),
		Auth:        h.auth,
		Binder:      h.binder,
		Network:     h.network,
		Credentials: cred1,
		Scale:       fastScale,
		Listeners:   []Listener{h.events},
	}
	for _, m := range mutate {
		m(opts)
	}

	s, err := New(opts)
	require.NoError(t, err)
	h.session = s

	t.Cleanup(func() {
		if s.State() != StateStopped {
			_ = s.Stop()
		}
		s.Wait()
	})
	return h
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.session.State() == want }, waitFor, time.Millisecond,
		"state %s, want %s", h.session.State(), want)
}

func (h *harness) waitHandle(t *testing.T) binding.Handle {
	t.Helper()
	var handle binding.Handle
	require.Eventually(t, func() bool {
		var ok bool
		handle, ok = h.session.Handle()
		return ok
	}, waitFor, time.Millisecond)
	return handle
}

// bound starts and binds the session and returns the handle BOUND holds.
func (h *harness) bound(t *testing.T) binding.Handle {
	t.Helper()
	require.NoError(t, h.session.Start())
	require.NoError(t, h.session.Bind())
	h.waitState(t, StateBound)

	handle, ok := h.session.Handle()
	require.True(t, ok, "BOUND without a handle")
	return handle
}

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
