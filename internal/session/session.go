// Package session drives a replica's synchronization session through its
// lifecycle: start, bind, authenticate with retry, stay bound with token
// refresh, unbind and stop.
//
// All actions are serialized by one lock. Each state is a fresh value that
// owns its background work; leaving a state cancels that work and bumps a
// generation counter so that late callbacks from it are ignored.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/semaphore"

	"github.com/mrz1836/replisync/internal/auth"
	"github.com/mrz1836/replisync/internal/binding"
	"github.com/mrz1836/replisync/internal/credentials"
	"github.com/mrz1836/replisync/internal/network"
	"github.com/mrz1836/replisync/internal/retry"
	syncerr "github.com/mrz1836/replisync/pkg/errors"
)

// DefaultRefreshMargin is how long before access token expiry BOUND refreshes.
const DefaultRefreshMargin = time.Minute

// ErrMissingDependency is returned by New when a required collaborator is nil.
var ErrMissingDependency = errors.New("session: missing dependency")

// Logger is the logging surface the session uses.
type Logger interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

// Options configures a Session.
type Options struct {
	// ID names the session in logs and events. Generated when empty.
	ID string
	// Path is the local replica path handed to the binder.
	Path string

	Auth   auth.Client
	Binder binding.Binder
	// Network gates authentication on connectivity. Nil means always online.
	Network network.Watcher

	// Store holds credentials and tokens. When nil a store without a token
	// cache is created from Credentials.
	Store       *credentials.Store
	Credentials credentials.Credentials

	// Pool runs background network work. A private pool is created when nil.
	Pool *retry.Pool

	MaxDelay    time.Duration
	Scale       float64
	MaxAttempts int

	RefreshMargin time.Duration

	Logger    Logger
	Listeners []Listener
	Now       func() time.Time
}

// Session is the lifecycle orchestrator for one replica.
type Session struct {
	mu sync.Mutex

	id        string
	path      string
	auth      auth.Client
	binder    binding.Binder
	network   network.Watcher
	creds     *credentials.Store
	pool      *retry.Pool
	retryCfg  retry.Config
	margin    time.Duration
	logger    Logger
	listeners []Listener
	now       func() time.Time

	// authSlot admits one authentication call at a time.
	authSlot *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup

	current handler
	gen     uint64
}

// New creates a session in INITIAL.
func New(opts *Options) (*Session, error) {
	if opts == nil || opts.Auth == nil {
		return nil, errors.Join(ErrMissingDependency, errors.New("auth client"))
	}
	if opts.Binder == nil {
		return nil, errors.Join(ErrMissingDependency, errors.New("binder"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:       opts.ID,
		path:     opts.Path,
		auth:     opts.Auth,
		binder:   opts.Binder,
		network:  opts.Network,
		creds:    opts.Store,
		pool:     opts.Pool,
		margin:   opts.RefreshMargin,
		logger:   opts.Logger,
		now:      opts.Now,
		authSlot: semaphore.NewWeighted(1),
		ctx:      ctx,
		cancel:   cancel,
		current:  &initialState{},
		retryCfg: retry.Config{
			MaxAttempts: opts.MaxAttempts,
			MaxDelay:    opts.MaxDelay,
			Scale:       opts.Scale,
			Network:     opts.Network,
		},
	}
	s.listeners = append(s.listeners, opts.Listeners...)

	if s.id == "" {
		s.id = ulid.Make().String()
	}
	if s.creds == nil {
		s.creds = credentials.NewStore(opts.Credentials, nil)
	}
	if s.pool == nil {
		s.pool = retry.NewPool(retry.DefaultWorkers)
	}
	if s.margin <= 0 {
		s.margin = DefaultRefreshMargin
	}
	if s.logger == nil {
		s.logger = nopLogger{}
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Start initializes the session and moves it to UNBOUND. Only valid in INITIAL.
func (s *Session) Start() error {
	return s.dispatch(func(h handler) error { return h.onStart(s) })
}

// Bind starts binding. In BINDING or AUTHENTICATING it restarts the attempt.
func (s *Session) Bind() error {
	return s.dispatch(func(h handler) error { return h.onBind(s) })
}

// Unbind cancels binding work, releases the binding and moves to UNBOUND.
func (s *Session) Unbind() error {
	return s.dispatch(func(h handler) error { return h.onUnbind(s) })
}

// Stop moves the session to STOPPED. Stopping twice is a usage error.
func (s *Session) Stop() error {
	return s.dispatch(func(h handler) error { return h.onStop(s) })
}

// Refresh re-authenticates in the background while BOUND.
func (s *Session) Refresh() error {
	return s.dispatch(func(h handler) error { return h.onRefresh(s) })
}

// SetCredentials replaces the stored credentials.
func (s *Session) SetCredentials(c credentials.Credentials) error {
	return s.dispatch(func(h handler) error { return h.onSetCredentials(s, c) })
}

// NotifyCommit forwards a local commit version to the binding while BOUND.
func (s *Session) NotifyCommit(version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch st := s.current.(type) {
	case *stoppedState:
		return stoppedError(actionNotifyCommit)
	case *boundState:
		st.notifyCommit(s, version)
	}
	return nil
}

// ReportError lets the binding layer surface an asynchronous failure.
// An expired token while BOUND starts a refresh; anything else is emitted
// as an error event.
func (s *Session) ReportError(err error) {
	if err == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.handleError(err)
}

// handleError routes an asynchronous failure. Caller holds s.mu.
func (s *Session) handleError(err error) {
	if st, ok := s.current.(*boundState); ok && errors.Is(err, syncerr.ErrTokenExpired) {
		s.creds.InvalidateAccess()
		st.startRefresh(s)
		return
	}
	s.logger.Error("session[%s]: error in %s: %v", s.id, s.current.tag(), err)
	s.emitIn(EventError, 0, 0, err)
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.tag()
}

// IsBound reports whether the session is in BOUND.
func (s *Session) IsBound() bool {
	return s.State() == StateBound
}

// Handle returns the native binding handle. It is present exactly while BOUND.
func (s *Session) Handle() (binding.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.current.(*boundState); ok {
		return st.handle, true
	}
	return 0, false
}

// Credentials returns a snapshot of the credential store.
func (s *Session) Credentials() credentials.Snapshot {
	return s.creds.Snapshot()
}

// AddListener registers l for subsequent events.
func (s *Session) AddListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Wait blocks until every background task the session started has returned.
func (s *Session) Wait() {
	s.tasks.Wait()
}

func (s *Session) dispatch(action func(h handler) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return action(s.current)
}

// transition exits the current state and enters next. Caller holds s.mu.
// Entry hooks may transition again.
func (s *Session) transition(next handler) {
	prev := s.current
	s.gen++

	prev.exit(s)
	s.emit(Event{Type: EventStateExited, From: prev.tag(), To: next.tag()})

	s.current = next
	s.logger.Debug("session[%s]: %s -> %s", s.id, prev.tag(), next.tag())
	s.emit(Event{Type: EventStateEntered, From: prev.tag(), To: next.tag()})

	next.enter(s)
}

// active reports whether gen still names the current state. Caller holds s.mu.
func (s *Session) active(gen uint64) bool {
	return s.gen == gen
}

// spawn runs fn on the network pool under the session context.
func (s *Session) spawn(fn func(ctx context.Context)) *retry.Task {
	s.tasks.Add(1)
	t := s.pool.Go(s.ctx, fn)
	go func() {
		<-t.Done()
		s.tasks.Done()
	}()
	return t
}

// authenticate runs one serialized authentication call.
func (s *Session) authenticate(ctx context.Context, c credentials.Credentials) (*auth.Result, error) {
	if err := s.authSlot.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.authSlot.Release(1)
	return s.auth.Authenticate(ctx, c)
}

// retryConfig returns the retry settings with a failure hook bound to gen.
func (s *Session) retryConfig(gen uint64, failed EventType) retry.Config {
	cfg := s.retryCfg
	cfg.OnFailure = func(attempt int, err error, next time.Duration) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.active(gen) {
			return
		}
		s.logger.Debug("session[%s]: attempt %d failed, retrying in %s: %v", s.id, attempt, next, err)
		s.emitIn(failed, attempt, next, err)
	}
	return cfg
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func stoppedError(action string) error {
	return syncerr.WithDetails(syncerr.ErrSessionStopped, map[string]string{
		"action": action,
		"state":  StateStopped.String(),
	})
}
