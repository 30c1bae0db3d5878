package session

import (
	"context"
	"errors"
	"time"

	"github.com/mrz1836/replisync/internal/auth"
	"github.com/mrz1836/replisync/internal/binding"
	"github.com/mrz1836/replisync/internal/credentials"
	"github.com/mrz1836/replisync/internal/network"
	"github.com/mrz1836/replisync/internal/retry"
	syncerr "github.com/mrz1836/replisync/pkg/errors"
)

// INITIAL

type initialState struct{ baseState }

func (*initialState) tag() State { return StateInitial }

func (*initialState) onStart(s *Session) error {
	s.transition(&startedState{})
	return nil
}

func (*initialState) onSetCredentials(s *Session, c credentials.Credentials) error {
	s.creds.Replace(c)
	return nil
}

// STARTED

type startedState struct{ baseState }

func (*startedState) tag() State { return StateStarted }

func (*startedState) enter(s *Session) {
	if s.creds.Restore() {
		s.logger.Debug("session[%s]: restored cached tokens", s.id)
	}
	s.transition(&unboundState{})
}

// UNBOUND

type unboundState struct{ baseState }

func (*unboundState) tag() State { return StateUnbound }

func (*unboundState) onBind(s *Session) error {
	s.transition(&bindingState{})
	return nil
}

// BINDING

// bindingState opens the native binding with the current access token, or
// hands over to AUTHENTICATING when there is none. authenticated is set when
// the tokens were just issued, so an already-expired token is still tried
// once instead of looping back into authentication.
type bindingState struct {
	baseState
	authenticated bool
	task          *retry.Task
}

func (*bindingState) tag() State { return StateBinding }

func (st *bindingState) enter(s *Session) {
	snap := s.creds.Snapshot()
	if !st.authenticated && !snap.HasValidAccess(s.now()) {
		s.transition(&authenticatingState{})
		return
	}
	st.task = s.startBind(s.gen, snap.Tokens.Access.Value)
}

func (st *bindingState) exit(*Session) { st.task.Cancel() }

func (*bindingState) onBind(s *Session) error {
	s.transition(&bindingState{})
	return nil
}

func (*bindingState) onUnbind(s *Session) error {
	s.transition(&unboundState{})
	return nil
}

// startBind runs the retrying bind for token. Caller holds s.mu.
func (s *Session) startBind(gen uint64, token string) *retry.Task {
	cfg := s.retryConfig(gen, EventBindFailed)
	return s.spawn(func(ctx context.Context) {
		h, err := retry.Run(ctx, cfg, func(ctx context.Context) (binding.Handle, error) {
			h, err := s.binder.Bind(ctx, s.path, token)
			if errors.Is(err, syncerr.ErrTokenExpired) {
				return 0, retry.Permanent(err)
			}
			return h, err
		})
		s.bindFinished(ctx, gen, h, err)
	})
}

func (s *Session) bindFinished(ctx context.Context, gen uint64, h binding.Handle, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.Err() != nil || !s.active(gen) || isCanceled(err) {
		// The state that asked for this handle is gone
		if err == nil {
			if uerr := s.binder.Unbind(h); uerr != nil {
				s.logger.Error("session[%s]: releasing stale handle %d: %v", s.id, h, uerr)
			}
		}
		return
	}

	if err == nil {
		s.logger.Debug("session[%s]: replica bound as handle %d", s.id, h)
		s.transition(&boundState{handle: h})
		return
	}

	s.logger.Error("session[%s]: bind failed: %v", s.id, err)
	s.emitIn(EventBindFailed, 0, 0, err)
	if errors.Is(err, syncerr.ErrTokenExpired) {
		s.creds.InvalidateAccess()
		s.transition(&authRequiredState{})
		return
	}
	s.transition(&unboundState{})
}

// AUTHENTICATING

type authenticatingState struct {
	baseState
	work authWork
}

func (*authenticatingState) tag() State { return StateAuthenticating }

func (st *authenticatingState) enter(s *Session) { st.work.begin(s) }
func (st *authenticatingState) exit(*Session)    { st.work.cancel() }

func (*authenticatingState) onBind(s *Session) error {
	s.transition(&bindingState{})
	return nil
}

func (*authenticatingState) onUnbind(s *Session) error {
	s.transition(&unboundState{})
	return nil
}

// AUTHENTICATION_REQUIRED

// authRequiredState re-authenticates with the stored credentials, unless it
// is parked: the credentials were rejected or retries were exhausted, and
// only new credentials or an explicit bind can make progress.
type authRequiredState struct {
	baseState
	park bool
	work authWork
}

func (*authRequiredState) tag() State { return StateAuthenticationRequired }

func (st *authRequiredState) enter(s *Session) {
	if st.park || s.creds.Snapshot().Rejected {
		s.logger.Debug("session[%s]: waiting for new credentials", s.id)
		return
	}
	st.work.begin(s)
}

func (st *authRequiredState) exit(*Session) { st.work.cancel() }

func (*authRequiredState) onBind(s *Session) error {
	s.transition(&bindingState{})
	return nil
}

func (*authRequiredState) onUnbind(s *Session) error {
	s.transition(&unboundState{})
	return nil
}

// authWork is the background authentication owned by AUTHENTICATING and
// AUTHENTICATION_REQUIRED: either a running retry task or a pending
// network subscription, never both.
type authWork struct {
	task *retry.Task
	sub  network.Subscription
}

func (w *authWork) begin(s *Session) {
	gen := s.gen
	snap := s.creds.Snapshot()

	if err := snap.Credentials.Validate(); err != nil {
		s.emitIn(EventAuthRejected, 0, 0, syncerr.WithCause(syncerr.ErrMissingCredentials, err))
		s.transition(&authRequiredState{park: true})
		return
	}

	if s.network != nil && !s.network.IsOnline() {
		w.awaitNetwork(s, gen)
		return
	}
	w.task = s.startAuth(gen, snap)
}

func (w *authWork) awaitNetwork(s *Session, gen uint64) {
	w.sub = s.network.Subscribe(func(online bool) {
		s.networkChanged(gen, w, online)
	})
	s.logger.Debug("session[%s]: offline, waiting for network", s.id)

	// Connectivity may have returned before the subscription landed
	if s.network.IsOnline() {
		w.sub.Unsubscribe()
		w.sub = nil
		w.task = s.startAuth(gen, s.creds.Snapshot())
	}
}

func (w *authWork) cancel() {
	if w.sub != nil {
		w.sub.Unsubscribe()
		w.sub = nil
	}
	w.task.Cancel()
	w.task = nil
}

func (s *Session) networkChanged(gen uint64, w *authWork, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active(gen) || w.task != nil {
		return
	}
	w.sub = nil
	if !online {
		w.awaitNetwork(s, gen)
		return
	}
	s.logger.Debug("session[%s]: network available", s.id)
	w.task = s.startAuth(gen, s.creds.Snapshot())
}

// startAuth runs the retrying authentication loop for snap. Caller holds s.mu.
func (s *Session) startAuth(gen uint64, snap credentials.Snapshot) *retry.Task {
	cfg := s.retryConfig(gen, EventAuthFailed)
	return s.spawn(func(ctx context.Context) {
		res, err := retry.Run(ctx, cfg, func(ctx context.Context) (*auth.Result, error) {
			return s.authenticate(ctx, snap.Credentials)
		})
		s.authFinished(ctx, gen, snap.Generation, res, err)
	})
}

func (s *Session) authFinished(ctx context.Context, gen, credGen uint64, res *auth.Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.Err() != nil || !s.active(gen) || isCanceled(err) {
		return
	}

	if err == nil {
		if !s.creds.SetTokens(credGen, res.Tokens) {
			return
		}
		s.emitIn(EventAuthSucceeded, 0, 0, nil)
		s.transition(&bindingState{authenticated: true})
		return
	}

	s.logger.Error("session[%s]: authentication failed: %v", s.id, err)
	if retry.IsPermanent(err) {
		s.creds.MarkRejected(credGen)
		s.emitIn(EventAuthRejected, 0, 0, err)
	} else {
		s.emitIn(EventError, 0, 0, err)
	}
	s.transition(&authRequiredState{park: true})
}

// BOUND

// boundState owns the native binding handle from entry to exit.
type boundState struct {
	baseState

	handle binding.Handle
	// dropped is set when the binder already discarded handle.
	dropped bool

	refreshTask *retry.Task
	timer       *time.Timer
}

func (*boundState) tag() State { return StateBound }

func (st *boundState) enter(s *Session) {
	st.scheduleRefresh(s, s.gen, s.creds.Snapshot().Tokens.Access.Expires)
}

func (st *boundState) exit(s *Session) {
	st.refreshTask.Cancel()
	if st.timer != nil {
		st.timer.Stop()
	}
	if st.dropped {
		return
	}
	if err := s.binder.Unbind(st.handle); err != nil {
		s.logger.Error("session[%s]: releasing handle %d: %v", s.id, st.handle, err)
	}
}

func (*boundState) onUnbind(s *Session) error {
	s.transition(&unboundState{})
	return nil
}

func (st *boundState) onRefresh(s *Session) error {
	st.startRefresh(s)
	return nil
}

// scheduleRefresh arms a refresh margin before expires. Caller holds s.mu.
func (st *boundState) scheduleRefresh(s *Session, gen uint64, expires time.Time) {
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	if expires.IsZero() {
		return
	}

	delay := max(expires.Sub(s.now())-s.margin, 0)
	st.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.active(gen) {
			st.startRefresh(s)
		}
	})
}

// startRefresh replaces any running refresh with a new one. Caller holds s.mu.
func (st *boundState) startRefresh(s *Session) {
	st.refreshTask.Cancel()

	gen := s.gen
	snap := s.creds.Snapshot()
	creds, viaRefreshToken := refreshCredentials(snap, s.now())
	cfg := s.retryConfig(gen, EventAuthFailed)

	st.refreshTask = s.spawn(func(ctx context.Context) {
		res, err := retry.Run(ctx, cfg, func(ctx context.Context) (*auth.Result, error) {
			return s.authenticate(ctx, creds)
		})
		s.refreshFinished(ctx, gen, st, snap.Generation, viaRefreshToken, res, err)
	})
}

func (s *Session) refreshFinished(ctx context.Context, gen uint64, st *boundState, credGen uint64, viaRefreshToken bool, res *auth.Result, err error) {
	s.mu.Lock()

	if ctx.Err() != nil || !s.active(gen) || isCanceled(err) {
		s.mu.Unlock()
		return
	}

	if err != nil {
		defer s.mu.Unlock()
		s.logger.Error("session[%s]: token refresh failed: %v", s.id, err)

		switch {
		case retry.IsPermanent(err) && viaRefreshToken:
			// The refresh token was refused; fall back to the stored credentials
			s.creds.InvalidateAccess()
			s.emitIn(EventAuthRejected, 0, 0, err)
			s.transition(&authRequiredState{})
		case retry.IsPermanent(err):
			s.creds.MarkRejected(credGen)
			s.emitIn(EventAuthRejected, 0, 0, err)
			s.transition(&authRequiredState{park: true})
		default:
			s.emitIn(EventError, 0, 0, err)
		}
		return
	}

	if !s.creds.SetTokens(credGen, res.Tokens) {
		s.mu.Unlock()
		return
	}
	s.emitIn(EventTokenRefreshed, 0, 0, nil)
	st.scheduleRefresh(s, gen, res.Tokens.Access.Expires)

	handle := st.handle
	s.mu.Unlock()

	// Reopening the binding may touch the network, so it runs unlocked
	rerr := s.binder.Refresh(handle, res.Tokens.Access.Value)
	if rerr == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil || !s.active(gen) {
		return
	}
	s.logger.Error("session[%s]: rebinding with refreshed token: %v", s.id, rerr)
	s.emitIn(EventBindFailed, 0, 0, rerr)

	// The binder dropped the handle; rebind from scratch
	st.dropped = true
	if errors.Is(rerr, syncerr.ErrTokenExpired) {
		s.creds.InvalidateAccess()
		s.transition(&authRequiredState{})
		return
	}
	s.transition(&bindingState{})
}

// notifyCommit forwards version to the binder in the background. Caller holds s.mu.
func (st *boundState) notifyCommit(s *Session, version int64) {
	gen, handle := s.gen, st.handle
	s.spawn(func(context.Context) {
		if err := s.binder.NotifyCommit(handle, version); err != nil {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.active(gen) {
				s.handleError(err)
			}
		}
	})
}

// refreshCredentials prefers a live refresh token over the stored credentials.
func refreshCredentials(snap credentials.Snapshot, now time.Time) (credentials.Credentials, bool) {
	if snap.Tokens.Refresh.ValidAt(now) && snap.Credentials.Provider != credentials.ProviderAccessToken {
		return credentials.Credentials{
			Provider: credentials.ProviderRefreshToken,
			Identity: snap.Credentials.Identity,
			Secret:   snap.Tokens.Refresh.Value,
		}, true
	}
	return snap.Credentials, false
}

// STOPPED

type stoppedState struct{ baseState }

func (*stoppedState) tag() State { return StateStopped }

func (*stoppedState) enter(s *Session) {
	s.creds.Clear()
	s.cancel()
}

func (*stoppedState) onStart(*Session) error   { return stoppedError(actionStart) }
func (*stoppedState) onStop(*Session) error    { return stoppedError(actionStop) }
func (*stoppedState) onRefresh(*Session) error { return stoppedError(actionRefresh) }

func (*stoppedState) onSetCredentials(*Session, credentials.Credentials) error {
	return stoppedError(actionSetCredentials)
}
