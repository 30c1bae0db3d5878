// Package retry runs network operations with exponential backoff.
//
// Attempt n (starting at 0) is preceded by a sleep of Delay(n): the first
// attempt runs immediately, the second after 2s, then 4s, 8s and so on, capped
// at the configured maximum. Sleeps are interruptible through the context.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/mrz1836/replisync/internal/network"
	syncerr "github.com/mrz1836/replisync/pkg/errors"
)

// DefaultMaxDelay caps the backoff delay.
const DefaultMaxDelay = 5 * time.Minute

// baseDelayMs is the delay unit in milliseconds.
const baseDelayMs = 1000.0

// ErrPermanent marks an error that must not be retried.
var ErrPermanent = &syncerr.SyncError{
	Code:     "PERMANENT_FAILURE",
	Message:  "permanent failure",
	ExitCode: syncerr.ExitGeneral,
}

// Config configures a retry loop.
type Config struct {
	// MaxAttempts bounds the number of attempts. Zero means unlimited.
	MaxAttempts int
	// MaxDelay caps a single backoff sleep. Zero means DefaultMaxDelay.
	MaxDelay time.Duration
	// Scale multiplies every delay. Zero means 1.
	Scale float64
	// Network, when set, is consulted before each retry; the loop waits for
	// connectivity instead of burning attempts while offline.
	Network network.Watcher
	// OnFailure is called after each failed attempt that will be retried,
	// with the attempt number and the delay before the next one.
	OnFailure func(attempt int, err error, next time.Duration)
}

func (c Config) maxDelay() time.Duration {
	if c.MaxDelay <= 0 {
		return DefaultMaxDelay
	}
	return c.MaxDelay
}

func (c Config) scale() float64 {
	if c.Scale <= 0 {
		return 1
	}
	return c.Scale
}

// Delay returns the sleep before attempt n: 0 for n=0, then 2^n seconds,
// never more than maxDelay.
func Delay(attempt int, maxDelay time.Duration) time.Duration {
	return ScaledDelay(attempt, maxDelay, 1)
}

// ScaledDelay is Delay with every value multiplied by scale. The delay is
// computed in floating point and truncated to whole milliseconds.
func ScaledDelay(attempt int, maxDelay time.Duration, scale float64) time.Duration {
	if attempt <= 0 {
		return 0
	}

	ms := math.Pow(2, float64(attempt)) * baseDelayMs * scale
	maxMs := float64(maxDelay.Milliseconds())
	if ms > maxMs || math.IsInf(ms, 1) {
		ms = maxMs
	}
	if ms < 0 {
		ms = 0
	}
	return time.Duration(int64(ms)) * time.Millisecond
}

// Schedule returns the delays before attempts 0 through n-1.
func Schedule(n int, maxDelay time.Duration) []time.Duration {
	out := make([]time.Duration, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Delay(i, maxDelay))
	}
	return out
}

// Run calls op until it succeeds, returns a non-retryable error, or ctx is
// canceled. On cancellation it returns ctx.Err() and never calls op again.
func Run[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var minNext time.Duration

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := ScaledDelay(attempt, cfg.maxDelay(), cfg.scale())
			if minNext > delay {
				delay = min(minNext, cfg.maxDelay())
			}
			if err := Sleep(ctx, delay); err != nil {
				return zero, err
			}
			if err := WaitOnline(ctx, cfg.Network); err != nil {
				return zero, err
			}
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}

		if !IsRetryable(err) {
			return zero, err
		}

		if cfg.MaxAttempts > 0 && attempt+1 >= cfg.MaxAttempts {
			return zero, fmt.Errorf("operation failed after %d attempts: %w", attempt+1, err)
		}

		minNext = RetryAfter(err)
		if cfg.OnFailure != nil {
			next := ScaledDelay(attempt+1, cfg.maxDelay(), cfg.scale())
			cfg.OnFailure(attempt, err, max(next, min(minNext, cfg.maxDelay())))
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WaitOnline returns once w reports connectivity or ctx is done.
// A nil watcher is treated as always online.
func WaitOnline(ctx context.Context, w network.Watcher) error {
	if w == nil {
		return ctx.Err()
	}

	for !w.IsOnline() {
		ch := make(chan bool, 1)
		sub := w.Subscribe(func(online bool) {
			ch <- online
		})

		// Connectivity may have returned before the subscription landed
		if w.IsOnline() {
			sub.Unsubscribe()
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			sub.Unsubscribe()
			return ctx.Err()
		case online := <-ch:
			if online {
				return ctx.Err()
			}
		}
	}
	return ctx.Err()
}

// IsRetryable reports whether err is transient. Every error is transient
// unless it is marked permanent, is a credential rejection, or is a
// cancellation.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return !IsPermanent(err)
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent) || errors.Is(err, syncerr.ErrInvalidCredentials)
}

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// afterError carries a server-requested minimum wait.
type afterError struct {
	err   error
	after time.Duration
}

func (e *afterError) Error() string {
	return fmt.Sprintf("%v (retry after %s)", e.err, e.after)
}

func (e *afterError) Unwrap() error {
	return e.err
}

// WithRetryAfter attaches a minimum wait before the next attempt.
func WithRetryAfter(err error, after time.Duration) error {
	if err == nil || after <= 0 {
		return err
	}
	return &afterError{err: err, after: after}
}

// RetryAfter extracts a wait attached with WithRetryAfter, or 0.
func RetryAfter(err error) time.Duration {
	var ae *afterError
	if errors.As(err, &ae) {
		return ae.after
	}
	return 0
}

// ParseRetryAfter parses a Retry-After header given in seconds.
// Returns 0 if the header is empty or not a number.
func ParseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}

	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}

	return time.Duration(seconds) * time.Second
}
