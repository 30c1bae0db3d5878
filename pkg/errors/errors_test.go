package errors_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncerr "github.com/mrz1836/replisync/pkg/errors"
)

var (
	errInner     = errors.New("inner")
	errRootCause = errors.New("root cause")
	errPlain     = errors.New("plain error")
	errPlainCode = errors.New("plain")
)

func TestExitCodes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"success", nil, syncerr.ExitSuccess},
		{"general error", syncerr.ErrGeneral, syncerr.ExitGeneral},
		{"input error", syncerr.ErrInvalidInput, syncerr.ExitInput},
		{"auth error", syncerr.ErrAuthentication, syncerr.ExitAuth},
		{"not found error", syncerr.ErrNotFound, syncerr.ExitNotFound},
		{"permission error", syncerr.ErrPermission, syncerr.ExitPermission},
		{"usage error", syncerr.ErrUsage, syncerr.ExitUsage},
		{"stopped session", syncerr.ErrSessionStopped, syncerr.ExitUsage},
		{"rejected credentials", syncerr.ErrInvalidCredentials, syncerr.ExitAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code := syncerr.ExitCode(tt.err)
			assert.Equal(t, tt.expected, code)
		})
	}
}

func TestExitCodeWrappedError(t *testing.T) {
	t.Parallel()
	wrapped := syncerr.Wrap(syncerr.ErrNotFound, "session main")
	code := syncerr.ExitCode(wrapped)
	assert.Equal(t, syncerr.ExitNotFound, code)
}

func TestSentinelErrors(t *testing.T) {
	t.Parallel()
	// Verify that wrapping preserves error identity
	wrapped := syncerr.Wrap(syncerr.ErrGeneral, "wrapped")
	require.ErrorIs(t, wrapped, syncerr.ErrGeneral)

	wrapped = syncerr.Wrap(syncerr.ErrInvalidInput, "wrapped")
	require.ErrorIs(t, wrapped, syncerr.ErrInvalidInput)

	wrapped = syncerr.Wrap(syncerr.ErrAuthentication, "wrapped")
	require.ErrorIs(t, wrapped, syncerr.ErrAuthentication)

	wrapped = syncerr.Wrap(syncerr.ErrNotFound, "wrapped")
	require.ErrorIs(t, wrapped, syncerr.ErrNotFound)

	wrapped = syncerr.Wrap(syncerr.ErrPermission, "wrapped")
	require.ErrorIs(t, wrapped, syncerr.ErrPermission)

	wrapped = syncerr.Wrap(syncerr.ErrTokenExpired, "wrapped")
	require.ErrorIs(t, wrapped, syncerr.ErrTokenExpired)
}

func TestErrorCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err      error
		expected string
	}{
		{syncerr.ErrGeneral, "GENERAL_ERROR"},
		{syncerr.ErrInvalidInput, "INVALID_INPUT"},
		{syncerr.ErrAuthentication, "AUTHENTICATION_FAILED"},
		{syncerr.ErrNotFound, "NOT_FOUND"},
		{syncerr.ErrPermission, "PERMISSION_DENIED"},
		{syncerr.ErrBindFailed, "BIND_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			t.Parallel()
			var se *syncerr.SyncError
			require.ErrorAs(t, tt.err, &se)
			assert.Equal(t, tt.expected, se.Code)
		})
	}
}

func TestWithDetails(t *testing.T) {
	t.Parallel()
	details := map[string]string{
		"identity": "alice",
		"status":   "401",
	}

	err := syncerr.WithDetails(syncerr.ErrInvalidCredentials, details)

	var se *syncerr.SyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, details, se.Details)
}

func TestWithSuggestion(t *testing.T) {
	t.Parallel()
	suggestion := "Check the server URL with 'replisync config get server.url'"
	err := syncerr.WithSuggestion(syncerr.ErrNetworkError, suggestion)

	var se *syncerr.SyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, suggestion, se.Suggestion)
}

func TestWithDetailsAndSuggestion(t *testing.T) {
	t.Parallel()
	details := map[string]string{"key": "value"}
	suggestion := "Try this instead"

	err := syncerr.WithDetails(syncerr.ErrGeneral, details)
	err = syncerr.WithSuggestion(err, suggestion)

	var se *syncerr.SyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, details, se.Details)
	assert.Equal(t, suggestion, se.Suggestion)
}

func TestWrap(t *testing.T) {
	t.Parallel()
	wrapped := syncerr.Wrap(syncerr.ErrNotFound, "session %s", "main")
	assert.Contains(t, wrapped.Error(), "session main")
	assert.ErrorIs(t, wrapped, syncerr.ErrNotFound)
}

func TestNew(t *testing.T) {
	t.Parallel()
	err := syncerr.New("CUSTOM_ERROR", "custom error message")
	assert.Equal(t, "custom error message", err.Error())

	var se *syncerr.SyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "CUSTOM_ERROR", se.Code)
}

func TestSyncError_Error(t *testing.T) {
	t.Parallel()

	t.Run("message only", func(t *testing.T) {
		t.Parallel()
		err := &syncerr.SyncError{Code: "TEST", Message: "something failed"}
		assert.Equal(t, "something failed", err.Error())
	})

	t.Run("with details sorted", func(t *testing.T) {
		t.Parallel()
		err := &syncerr.SyncError{
			Code:    "TEST",
			Message: "failed",
			Details: map[string]string{"beta": "2", "alpha": "1"},
		}
		assert.Equal(t, "failed (alpha: 1) (beta: 2)", err.Error())
	})

	t.Run("with cause", func(t *testing.T) {
		t.Parallel()
		err := &syncerr.SyncError{
			Code:    "TEST",
			Message: "outer",
			Cause:   errInner,
		}
		assert.Equal(t, "outer: inner", err.Error())
	})

	t.Run("with details and cause", func(t *testing.T) {
		t.Parallel()
		err := &syncerr.SyncError{
			Code:    "TEST",
			Message: "outer",
			Details: map[string]string{"key": "val"},
			Cause:   errInner,
		}
		assert.Equal(t, "outer (key: val): inner", err.Error())
	})
}

func TestSyncError_Error_deterministic(t *testing.T) {
	t.Parallel()
	err := &syncerr.SyncError{
		Code:    "TEST",
		Message: "msg",
		Details: map[string]string{
			"charlie": "3",
			"alpha":   "1",
			"bravo":   "2",
			"delta":   "4",
		},
	}
	first := err.Error()
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, err.Error(), "Error() output must be deterministic (iteration %d)", i)
	}
}

func TestSyncError_Unwrap(t *testing.T) {
	t.Parallel()

	t.Run("with cause", func(t *testing.T) {
		t.Parallel()
		err := &syncerr.SyncError{Code: "TEST", Message: "wrapper", Cause: errRootCause}
		assert.Equal(t, errRootCause, err.Unwrap())
	})

	t.Run("nil cause", func(t *testing.T) {
		t.Parallel()
		err := &syncerr.SyncError{Code: "TEST", Message: "no cause"}
		assert.NoError(t, err.Unwrap())
	})
}

func TestSyncError_Is(t *testing.T) {
	t.Parallel()

	t.Run("matching code", func(t *testing.T) {
		t.Parallel()
		a := &syncerr.SyncError{Code: "SAME_CODE", Message: "a"}
		b := &syncerr.SyncError{Code: "SAME_CODE", Message: "b"}
		assert.True(t, a.Is(b))
	})

	t.Run("different code", func(t *testing.T) {
		t.Parallel()
		a := &syncerr.SyncError{Code: "CODE_A", Message: "a"}
		b := &syncerr.SyncError{Code: "CODE_B", Message: "b"}
		assert.False(t, a.Is(b))
	})

	t.Run("non-SyncError target", func(t *testing.T) {
		t.Parallel()
		a := &syncerr.SyncError{Code: "TEST", Message: "a"}
		assert.False(t, a.Is(errPlain))
	})
}

func TestAs(t *testing.T) {
	t.Parallel()

	t.Run("SyncError target", func(t *testing.T) {
		t.Parallel()
		err := syncerr.Wrap(syncerr.ErrNotFound, "wrapped")
		var se *syncerr.SyncError
		assert.True(t, syncerr.As(err, &se))
		assert.Equal(t, "NOT_FOUND", se.Code)
	})

	t.Run("non-SyncError", func(t *testing.T) {
		t.Parallel()
		var se *syncerr.SyncError
		assert.False(t, syncerr.As(errPlain, &se))
	})
}

func TestIs(t *testing.T) {
	t.Parallel()

	t.Run("matching sentinel", func(t *testing.T) {
		t.Parallel()
		wrapped := syncerr.Wrap(syncerr.ErrNotFound, "context")
		assert.True(t, syncerr.Is(wrapped, syncerr.ErrNotFound))
	})

	t.Run("non-matching", func(t *testing.T) {
		t.Parallel()
		wrapped := syncerr.Wrap(syncerr.ErrNotFound, "context")
		assert.False(t, syncerr.Is(wrapped, syncerr.ErrPermission))
	})

	t.Run("nil error", func(t *testing.T) {
		t.Parallel()
		assert.False(t, syncerr.Is(nil, syncerr.ErrGeneral))
	})
}

func TestCode_edgeCases(t *testing.T) {
	t.Parallel()

	t.Run("SyncError", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "NOT_FOUND", syncerr.Code(syncerr.ErrNotFound))
	})

	t.Run("non-SyncError", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "GENERAL_ERROR", syncerr.Code(errPlainCode))
	})

	t.Run("nil", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "GENERAL_ERROR", syncerr.Code(nil))
	})
}

func TestWrap_edgeCases(t *testing.T) {
	t.Parallel()

	t.Run("nil input", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, syncerr.Wrap(nil, "context"))
	})

	t.Run("non-SyncError", func(t *testing.T) {
		t.Parallel()
		wrapped := syncerr.Wrap(errPlain, "context")
		var se *syncerr.SyncError
		require.ErrorAs(t, wrapped, &se)
		assert.Equal(t, "GENERAL_ERROR", se.Code)
		assert.Equal(t, "context", se.Message)
		assert.Equal(t, errPlain, se.Cause)
	})

	t.Run("format args", func(t *testing.T) {
		t.Parallel()
		wrapped := syncerr.Wrap(syncerr.ErrNotFound, "replica %s handle %d", "main", 0)
		assert.Contains(t, wrapped.Error(), "replica main handle 0")
	})

	t.Run("field preservation", func(t *testing.T) {
		t.Parallel()
		original := syncerr.WithDetails(syncerr.ErrNotFound, map[string]string{"key": "val"})
		original = syncerr.WithSuggestion(original, "try this")
		wrapped := syncerr.Wrap(original, "context")

		var se *syncerr.SyncError
		require.ErrorAs(t, wrapped, &se)
		assert.Equal(t, "NOT_FOUND", se.Code)
		assert.Equal(t, map[string]string{"key": "val"}, se.Details)
		assert.Equal(t, "try this", se.Suggestion)
		assert.Equal(t, syncerr.ExitNotFound, se.ExitCode)
	})
}

func TestWithDetails_edgeCases(t *testing.T) {
	t.Parallel()

	t.Run("nil input", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, syncerr.WithDetails(nil, map[string]string{"k": "v"}))
	})

	t.Run("non-SyncError input", func(t *testing.T) {
		t.Parallel()
		result := syncerr.WithDetails(errPlain, map[string]string{"k": "v"})
		var se *syncerr.SyncError
		require.ErrorAs(t, result, &se)
		assert.Equal(t, "GENERAL_ERROR", se.Code)
		assert.Equal(t, "plain error", se.Message)
		assert.Equal(t, map[string]string{"k": "v"}, se.Details)
		assert.Equal(t, errPlain, se.Cause)
	})
}

func TestWithSuggestion_edgeCases(t *testing.T) {
	t.Parallel()

	t.Run("nil input", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, syncerr.WithSuggestion(nil, "suggestion"))
	})

	t.Run("non-SyncError input", func(t *testing.T) {
		t.Parallel()
		result := syncerr.WithSuggestion(errPlain, "try this")
		var se *syncerr.SyncError
		require.ErrorAs(t, result, &se)
		assert.Equal(t, "GENERAL_ERROR", se.Code)
		assert.Equal(t, "plain error", se.Message)
		assert.Equal(t, "try this", se.Suggestion)
		assert.Equal(t, errPlain, se.Cause)
	})
}

func TestExitCode_nonSyncError(t *testing.T) {
	t.Parallel()
	assert.Equal(t, syncerr.ExitGeneral, syncerr.ExitCode(errPlain))
}

func TestIsUsage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"usage", syncerr.Usage("start", "BOUND"), true},
		{"stopped", syncerr.ErrSessionStopped, true},
		{"already started", syncerr.Wrap(syncerr.ErrAlreadyStarted, "start"), true},
		{"auth", syncerr.ErrInvalidCredentials, false},
		{"plain", errPlain, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, syncerr.IsUsage(tt.err))
		})
	}
}

func TestUsage(t *testing.T) {
	t.Parallel()
	err := syncerr.Usage("refresh", "STOPPED")
	require.ErrorIs(t, err, syncerr.ErrUsage)
	assert.Equal(t, "illegal session action (action: refresh) (state: STOPPED)", err.Error())
}

func TestWithCause(t *testing.T) {
	t.Parallel()

	t.Run("sentinel keeps code", func(t *testing.T) {
		t.Parallel()
		err := syncerr.WithCause(syncerr.ErrNetworkError, errRootCause)
		require.ErrorIs(t, err, syncerr.ErrNetworkError)
		require.ErrorIs(t, err, errRootCause)
		assert.Equal(t, "network communication failed: root cause", err.Error())
	})

	t.Run("plain error", func(t *testing.T) {
		t.Parallel()
		err := syncerr.WithCause(errPlain, errInner)
		require.ErrorIs(t, err, errPlain)
		require.ErrorIs(t, err, errInner)
	})

	t.Run("nil", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, syncerr.WithCause(nil, errInner))
	})
}
