package output_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/replisync/internal/output"
	syncerr "github.com/mrz1836/replisync/pkg/errors"
)

// failingWriter implements io.Writer but always returns an error.
type failingWriter struct{}

func (failingWriter) Write(_ []byte) (n int, err error) {
	//nolint:err113 // Test error, not wrapped
	return 0, errors.New("write failed")
}

func TestFormatError_NilError(t *testing.T) {
	t.Parallel()

	for _, format := range []output.Format{output.FormatJSON, output.FormatText} {
		t.Run(string(format), func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			require.NoError(t, output.FormatError(&buf, nil, format))
			assert.Empty(t, buf.String())
		})
	}
}

func TestFormatError_GenericError(t *testing.T) {
	t.Parallel()

	//nolint:err113 // Test error, intentionally not wrapped
	plain := errors.New("dial tcp: connection refused")

	t.Run("json", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		require.NoError(t, output.FormatError(&buf, plain, output.FormatJSON))

		var result output.ErrorOutput
		require.NoError(t, json.Unmarshal(buf.Bytes(), &result))
		assert.Equal(t, "GENERAL_ERROR", result.Error.Code)
		assert.Equal(t, "dial tcp: connection refused", result.Error.Message)
		assert.Equal(t, syncerr.ExitGeneral, result.Error.ExitCode)
		assert.Empty(t, result.Error.Details)
		assert.Empty(t, result.Error.Suggestion)
	})

	t.Run("text", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		require.NoError(t, output.FormatError(&buf, plain, output.FormatText))
		assert.Equal(t, "Error: dial tcp: connection refused\n", buf.String())
	})
}

func rejectedLogin() error {
	err := syncerr.WithDetails(syncerr.ErrInvalidCredentials, map[string]string{
		"provider": "password",
		"identity": "alice",
	})
	return syncerr.WithCause(err, errors.New("401 Unauthorized")) //nolint:err113 // test cause
}

func TestFormatError_SyncError_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, output.FormatError(&buf, rejectedLogin(), output.FormatJSON))

	var result output.ErrorOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &result))
	assert.Equal(t, "INVALID_CREDENTIALS", result.Error.Code)
	assert.Equal(t, "credentials were rejected by the server", result.Error.Message)
	assert.Equal(t, map[string]string{"provider": "password", "identity": "alice"}, result.Error.Details)
	assert.Equal(t, "Run 'replisync login' with valid credentials", result.Error.Suggestion)
	assert.Equal(t, "401 Unauthorized", result.Error.Cause)
	assert.Equal(t, syncerr.ExitAuth, result.Error.ExitCode)

	// Two-space indentation
	assert.Contains(t, buf.String(), "\n  \"error\": {\n")
}

func TestFormatError_SyncError_Text(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, output.FormatError(&buf, rejectedLogin(), output.FormatText))

	want := "Error: credentials were rejected by the server\n" +
		"\nDetails:\n" +
		"  identity: alice\n" +
		"  provider: password\n" +
		"\nCause: 401 Unauthorized\n" +
		"\nSuggestion: Run 'replisync login' with valid credentials\n"
	assert.Equal(t, want, buf.String())
}

func TestFormatError_OptionalSections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		present []string
		absent  []string
	}{
		{
			name:    "message only",
			err:     syncerr.ErrConfigInvalid,
			present: []string{"Error: configuration file is invalid"},
			absent:  []string{"Details:", "Cause:", "Suggestion:"},
		},
		{
			name:    "suggestion only",
			err:     syncerr.WithSuggestion(syncerr.ErrConfigInvalid, "Run 'replisync config init'"),
			present: []string{"Suggestion: Run 'replisync config init'"},
			absent:  []string{"Details:", "Cause:"},
		},
		{
			name:    "empty details",
			err:     syncerr.WithDetails(syncerr.ErrBindFailed, map[string]string{}),
			present: []string{"Error: "},
			absent:  []string{"Details:"},
		},
		{
			name:    "wrapped",
			err:     syncerr.Wrap(syncerr.ErrServerError, "authenticating"),
			present: []string{"Error: authenticating: ", "Cause: "},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			require.NoError(t, output.FormatError(&buf, tc.err, output.FormatText))
			for _, s := range tc.present {
				assert.Contains(t, buf.String(), s)
			}
			for _, s := range tc.absent {
				assert.NotContains(t, buf.String(), s)
			}
		})
	}
}

func TestFormatError_DetailsSortedAndStable(t *testing.T) {
	t.Parallel()

	err := syncerr.WithDetails(syncerr.ErrUsage, map[string]string{
		"state":   "STOPPED",
		"action":  "refresh",
		"session": "01J9Z",
	})

	var first string
	for i := 0; i < 20; i++ {
		var buf bytes.Buffer
		require.NoError(t, output.FormatError(&buf, err, output.FormatText))
		if i == 0 {
			first = buf.String()
			continue
		}
		assert.Equal(t, first, buf.String())
	}

	a := strings.Index(first, "action:")
	s := strings.Index(first, "session:")
	st := strings.Index(first, "state:")
	assert.True(t, a < s && s < st, "details should be sorted by key")
}

func TestFormatError_SpecialCharacters_JSON(t *testing.T) {
	t.Parallel()

	err := syncerr.WithDetails(syncerr.ErrConfigInvalid, map[string]string{
		"path":  `C:\Users\alice\.replisync\config.yaml`,
		"value": "line1\nline2 \"quoted\" <tag>",
	})

	var buf bytes.Buffer
	require.NoError(t, output.FormatError(&buf, err, output.FormatJSON))

	var result output.ErrorOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &result))
	assert.Equal(t, `C:\Users\alice\.replisync\config.yaml`, result.Error.Details["path"])
	assert.Equal(t, "line1\nline2 \"quoted\" <tag>", result.Error.Details["value"])
}

func TestFormatError_WriterError(t *testing.T) {
	t.Parallel()

	for _, format := range []output.Format{output.FormatJSON, output.FormatText} {
		require.Error(t, output.FormatError(failingWriter{}, syncerr.ErrNetworkError, format), format)
	}
}

func TestFormatSuccess(t *testing.T) {
	t.Parallel()

	t.Run("json", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		require.NoError(t, output.FormatSuccess(&buf, "Logged out \"alice\"", output.FormatJSON))

		var result map[string]string
		require.NoError(t, json.Unmarshal(buf.Bytes(), &result))
		assert.Equal(t, "success", result["status"])
		assert.Equal(t, "Logged out \"alice\"", result["message"])
	})

	t.Run("text", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		require.NoError(t, output.FormatSuccess(&buf, "Session stopped", output.FormatText))
		assert.Equal(t, "Session stopped\n", buf.String())
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		require.NoError(t, output.FormatSuccess(&buf, "", output.FormatText))
		assert.Equal(t, "\n", buf.String())
	})

	t.Run("writer error", func(t *testing.T) {
		t.Parallel()
		require.Error(t, output.FormatSuccess(failingWriter{}, "x", output.FormatText))
		require.Error(t, output.FormatSuccess(failingWriter{}, "x", output.FormatJSON))
	})
}
