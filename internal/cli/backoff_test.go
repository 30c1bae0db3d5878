package cli

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncerr "github.com/mrz1836/replisync/pkg/errors"
)

func TestBackoffSchedule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		attempts int
		maxDelay time.Duration
		scale    float64
		want     []backoffStep
	}{
		{
			name:     "unscaled",
			attempts: 4,
			maxDelay: 5 * time.Minute,
			scale:    1,
			want: []backoffStep{
				{Attempt: 0, DelayMs: 0, ElapsedMs: 0},
				{Attempt: 1, DelayMs: 2000, ElapsedMs: 2000},
				{Attempt: 2, DelayMs: 4000, ElapsedMs: 6000},
				{Attempt: 3, DelayMs: 8000, ElapsedMs: 14000},
			},
		},
		{
			name:     "capped",
			attempts: 4,
			maxDelay: 5 * time.Second,
			scale:    1,
			want: []backoffStep{
				{Attempt: 0, DelayMs: 0, ElapsedMs: 0},
				{Attempt: 1, DelayMs: 2000, ElapsedMs: 2000},
				{Attempt: 2, DelayMs: 4000, ElapsedMs: 6000},
				{Attempt: 3, DelayMs: 5000, ElapsedMs: 11000},
			},
		},
		{
			name:     "scaled down",
			attempts: 3,
			maxDelay: time.Minute,
			scale:    0.01,
			want: []backoffStep{
				{Attempt: 0, DelayMs: 0, ElapsedMs: 0},
				{Attempt: 1, DelayMs: 20, ElapsedMs: 20},
				{Attempt: 2, DelayMs: 40, ElapsedMs: 60},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, backoffSchedule(tc.attempts, tc.maxDelay, tc.scale))
		})
	}
}

func TestRunBackoff(t *testing.T) {
	t.Run("table", func(t *testing.T) {
		e := newCLIEnv(t)

		out, err := e.run("backoff", "--attempts", "3", "-o", "text")
		require.NoError(t, err)

		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 5, "header, separator and one row per attempt")
		assert.Equal(t, []string{"ATTEMPT", "DELAY", "ELAPSED"}, strings.Fields(lines[0]))
		assert.Equal(t, []string{"0", "0s", "0s"}, strings.Fields(lines[2]))
		assert.Equal(t, []string{"2", "4s", "6s"}, strings.Fields(lines[4]))
	})

	t.Run("config cap", func(t *testing.T) {
		e := newCLIEnv(t)
		e.cfg.Retry.MaxDelaySeconds = 3
		e.saveConfig()

		out, err := e.run("backoff", "--attempts", "3", "-o", "json")
		require.NoError(t, err)

		var steps []backoffStep
		require.NoError(t, json.Unmarshal([]byte(out), &steps))
		require.Len(t, steps, 3)
		assert.Equal(t, int64(3000), steps[2].DelayMs)
	})

	t.Run("flags override config", func(t *testing.T) {
		e := newCLIEnv(t)

		out, err := e.run("backoff", "--attempts", "2", "--max-delay", "1s", "--scale", "2", "-o", "json")
		require.NoError(t, err)

		var steps []backoffStep
		require.NoError(t, json.Unmarshal([]byte(out), &steps))
		assert.Equal(t, int64(1000), steps[1].DelayMs)
	})

	t.Run("invalid attempts", func(t *testing.T) {
		e := newCLIEnv(t)

		_, err := e.run("backoff", "--attempts", "0")
		require.ErrorIs(t, err, syncerr.ErrInvalidInput)
	})
}
