package cli

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/replisync/internal/output"
	"github.com/mrz1836/replisync/internal/retry"
	syncerr "github.com/mrz1836/replisync/pkg/errors"
)

const defaultBackoffAttempts = 10

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	backoffAttempts int
	backoffMaxDelay time.Duration
	backoffScale    float64
)

// backoffCmd prints the authentication retry schedule.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var backoffCmd = &cobra.Command{
	Use:   "backoff",
	Short: "Show the authentication retry schedule",
	Long: `Show the delay before each authentication attempt.

The first attempt runs immediately; attempt n waits 2^n seconds, multiplied
by retry.scale and capped at retry.max_delay_seconds. Flags override the
configured values.`,
	Example: `  replisync backoff
  replisync backoff --attempts 12 --max-delay 2m`,
	Args: cobra.NoArgs,
	RunE: runBackoff,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	backoffCmd.GroupID = groupSession
	rootCmd.AddCommand(backoffCmd)

	backoffCmd.Flags().IntVar(&backoffAttempts, "attempts", defaultBackoffAttempts, "number of attempts to show")
	backoffCmd.Flags().DurationVar(&backoffMaxDelay, "max-delay", 0, "delay cap (default: retry.max_delay_seconds)")
	backoffCmd.Flags().Float64Var(&backoffScale, "scale", 0, "delay multiplier (default: retry.scale)")
}

type backoffStep struct {
	Attempt   int   `json:"attempt"`
	DelayMs   int64 `json:"delay_ms"`
	ElapsedMs int64 `json:"elapsed_ms"`
}

// backoffSchedule lists the delay before each attempt and the time elapsed
// since the first attempt.
func backoffSchedule(attempts int, maxDelay time.Duration, scale float64) []backoffStep {
	steps := make([]backoffStep, 0, attempts)
	var elapsed time.Duration
	for i := 0; i < attempts; i++ {
		d := retry.ScaledDelay(i, maxDelay, scale)
		elapsed += d
		steps = append(steps, backoffStep{Attempt: i, DelayMs: d.Milliseconds(), ElapsedMs: elapsed.Milliseconds()})
	}
	return steps
}

func runBackoff(cmd *cobra.Command, _ []string) error {
	cc := GetCmdContext(cmd)
	if backoffAttempts < 1 {
		return syncerr.WithDetails(syncerr.ErrInvalidInput, map[string]string{
			"attempts": strconv.Itoa(backoffAttempts),
			"valid":    ">= 1",
		})
	}

	maxDelay := backoffMaxDelay
	if maxDelay <= 0 {
		maxDelay = cc.Cfg.MaxDelay()
	}
	if maxDelay <= 0 {
		maxDelay = retry.DefaultMaxDelay
	}
	scale := backoffScale
	if scale <= 0 {
		scale = cc.Cfg.Retry.Scale
	}
	if scale <= 0 {
		scale = 1
	}

	steps := backoffSchedule(backoffAttempts, maxDelay, scale)
	if cc.Fmt.IsJSON() {
		return writeJSON(cmd.OutOrStdout(), steps)
	}

	tbl := output.NewTable("ATTEMPT", "DELAY", "ELAPSED")
	for _, s := range steps {
		tbl.AddRow(
			strconv.Itoa(s.Attempt),
			(time.Duration(s.DelayMs) * time.Millisecond).String(),
			(time.Duration(s.ElapsedMs) * time.Millisecond).String(),
		)
	}
	return tbl.Render(cmd.OutOrStdout())
}
