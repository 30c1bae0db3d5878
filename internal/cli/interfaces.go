package cli

import (
	"github.com/mrz1836/replisync/internal/config"
	"github.com/mrz1836/replisync/internal/output"
	"github.com/mrz1836/replisync/internal/session"
)

// Compile-time interface checks.
var (
	_ ConfigProvider = (*config.Config)(nil)
	_ LogWriter      = (*config.Logger)(nil)
	_ FormatProvider = (*output.Formatter)(nil)
	_ session.Logger = LogWriter(nil)
)

// ConfigProvider provides read access to configuration values.
type ConfigProvider interface {
	// GetHome returns the replisync home directory path.
	GetHome() string

	// GetLoggingLevel returns the configured logging level.
	GetLoggingLevel() string

	// GetLoggingFile returns the configured log file path.
	GetLoggingFile() string

	// GetOutputFormat returns the default output format.
	GetOutputFormat() string

	// IsVerbose returns true if verbose output is enabled.
	IsVerbose() bool
}

// LogWriter provides logging capabilities. It satisfies the Logger
// interfaces of the session, binding, journal and watch packages.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
	Close() error
}

// FormatProvider provides output format information.
type FormatProvider interface {
	// Format returns the current output format.
	Format() output.Format
}
