// Package errors provides structured error handling for replisync.
// It defines sentinel errors, exit codes, and helpers for adding
// context, details, and suggestions to errors.
//
//nolint:revive // Package name intentionally shadows stdlib for domain-specific error handling
package errors

import (
	"errors"
	"fmt"
	"sort"
)

// Exit codes returned by the replisync binary.
const (
	ExitSuccess    = 0 // Successful execution
	ExitGeneral    = 1 // General/unknown error
	ExitInput      = 2 // Invalid input
	ExitAuth       = 3 // Authentication failed or credentials rejected
	ExitNotFound   = 4 // Resource not found
	ExitPermission = 5 // Permission denied
	ExitUsage      = 6 // Illegal session action (programmer error)
)

// SyncError is the structured error type for replisync.
type SyncError struct {
	Code       string            // Machine-readable error code
	Message    string            // Human-readable message
	Details    map[string]string // Additional context
	Suggestion string            // Actionable suggestion for user
	Cause      error             // Underlying error
	ExitCode   int               // Exit code for CLI
}

func (e *SyncError) Error() string {
	msg := e.Message

	// Details are sorted so output is deterministic
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			msg = fmt.Sprintf("%s (%s: %s)", msg, k, e.Details[k])
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for SyncError. Two SyncErrors match when their codes match.
func (e *SyncError) Is(target error) bool {
	var t *SyncError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Sentinel errors.
var (
	ErrGeneral = &SyncError{
		Code:     "GENERAL_ERROR",
		Message:  "an error occurred",
		ExitCode: ExitGeneral,
	}

	ErrInvalidInput = &SyncError{
		Code:     "INVALID_INPUT",
		Message:  "invalid input",
		ExitCode: ExitInput,
	}

	ErrNotFound = &SyncError{
		Code:     "NOT_FOUND",
		Message:  "resource not found",
		ExitCode: ExitNotFound,
	}

	ErrPermission = &SyncError{
		Code:     "PERMISSION_DENIED",
		Message:  "permission denied",
		ExitCode: ExitPermission,
	}

	// Session lifecycle errors.
	ErrUsage = &SyncError{
		Code:     "USAGE_ERROR",
		Message:  "illegal session action",
		ExitCode: ExitUsage,
	}

	ErrSessionStopped = &SyncError{
		Code:     "SESSION_STOPPED",
		Message:  "session has been stopped",
		ExitCode: ExitUsage,
	}

	ErrAlreadyStarted = &SyncError{
		Code:     "SESSION_ALREADY_STARTED",
		Message:  "session has already been started",
		ExitCode: ExitUsage,
	}

	// Authentication errors.
	ErrAuthentication = &SyncError{
		Code:     "AUTHENTICATION_FAILED",
		Message:  "authentication failed",
		ExitCode: ExitAuth,
	}

	ErrInvalidCredentials = &SyncError{
		Code:       "INVALID_CREDENTIALS",
		Message:    "credentials were rejected by the server",
		Suggestion: "Run 'replisync login' with valid credentials",
		ExitCode:   ExitAuth,
	}

	ErrTokenExpired = &SyncError{
		Code:     "TOKEN_EXPIRED",
		Message:  "access token has expired",
		ExitCode: ExitAuth,
	}

	ErrMissingCredentials = &SyncError{
		Code:       "MISSING_CREDENTIALS",
		Message:    "no credentials configured",
		Suggestion: "Set credentials.identity in the config or pass --identity",
		ExitCode:   ExitInput,
	}

	// Network errors.
	ErrNetworkError = &SyncError{
		Code:     "NETWORK_ERROR",
		Message:  "network communication failed",
		ExitCode: ExitGeneral,
	}

	ErrRateLimited = &SyncError{
		Code:     "RATE_LIMITED",
		Message:  "rate limit exceeded",
		ExitCode: ExitGeneral,
	}

	ErrServerError = &SyncError{
		Code:     "SERVER_ERROR",
		Message:  "authentication server error",
		ExitCode: ExitGeneral,
	}

	// Binding errors.
	ErrBindFailed = &SyncError{
		Code:     "BIND_FAILED",
		Message:  "failed to bind local replica",
		ExitCode: ExitGeneral,
	}

	ErrUnknownHandle = &SyncError{
		Code:     "UNKNOWN_HANDLE",
		Message:  "unknown binding handle",
		ExitCode: ExitGeneral,
	}

	// Credential storage errors.
	ErrKeyringUnavailable = &SyncError{
		Code:       "KEYRING_UNAVAILABLE",
		Message:    "system keyring is not available",
		Suggestion: "Install and unlock a Secret Service provider, or use a credentials file",
		ExitCode:   ExitGeneral,
	}

	ErrSecretNotFound = &SyncError{
		Code:       "SECRET_NOT_FOUND",
		Message:    "no stored secret for identity",
		Suggestion: "Run 'replisync login' first",
		ExitCode:   ExitNotFound,
	}

	ErrDecryptionFailed = &SyncError{
		Code:     "DECRYPTION_FAILED",
		Message:  "decryption failed - wrong key or corrupted file",
		ExitCode: ExitAuth,
	}

	ErrCacheNotFound = &SyncError{
		Code:     "CACHE_NOT_FOUND",
		Message:  "no cached tokens available",
		ExitCode: ExitNotFound,
	}

	// Config errors.
	ErrConfigNotFound = &SyncError{
		Code:     "CONFIG_NOT_FOUND",
		Message:  "configuration file not found",
		ExitCode: ExitNotFound,
	}

	ErrConfigInvalid = &SyncError{
		Code:     "CONFIG_INVALID",
		Message:  "configuration file is invalid",
		ExitCode: ExitInput,
	}

	ErrUnknownConfigKey = &SyncError{
		Code:     "UNKNOWN_CONFIG_KEY",
		Message:  "unknown config key",
		ExitCode: ExitInput,
	}
)

// New creates a new SyncError with the given code and message.
func New(code, message string) *SyncError {
	return &SyncError{
		Code:     code,
		Message:  message,
		ExitCode: ExitGeneral,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}

	msg := fmt.Sprintf(format, args...)

	var se *SyncError
	if errors.As(err, &se) {
		return &SyncError{
			Code:       se.Code,
			Message:    fmt.Sprintf("%s: %s", msg, se.Message),
			Details:    se.Details,
			Suggestion: se.Suggestion,
			Cause:      err,
			ExitCode:   se.ExitCode,
		}
	}

	return &SyncError{
		Code:     "GENERAL_ERROR",
		Message:  msg,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// Usage builds a usage error for an action that is illegal in the given state.
func Usage(action, state string) error {
	return WithDetails(ErrUsage, map[string]string{
		"action": action,
		"state":  state,
	})
}

// WithDetails adds details to an error.
func WithDetails(err error, details map[string]string) error {
	if err == nil {
		return nil
	}

	var se *SyncError
	if errors.As(err, &se) {
		return &SyncError{
			Code:       se.Code,
			Message:    se.Message,
			Details:    details,
			Suggestion: se.Suggestion,
			Cause:      se.Cause,
			ExitCode:   se.ExitCode,
		}
	}

	return &SyncError{
		Code:     "GENERAL_ERROR",
		Message:  err.Error(),
		Details:  details,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// WithSuggestion adds a suggestion to an error.
func WithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}

	var se *SyncError
	if errors.As(err, &se) {
		return &SyncError{
			Code:       se.Code,
			Message:    se.Message,
			Details:    se.Details,
			Suggestion: suggestion,
			Cause:      se.Cause,
			ExitCode:   se.ExitCode,
		}
	}

	return &SyncError{
		Code:       "GENERAL_ERROR",
		Message:    err.Error(),
		Suggestion: suggestion,
		Cause:      err,
		ExitCode:   ExitGeneral,
	}
}

// WithCause attaches an underlying cause to a sentinel, keeping its code.
func WithCause(err, cause error) error {
	if err == nil {
		return nil
	}

	var se *SyncError
	if errors.As(err, &se) {
		return &SyncError{
			Code:       se.Code,
			Message:    se.Message,
			Details:    se.Details,
			Suggestion: se.Suggestion,
			Cause:      cause,
			ExitCode:   se.ExitCode,
		}
	}
	return fmt.Errorf("%w: %w", err, cause)
}

// ExitCode returns the appropriate exit code for an error.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var se *SyncError
	if errors.As(err, &se) {
		return se.ExitCode
	}

	return ExitGeneral
}

// Code returns the error code for an error.
func Code(err error) string {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return "GENERAL_ERROR"
}

// IsUsage reports whether err is a usage error (an action that was illegal
// in the session state it was invoked in).
func IsUsage(err error) bool {
	var se *SyncError
	return errors.As(err, &se) && se.ExitCode == ExitUsage
}

// Is wraps errors.Is for convenience.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience.
func As(err error, target any) bool {
	return errors.As(err, target)
}
