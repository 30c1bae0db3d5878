package output

import (
	"io"
	"os"
	"strings"
)

// ColorMode controls ANSI coloring of text output.
type ColorMode string

// Color modes.
const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiBlue   = "\033[34m"
	ansiGray   = "\033[90m"
)

// ParseColorMode parses a color mode string. Unknown values mean auto.
func ParseColorMode(s string) ColorMode {
	switch ColorMode(strings.ToLower(strings.TrimSpace(s))) {
	case ColorAlways:
		return ColorAlways
	case ColorNever:
		return ColorNever
	default:
		return ColorAuto
	}
}

// UseColor reports whether text written to w should be colored.
// NO_COLOR disables color in auto mode.
func UseColor(w io.Writer, mode ColorMode) bool {
	switch mode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	case ColorAuto:
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return DetectFormat(w, FormatAuto) == FormatText
}

// StateColor wraps a session state or event name in the color that marks
// its health: green when bound, red on failure, yellow while working.
func StateColor(name string, enabled bool) string {
	if !enabled || name == "" {
		return name
	}

	var code string
	switch name {
	case "BOUND", "auth_succeeded", "token_refreshed":
		code = ansiGreen
	case "AUTHENTICATION_REQUIRED", "STOPPED", "auth_rejected", "bind_failed", "error":
		code = ansiRed
	case "BINDING", "AUTHENTICATING", "auth_failed":
		code = ansiYellow
	case "STARTED":
		code = ansiBlue
	default:
		code = ansiGray
	}
	return code + name + ansiReset
}
