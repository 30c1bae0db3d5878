package output_test

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/replisync/internal/output"
)

func TestParseColorMode(t *testing.T) {
	t.Parallel()

	tests := map[string]output.ColorMode{
		"always":  output.ColorAlways,
		"ALWAYS ": output.ColorAlways,
		"never":   output.ColorNever,
		"auto":    output.ColorAuto,
		"":        output.ColorAuto,
		"rainbow": output.ColorAuto,
	}
	for in, want := range tests {
		assert.Equal(t, want, output.ParseColorMode(in), in)
	}
}

func TestUseColor(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	assert.True(t, output.UseColor(&buf, output.ColorAlways))
	assert.False(t, output.UseColor(&buf, output.ColorNever))
	assert.False(t, output.UseColor(&buf, output.ColorAuto), "buffers are not terminals")
}

func TestUseColor_NoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	assert.False(t, output.UseColor(os.Stdout, output.ColorAuto))
	assert.True(t, output.UseColor(os.Stdout, output.ColorAlways))
}

func TestStateColor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		code string
	}{
		{"BOUND", "\033[32m"},
		{"token_refreshed", "\033[32m"},
		{"AUTHENTICATION_REQUIRED", "\033[31m"},
		{"bind_failed", "\033[31m"},
		{"AUTHENTICATING", "\033[33m"},
		{"STARTED", "\033[34m"},
		{"UNBOUND", "\033[90m"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := output.StateColor(tc.name, true)
			assert.True(t, strings.HasPrefix(got, tc.code), got)
			assert.True(t, strings.HasSuffix(got, tc.name+"\033[0m"), got)
			assert.Equal(t, tc.name, output.StateColor(tc.name, false))
		})
	}

	assert.Empty(t, output.StateColor("", true))
}

func TestTable_ColoredCellsAlign(t *testing.T) {
	t.Parallel()

	tbl := output.NewTable("STATE", "N")
	tbl.AddRow(output.StateColor("BOUND", true), "1")
	tbl.AddRow("AUTHENTICATING", "2")

	var buf bytes.Buffer
	require.NoError(t, tbl.Render(&buf))
	lines := strings.Split(buf.String(), "\n")

	colored := strings.ReplaceAll(strings.ReplaceAll(lines[2], "\033[32m", ""), "\033[0m", "")
	assert.Equal(t, strings.Index(lines[3], "2"), strings.Index(colored, "1"))
}
