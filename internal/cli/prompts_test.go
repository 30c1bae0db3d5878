package cli

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncerr "github.com/mrz1836/replisync/pkg/errors"
)

var errTerminal = errors.New("terminal error")

// scriptSecrets makes promptSecretFn return answers in order.
func scriptSecrets(t *testing.T, answers ...string) *[]string {
	t.Helper()
	orig := promptSecretFn
	t.Cleanup(func() { promptSecretFn = orig })

	var prompts []string
	promptSecretFn = func(prompt string) ([]byte, error) {
		prompts = append(prompts, prompt)
		if len(answers) == 0 {
			return nil, errTerminal
		}
		a := answers[0]
		answers = answers[1:]
		return []byte(a), nil
	}
	return &prompts
}

func TestPromptNewSecret(t *testing.T) {
	t.Run("matching entries", func(t *testing.T) {
		prompts := scriptSecrets(t, "hunter2", "hunter2")

		secret, err := promptNewSecret("alice")
		require.NoError(t, err)
		assert.Equal(t, []byte("hunter2"), secret)
		assert.Equal(t, []string{"Secret for alice: ", "Confirm secret: "}, *prompts)
	})

	t.Run("empty", func(t *testing.T) {
		prompts := scriptSecrets(t, "")

		_, err := promptNewSecret("alice")
		require.ErrorIs(t, err, syncerr.ErrInvalidInput)
		assert.Len(t, *prompts, 1, "no confirmation is asked for an empty secret")
	})

	t.Run("mismatch", func(t *testing.T) {
		scriptSecrets(t, "hunter2", "hunter3")

		_, err := promptNewSecret("alice")
		require.ErrorIs(t, err, syncerr.ErrInvalidInput)

		var se *syncerr.SyncError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "secrets do not match", se.Suggestion)
	})

	t.Run("terminal failure on confirm", func(t *testing.T) {
		scriptSecrets(t, "hunter2")

		_, err := promptNewSecret("alice")
		require.ErrorIs(t, err, errTerminal)
	})
}

func TestReadSecret(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{name: "first line", input: "hunter2\nignored\n", want: "hunter2"},
		{name: "no trailing newline", input: "hunter2", want: "hunter2"},
		{name: "windows line ending", input: "hunter2\r\n", want: "hunter2"},
		{name: "keeps inner spaces", input: " two words \n", want: " two words "},
		{name: "empty input", input: "", wantErr: syncerr.ErrInvalidInput},
		{name: "blank line", input: "\n", wantErr: syncerr.ErrInvalidInput},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := readSecret(strings.NewReader(tc.input))
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(got))
		})
	}
}
