package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/mrz1836/replisync/internal/secmem"
	syncerr "github.com/mrz1836/replisync/pkg/errors"
)

// Prompt hooks, replaced in tests.
//
//nolint:gochecknoglobals // Swappable for tests
var (
	promptSecretFn    = promptSecret
	promptNewSecretFn = promptNewSecret
	promptConfirmFn   = promptConfirm
)

// promptSecret prompts for a secret with hidden input.
// The caller is responsible for zeroing the returned bytes after use.
func promptSecret(prompt string) ([]byte, error) {
	out(os.Stderr, "%s", prompt)

	secret, err := term.ReadPassword(syscall.Stdin)
	outln(os.Stderr) // Add newline after hidden input

	if err != nil {
		return nil, fmt.Errorf("reading secret: %w", err)
	}

	return secret, nil
}

// promptNewSecret prompts for a secret twice and checks both entries match.
func promptNewSecret(identity string) ([]byte, error) {
	secret, err := promptSecretFn(fmt.Sprintf("Secret for %s: ", identity))
	if err != nil {
		return nil, err
	}
	if len(secret) == 0 {
		return nil, syncerr.WithSuggestion(syncerr.ErrInvalidInput, "secret cannot be empty")
	}

	confirm, err := promptSecretFn("Confirm secret: ")
	if err != nil {
		secmem.Zero(secret)
		return nil, err
	}
	defer secmem.Zero(confirm)

	if string(secret) != string(confirm) {
		secmem.Zero(secret)
		return nil, syncerr.WithSuggestion(syncerr.ErrInvalidInput, "secrets do not match")
	}

	return secret, nil
}

// promptConfirm asks a yes/no question; anything but y or yes is no.
func promptConfirm(question string) bool {
	out(os.Stderr, "%s [y/N]: ", question)

	var response string
	if _, err := fmt.Scanln(&response); err != nil {
		return false
	}

	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes"
}

// readSecret reads the first line of r as a secret, for non-interactive use.
func readSecret(r io.Reader) ([]byte, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading secret: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, syncerr.WithSuggestion(syncerr.ErrInvalidInput, "secret cannot be empty")
	}
	return []byte(line), nil
}
