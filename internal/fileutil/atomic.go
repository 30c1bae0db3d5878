// Package fileutil provides filesystem helpers for robust file operations.
package fileutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Permission modes for files holding secrets or tokens.
const (
	PrivateFilePerm = 0o600
	PrivateDirPerm  = 0o700
)

// ErrEmptyPath indicates an empty file path was provided.
var ErrEmptyPath = errors.New("path is empty")

// WriteJSONAtomic marshals v as indented JSON and writes it atomically,
// creating the parent directory with PrivateDirPerm if needed.
func WriteJSONAtomic(path string, v any, perm os.FileMode) error {
	if path == "" {
		return ErrEmptyPath
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}

	if err := EnsureParentDir(path); err != nil {
		return err
	}

	return WriteAtomic(path, data, perm)
}

// EnsureParentDir creates the directory containing path with PrivateDirPerm.
func EnsureParentDir(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if err := os.MkdirAll(filepath.Dir(path), PrivateDirPerm); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	return nil
}

// ReadJSON reads path and unmarshals it into v.
func ReadJSON(path string, v any) error {
	if path == "" {
		return ErrEmptyPath
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed by the caller
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// WriteAtomic writes data to path atomically with the provided permissions.
// It writes to a temp file in the same directory, fsyncs, then renames.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	if path == "" {
		return ErrEmptyPath
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)

	tmpFile, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpPath := tmpFile.Name()
	closed := false
	defer func() {
		if !closed {
			_ = tmpFile.Close()
		}
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := tmpFile.Chmod(perm); err != nil {
		return fmt.Errorf("setting temp file permissions: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	closed = true

	if err := os.Rename(tmpPath, path); err != nil { //nolint:gosec // G703: path is validated by caller, not from user input
		return fmt.Errorf("renaming temp file: %w", err)
	}

	// Best effort directory sync for rename durability.
	if dirFile, err := os.Open(dir); err == nil { //nolint:gosec // G304: dir is derived from validated path
		_ = dirFile.Sync()
		_ = dirFile.Close()
	}

	return nil
}
