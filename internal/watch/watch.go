// Package watch reloads a credentials file when it changes on disk and hands
// the new credentials to a session.
package watch

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mrz1836/replisync/internal/credentials"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 100 * time.Millisecond

// ErrAlreadyRunning is returned by Start on a running watcher.
var ErrAlreadyRunning = errors.New("watcher already running")

// Setter receives reloaded credentials. *session.Session satisfies it.
type Setter interface {
	SetCredentials(c credentials.Credentials) error
}

// Logger is the logging surface the watcher uses.
type Logger interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

// Options configures a CredentialsWatcher.
type Options struct {
	Debounce time.Duration
	Logger   Logger
	// Load reads the file. Defaults to credentials.LoadFile.
	Load func(path string) (credentials.Credentials, error)
}

// CredentialsWatcher watches one credentials file. It watches the parent
// directory so that atomic replace-by-rename saves are seen.
type CredentialsWatcher struct {
	path     string
	target   Setter
	debounce time.Duration
	logger   Logger
	load     func(string) (credentials.Credentials, error)

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
	last    string
	reloads int
}

// New creates a watcher for path that forwards changes to target.
func New(path string, target Setter, opts Options) (*CredentialsWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}

	w := &CredentialsWatcher{
		path:     abs,
		target:   target,
		debounce: opts.Debounce,
		logger:   opts.Logger,
		load:     opts.Load,
	}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}
	if w.logger == nil {
		w.logger = nopLogger{}
	}
	if w.load == nil {
		w.load = credentials.LoadFile
	}
	return w, nil
}

// Path returns the watched file.
func (w *CredentialsWatcher) Path() string {
	return w.path
}

// Start begins watching. The current file contents, if valid, become the
// baseline: only later changes are forwarded.
func (w *CredentialsWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return ErrAlreadyRunning
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}

	if c, err := w.load(w.path); err == nil {
		w.last = c.Fingerprint()
	}

	w.watcher = fw
	w.done = make(chan struct{})
	w.running = true

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop stops watching and waits for the event loop to exit.
func (w *CredentialsWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.done)
	fw := w.watcher
	w.mu.Unlock()

	err := fw.Close()
	w.wg.Wait()
	return err
}

// Reloads returns how many times new credentials were forwarded.
func (w *CredentialsWatcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *CredentialsWatcher) loop() {
	defer w.wg.Done()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watch: %v", err)
		}
	}
}

func (w *CredentialsWatcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Rename)
}

func (w *CredentialsWatcher) reload() {
	c, err := w.load(w.path)
	if err != nil {
		// A half-written or removed file; the next event retries
		w.logger.Debug("watch: reading %s: %v", w.path, err)
		return
	}

	fp := c.Fingerprint()
	w.mu.Lock()
	if fp == w.last {
		w.mu.Unlock()
		return
	}
	w.last = fp
	w.reloads++
	w.mu.Unlock()

	w.logger.Debug("watch: credentials changed (%s)", c)
	if err := w.target.SetCredentials(c); err != nil {
		w.logger.Error("watch: applying credentials: %v", err)
	}
}
