// Package journal persists session events to an embedded SQLite database so
// that past transitions can be inspected after the process exits.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver" // registers the sqlite3 driver
	_ "github.com/ncruces/go-sqlite3/embed"  // embeds the SQLite build
	"github.com/oklog/ulid/v2"

	"github.com/mrz1836/replisync/internal/fileutil"
	"github.com/mrz1836/replisync/internal/session"
)

// DefaultLimit bounds List when no limit is given.
const DefaultLimit = 50

// queueSize bounds the events waiting for the writer.
const queueSize = 256

// ErrClosed is returned after Close.
var ErrClosed = errors.New("journal is closed")

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id         TEXT PRIMARY KEY,
	session    TEXT NOT NULL,
	type       TEXT NOT NULL,
	from_state TEXT NOT NULL,
	to_state   TEXT NOT NULL,
	attempt    INTEGER NOT NULL DEFAULT 0,
	next_ms    INTEGER NOT NULL DEFAULT 0,
	error      TEXT NOT NULL DEFAULT '',
	at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
`

// Logger is the logging surface the journal uses.
type Logger interface {
	Error(format string, args ...any)
}

// Entry is one persisted event.
type Entry struct {
	ID      string        `json:"id"`
	Session string        `json:"session"`
	Type    string        `json:"type"`
	From    string        `json:"from"`
	To      string        `json:"to"`
	Attempt int           `json:"attempt,omitempty"`
	Next    time.Duration `json:"next,omitempty"`
	Error   string        `json:"error,omitempty"`
	At      time.Time     `json:"at"`
}

// ListOptions filters List.
type ListOptions struct {
	Session string
	Type    string
	Limit   int
}

// Journal is a session.Listener that writes every event to SQLite.
// OnEvent only queues; a single writer goroutine does the inserts.
type Journal struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	logger Logger

	queue     chan session.Event
	flush     chan chan struct{}
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Open opens (or creates) the journal database at path.
func Open(path string, logger Logger) (*Journal, error) {
	if err := fileutil.EnsureParentDir(path); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configuring journal: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}

	j := &Journal{
		db:      db,
		path:    path,
		logger:  logger,
		queue:   make(chan session.Event, queueSize),
		flush:   make(chan chan struct{}),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go j.writeLoop()
	return j, nil
}

// Path returns the database path.
func (j *Journal) Path() string {
	return j.path
}

// OnEvent queues e for the writer. It never blocks: when the queue is full
// the event is dropped. Failures are logged, never returned to the session.
func (j *Journal) OnEvent(e session.Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	select {
	case <-j.closing:
		j.logError("journal: recording %s: %v", e.Type, ErrClosed)
		return
	default:
	}
	select {
	case j.queue <- e:
	default:
		j.logError("journal: queue full, dropping %s", e.Type)
	}
}

// Flush waits until every event queued before the call is written.
func (j *Journal) Flush(ctx context.Context) error {
	reply := make(chan struct{})
	select {
	case j.flush <- reply:
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Journal) writeLoop() {
	defer close(j.done)
	for {
		select {
		case e := <-j.queue:
			j.write(e)
		case reply := <-j.flush:
			j.drain()
			close(reply)
		case <-j.closing:
			j.drain()
			return
		}
	}
}

func (j *Journal) drain() {
	for {
		select {
		case e := <-j.queue:
			j.write(e)
		default:
			return
		}
	}
}

func (j *Journal) write(e session.Event) {
	if err := j.Record(context.Background(), e); err != nil {
		j.logError("journal: recording %s: %v", e.Type, err)
	}
}

func (j *Journal) logError(format string, args ...any) {
	if j.logger != nil {
		j.logger.Error(format, args...)
	}
}

// Record inserts e.
func (j *Journal) Record(ctx context.Context, e session.Event) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.db == nil {
		return ErrClosed
	}

	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	var msg string
	if e.Err != nil {
		msg = e.Err.Error()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (id, session, type, from_state, to_state, attempt, next_ms, error, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ulid.Make().String(), e.Session, string(e.Type), e.From.String(), e.To.String(),
		e.Attempt, e.Next.Milliseconds(), msg, at.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// List returns entries newest first.
func (j *Journal) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.db == nil {
		return nil, ErrClosed
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := `SELECT id, session, type, from_state, to_state, attempt, next_ms, error, at FROM events WHERE 1=1`
	var args []any
	if opts.Session != "" {
		query += ` AND session = ?`
		args = append(args, opts.Session)
	}
	if opts.Type != "" {
		query += ` AND type = ?`
		args = append(args, opts.Type)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			nextMs int64
			at     string
		)
		if err := rows.Scan(&e.ID, &e.Session, &e.Type, &e.From, &e.To, &e.Attempt, &nextMs, &e.Error, &at); err != nil {
			return nil, fmt.Errorf("reading journal: %w", err)
		}
		e.Next = time.Duration(nextMs) * time.Millisecond
		if e.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("reading journal timestamp: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of recorded events.
func (j *Journal) Count(ctx context.Context) (int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.db == nil {
		return 0, ErrClosed
	}
	var n int
	err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

// Close writes the queued events, checkpoints the WAL and closes the database.
func (j *Journal) Close() error {
	j.closeOnce.Do(func() { close(j.closing) })
	<-j.done

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil
	}
	_, _ = j.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	err := j.db.Close()
	j.db = nil
	return err
}
