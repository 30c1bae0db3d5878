package binding

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sync"
	"time"

	"github.com/tursodatabase/go-libsql"

	"github.com/mrz1836/replisync/internal/fileutil"
	syncerr "github.com/mrz1836/replisync/pkg/errors"
)

// Connector is an embedded replica connection source.
type Connector interface {
	driver.Connector
	Sync() error
	Close() error
}

// OpenFunc opens an embedded replica at path that syncs from primaryURL.
type OpenFunc func(path, primaryURL, token string, syncInterval time.Duration) (Connector, error)

// Logger is the logging surface the binder uses.
type Logger interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

// LibSQLOptions configures a LibSQLBinder.
type LibSQLOptions struct {
	// SyncInterval enables periodic background sync. Zero disables it.
	SyncInterval time.Duration
	// Open overrides how replicas are opened.
	Open   OpenFunc
	Logger Logger
}

type replica struct {
	path      string
	connector Connector
	db        *sql.DB
	version   int64
}

func (r *replica) close() error {
	dbErr := r.db.Close()
	connErr := r.connector.Close()
	if dbErr != nil {
		return dbErr
	}
	return connErr
}

// LibSQLBinder binds libsql embedded replicas.
type LibSQLBinder struct {
	primaryURL   string
	syncInterval time.Duration
	open         OpenFunc
	logger       Logger

	mu       sync.Mutex
	next     Handle
	replicas map[Handle]*replica
	// reopening holds handles whose replica Refresh is reopening.
	reopening map[Handle]struct{}
}

// Compile-time interface check.
var _ Binder = (*LibSQLBinder)(nil)

// NewLibSQLBinder creates a binder for replicas of primaryURL.
func NewLibSQLBinder(primaryURL string, opts *LibSQLOptions) *LibSQLBinder {
	b := &LibSQLBinder{
		primaryURL: primaryURL,
		open:       openLibSQL,
		logger:     nopLogger{},
		replicas:   make(map[Handle]*replica),
		reopening:  make(map[Handle]struct{}),
	}
	if opts != nil {
		b.syncInterval = opts.SyncInterval
		if opts.Open != nil {
			b.open = opts.Open
		}
		if opts.Logger != nil {
			b.logger = opts.Logger
		}
	}
	return b
}

// Bind opens the replica at path, performs an initial sync, and returns its handle.
func (b *LibSQLBinder) Bind(ctx context.Context, path, token string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r, err := b.openReplica(path, token)
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	b.next++
	h := b.next
	b.replicas[h] = r
	b.mu.Unlock()

	b.logger.Debug("binding: bound %s as handle %d", path, h)
	return h, nil
}

// Unbind closes the replica behind h.
func (b *LibSQLBinder) Unbind(h Handle) error {
	b.mu.Lock()
	r, ok := b.replicas[h]
	delete(b.replicas, h)
	_, reopening := b.reopening[h]
	delete(b.reopening, h)
	b.mu.Unlock()

	if reopening {
		b.logger.Debug("binding: unbound handle %d during refresh", h)
		return nil
	}
	if !ok {
		return unknownHandle(h)
	}

	b.logger.Debug("binding: unbound handle %d", h)
	return r.close()
}

// Refresh reopens the replica behind h with a new token. The reopen runs
// without holding the binder lock; an Unbind that arrives meanwhile returns
// at once and the new replica is closed when the reopen finishes.
func (b *LibSQLBinder) Refresh(h Handle, token string) error {
	b.mu.Lock()
	old, ok := b.replicas[h]
	if ok {
		delete(b.replicas, h)
		b.reopening[h] = struct{}{}
	}
	b.mu.Unlock()

	if !ok {
		return unknownHandle(h)
	}

	if err := old.close(); err != nil {
		b.logger.Error("binding: closing handle %d for refresh: %v", h, err)
	}
	r, err := b.openReplica(old.path, token)

	b.mu.Lock()
	_, wanted := b.reopening[h]
	delete(b.reopening, h)
	if wanted && err == nil {
		r.version = old.version
		b.replicas[h] = r
	}
	b.mu.Unlock()

	switch {
	case err != nil:
		return err
	case !wanted:
		b.logger.Debug("binding: handle %d released during refresh", h)
		_ = r.close()
		return unknownHandle(h)
	}

	b.logger.Debug("binding: refreshed token for handle %d", h)
	return nil
}

// NotifyCommit records a local commit version and syncs the replica.
func (b *LibSQLBinder) NotifyCommit(h Handle, version int64) error {
	b.mu.Lock()
	r, ok := b.replicas[h]
	if ok && version > r.version {
		r.version = version
	}
	b.mu.Unlock()

	if !ok {
		return unknownHandle(h)
	}
	if err := r.connector.Sync(); err != nil {
		return b.bindError(err)
	}
	return nil
}

// DB returns the database behind h.
func (b *LibSQLBinder) DB(h Handle) (*sql.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.replicas[h]
	if !ok {
		return nil, unknownHandle(h)
	}
	return r.db, nil
}

// Version returns the last commit version recorded for h.
func (b *LibSQLBinder) Version(h Handle) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.replicas[h]
	if !ok {
		return 0, unknownHandle(h)
	}
	return r.version, nil
}

// Len returns the number of live bindings.
func (b *LibSQLBinder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.replicas)
}

// Close releases every binding.
func (b *LibSQLBinder) Close() error {
	b.mu.Lock()
	replicas := b.replicas
	b.replicas = make(map[Handle]*replica)
	clear(b.reopening)
	b.mu.Unlock()

	var firstErr error
	for _, r := range replicas {
		if err := r.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *LibSQLBinder) openReplica(path, token string) (*replica, error) {
	if err := fileutil.EnsureParentDir(path); err != nil {
		return nil, syncerr.WithCause(syncerr.ErrBindFailed, err)
	}

	conn, err := b.open(path, b.primaryURL, token, b.syncInterval)
	if err != nil {
		return nil, b.bindError(err)
	}
	if err := conn.Sync(); err != nil {
		_ = conn.Close()
		return nil, b.bindError(err)
	}

	return &replica{
		path:      path,
		connector: conn,
		db:        sql.OpenDB(conn),
	}, nil
}

// bindError classifies a binding failure. Token refusals become
// ErrTokenExpired so the session can re-authenticate.
func (b *LibSQLBinder) bindError(err error) error {
	if IsUnauthorized(err) {
		return syncerr.WithCause(syncerr.ErrTokenExpired, err)
	}
	return syncerr.WithCause(syncerr.ErrBindFailed, err)
}

func unknownHandle(h Handle) error {
	return fmt.Errorf("%w: %d", syncerr.ErrUnknownHandle, h)
}

// libsqlConnector adapts the libsql connector's Sync signature.
type libsqlConnector struct {
	*libsql.Connector
}

func (c libsqlConnector) Sync() error {
	_, err := c.Connector.Sync()
	return err
}

func openLibSQL(path, primaryURL, token string, syncInterval time.Duration) (Connector, error) {
	opts := []libsql.Option{libsql.WithAuthToken(token)}
	if syncInterval > 0 {
		opts = append(opts, libsql.WithSyncInterval(syncInterval))
	}

	c, err := libsql.NewEmbeddedReplicaConnector(path, primaryURL, opts...)
	if err != nil {
		return nil, err
	}
	return libsqlConnector{Connector: c}, nil
}
