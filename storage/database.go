package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"misskey-exporter/aid"
)

const (
	// DefaultMaxReconnectAttempts bounds one reconnect sequence.
	DefaultMaxReconnectAttempts = 3
	// DefaultReconnectDelay is the pause between failed reconnect attempts.
	DefaultReconnectDelay = 5 * time.Second

	// queryCount is the number of statements GetAllMetrics runs at once.
	queryCount = 10

	defaultHashtagLimit = 10
)

// Opener establishes a fresh, verified connection pool.
type Opener func(ctx context.Context) (*sql.DB, error)

// Option customises a Database.
type Option func(*Database)

// WithReconnect overrides the reconnect bound and delay.
func WithReconnect(maxAttempts int, delay time.Duration) Option {
	return func(d *Database) {
		if maxAttempts > 0 {
			d.maxReconnectAttempts = maxAttempts
		}
		if delay >= 0 {
			d.reconnectDelay = delay
		}
	}
}

// WithClock overrides the time source used for query windows.
func WithClock(now func() time.Time) Option {
	return func(d *Database) { d.now = now }
}

// WithTarget attaches fields describing the store to failure logs.
func WithTarget(fields ...zap.Field) Option {
	return func(d *Database) { d.target = fields }
}

// Database is a resilient connector to the Misskey store. Every query
// makes sure a connection exists first, reconnecting with a bounded number
// of attempts, and marks the connector Disconnected when it fails.
type Database struct {
	open    Opener
	dialect Dialect
	log     *zap.Logger
	target  []zap.Field
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	maxReconnectAttempts int
	reconnectDelay       time.Duration

	// reconnectMu serialises reconnect sequences; queries that find the
	// connector Disconnected wait here for the one in flight.
	reconnectMu sync.Mutex

	mu                sync.RWMutex
	db                *sql.DB
	state             ConnectionState
	reconnectAttempts int
}

// New returns a Disconnected connector using open to build connections.
func New(open Opener, dialect Dialect, log *zap.Logger, opts ...Option) *Database {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Database{
		open:                 open,
		dialect:              dialect,
		log:                  log,
		now:                  time.Now,
		sleep:                sleepContext,
		maxReconnectAttempts: DefaultMaxReconnectAttempts,
		reconnectDelay:       DefaultReconnectDelay,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Connect establishes the first connection. It does not retry.
func (d *Database) Connect(ctx context.Context) error {
	db, err := d.open(ctx)
	if err != nil {
		d.log.With(d.target...).Error("database connection failed", zap.Error(err))
		return fmt.Errorf("connect: %w", err)
	}

	d.mu.Lock()
	stale := d.db
	d.db = db
	d.state = Connected
	d.reconnectAttempts = 0
	d.mu.Unlock()

	if stale != nil {
		_ = stale.Close()
	}
	d.log.Info("database connected", zap.String("dialect", d.dialect.Name))
	return nil
}

// Disconnect closes the connection. Calling it again is a no-op.
func (d *Database) Disconnect() error {
	d.mu.Lock()
	db := d.db
	d.db = nil
	d.state = Disconnected
	d.mu.Unlock()

	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	d.log.Info("database disconnected")
	return nil
}

// State reports the current connection state.
func (d *Database) State() ConnectionState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// ReconnectAttempts reports the attempt counter of the current or last
// reconnect sequence; zero after any successful connect.
func (d *Database) ReconnectAttempts() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.reconnectAttempts
}

func (d *Database) ensureConnection(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.State() == Connected {
		return nil
	}

	d.reconnectMu.Lock()
	defer d.reconnectMu.Unlock()

	if d.State() == Connected {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	d.log.Warn("database connection lost, attempting to reconnect")
	return d.reconnect(ctx)
}

// reconnect runs one bounded sequence of attempts. Callers hold reconnectMu.
func (d *Database) reconnect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= d.maxReconnectAttempts; attempt++ {
		d.mu.Lock()
		d.reconnectAttempts = attempt
		stale := d.db
		d.db = nil
		d.state = Disconnected
		d.mu.Unlock()

		if stale != nil {
			_ = stale.Close()
		}

		d.log.Info("reconnection attempt",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", d.maxReconnectAttempts))

		db, err := d.open(ctx)
		if err == nil {
			d.mu.Lock()
			d.db = db
			d.state = Connected
			d.reconnectAttempts = 0
			d.mu.Unlock()
			d.log.Info("database reconnected successfully")
			return nil
		}

		lastErr = err
		d.log.Error("reconnection attempt failed", zap.Int("attempt", attempt), zap.Error(err))

		if attempt < d.maxReconnectAttempts {
			d.log.Info("waiting before next reconnection attempt", zap.Duration("delay", d.reconnectDelay))
			if err := d.sleep(ctx, d.reconnectDelay); err != nil {
				return fmt.Errorf("%w: %w", ErrReconnectFailed, err)
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrReconnectFailed, d.maxReconnectAttempts, lastErr)
}

func (d *Database) markDisconnected() {
	d.mu.Lock()
	d.state = Disconnected
	d.mu.Unlock()
}

// conn ensures a connection and hands out the current pool.
func (d *Database) conn(ctx context.Context) (*sql.DB, error) {
	if err := d.ensureConnection(ctx); err != nil {
		return nil, err
	}
	d.mu.RLock()
	db := d.db
	d.mu.RUnlock()
	if db == nil {
		d.markDisconnected()
		return nil, ErrNotConnected
	}
	return db, nil
}

func (d *Database) count(ctx context.Context, name, query string, args ...any) (int64, error) {
	db, err := d.conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	var n int64
	if err := db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		d.markDisconnected()
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

// UserCount counts local users.
func (d *Database) UserCount(ctx context.Context) (int64, error) {
	return d.count(ctx, "user count", d.dialect.UserCount)
}

// ActiveUsers counts local users active within interval (see aid.ParseInterval).
func (d *Database) ActiveUsers(ctx context.Context, interval string) (int64, error) {
	cutoff := d.now().Add(-aid.ParseInterval(interval)).UTC()
	return d.count(ctx, "active users "+interval, d.dialect.ActiveUsers, cutoff)
}

// NotesCount counts all notes.
func (d *Database) NotesCount(ctx context.Context) (int64, error) {
	return d.count(ctx, "notes count", d.dialect.NotesCount)
}

// RecentNotes counts notes whose aid is newer than now - interval.
func (d *Database) RecentNotes(ctx context.Context, interval string) (int64, error) {
	return d.count(ctx, "recent notes "+interval, d.dialect.RecentNotes, aid.LowerBound(interval, d.now()))
}

// FederatedInstancesCount counts known remote instances.
func (d *Database) FederatedInstancesCount(ctx context.Context) (int64, error) {
	return d.count(ctx, "federated instances", d.dialect.InstancesCount)
}

// RemoteUsersCount counts users from other instances.
func (d *Database) RemoteUsersCount(ctx context.Context) (int64, error) {
	return d.count(ctx, "remote users", d.dialect.RemoteUsers)
}

// ConnectionCount counts sessions open against the current database.
func (d *Database) ConnectionCount(ctx context.Context) (int64, error) {
	return d.count(ctx, "connection count", d.dialect.Connections)
}

// DatabaseSize reports the size of the current database in bytes.
func (d *Database) DatabaseSize(ctx context.Context) (int64, error) {
	return d.count(ctx, "database size", d.dialect.DatabaseSize)
}

// TopHashtags returns the limit most used hashtags, most used first.
// A non-positive limit means 10.
func (d *Database) TopHashtags(ctx context.Context, limit int) ([]HashtagCount, error) {
	if limit <= 0 {
		limit = defaultHashtagLimit
	}
	db, err := d.conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("top hashtags: %w", err)
	}

	rows, err := db.QueryContext(ctx, d.dialect.TopHashtags, limit)
	if err != nil {
		d.markDisconnected()
		return nil, fmt.Errorf("top hashtags: %w", err)
	}
	defer rows.Close()

	var out []HashtagCount
	for rows.Next() {
		var h HashtagCount
		if err := rows.Scan(&h.Tag, &h.Count); err != nil {
			d.markDisconnected()
			return nil, fmt.Errorf("scan hashtag row: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		d.markDisconnected()
		return nil, fmt.Errorf("top hashtags: %w", err)
	}
	return out, nil
}

// GetAllMetrics runs every count concurrently and assembles a snapshot.
// If any statement fails no snapshot is returned.
func (d *Database) GetAllMetrics(ctx context.Context) (*MetricsSnapshot, error) {
	if err := d.ensureConnection(ctx); err != nil {
		return nil, err
	}

	snap := &MetricsSnapshot{CollectedAt: d.now()}
	g, gctx := errgroup.WithContext(ctx)

	run := func(dst *int64, f func(context.Context) (int64, error)) {
		g.Go(func() error {
			n, err := f(gctx)
			if err != nil {
				return err
			}
			*dst = n
			return nil
		})
	}
	window := func(f func(context.Context, string) (int64, error), interval string) func(context.Context) (int64, error) {
		return func(ctx context.Context) (int64, error) { return f(ctx, interval) }
	}

	run(&snap.TotalUsers, d.UserCount)
	run(&snap.ActiveUsers.Daily, window(d.ActiveUsers, "1 day"))
	run(&snap.ActiveUsers.Weekly, window(d.ActiveUsers, "7 days"))
	run(&snap.ActiveUsers.Monthly, window(d.ActiveUsers, "30 days"))
	run(&snap.TotalNotes, d.NotesCount)
	run(&snap.RecentNotes.Daily, window(d.RecentNotes, "1 day"))
	run(&snap.Federation.Instances, d.FederatedInstancesCount)
	run(&snap.Federation.RemoteUsers, d.RemoteUsersCount)
	run(&snap.Database.Connections, d.ConnectionCount)
	run(&snap.Database.SizeBytes, d.DatabaseSize)

	if err := g.Wait(); err != nil {
		d.markDisconnected()
		d.log.With(d.target...).Error("metrics query batch failed", zap.Error(err))
		return nil, err
	}
	return snap, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
