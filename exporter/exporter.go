package exporter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"misskey-exporter/collector"
	"misskey-exporter/metrics"
	"misskey-exporter/storage"
)

// ErrCycleInProgress is returned by UpdateMetrics when a tick arrives while
// another cycle is still running. The tick is dropped, not queued.
var ErrCycleInProgress = errors.New("metrics update already in progress")

// Database is what the exporter needs from the store connector.
type Database interface {
	GetAllMetrics(ctx context.Context) (*storage.MetricsSnapshot, error)
	UserCount(ctx context.Context) (int64, error)
}

// API is what the exporter needs from the Misskey API client.
type API interface {
	GetServerStats(ctx context.Context) *collector.ServerStats
	GetInstanceMeta(ctx context.Context) *collector.InstanceMeta
	Ping(ctx context.Context) bool
}

// Exporter samples the store and the API on a fixed cadence and publishes
// the results into a metrics registry.
type Exporter struct {
	db       Database
	api      API
	metrics  *metrics.Registry
	log      *zap.Logger
	interval time.Duration

	// updating is the cycle guard: set for exactly as long as one cycle runs.
	updating atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires an exporter. interval is the wall-clock period between ticks.
func New(db Database, api API, reg *metrics.Registry, interval time.Duration, log *zap.Logger) *Exporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Exporter{
		db:       db,
		api:      api,
		metrics:  reg,
		log:      log,
		interval: interval,
	}
}

// Start runs one cycle immediately, then schedules a cycle every interval
// until ctx is cancelled or Stop is called. Ticks fire on schedule even if
// an earlier cycle is still running; those ticks are dropped by the guard.
func (e *Exporter) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	_ = e.UpdateMetrics(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.wg.Add(1)
				go func() {
					defer e.wg.Done()
					_ = e.UpdateMetrics(ctx)
				}()
			}
		}
	}()
}

// Stop cancels the schedule and waits for any running cycle to return.
func (e *Exporter) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

// IsUpdating reports whether a cycle is in flight.
func (e *Exporter) IsUpdating() bool {
	return e.updating.Load()
}

// UpdateMetrics runs one sampling cycle: database first, then the API.
// A database failure ends the cycle; API trouble never does.
func (e *Exporter) UpdateMetrics(ctx context.Context) error {
	if !e.updating.CompareAndSwap(false, true) {
		e.log.Debug("metrics update skipped, previous cycle still running")
		return ErrCycleInProgress
	}
	defer e.updating.Store(false)

	e.log.Info("updating metrics")

	if err := e.updateDatabaseMetrics(ctx); err != nil {
		e.log.Error("failed to update metrics", zap.Error(err))
		e.metrics.RecordScrapeError(metrics.SourceGeneral)
		return err
	}
	e.updateAPIMetrics(ctx)

	e.log.Info("metrics updated successfully")
	return nil
}

func (e *Exporter) updateDatabaseMetrics(ctx context.Context) error {
	start := time.Now()

	snap, err := e.db.GetAllMetrics(ctx)
	if err != nil {
		e.log.Error("database metrics update failed", zap.Error(err))
		e.metrics.RecordScrapeError(metrics.SourceDatabase)
		return fmt.Errorf("database metrics: %w", err)
	}
	e.metrics.UpdateDatabaseMetrics(snap)
	e.metrics.RecordScrapeDuration(metrics.SourceDatabase, time.Since(start).Seconds())
	return nil
}

// updateAPIMetrics fetches stats and meta concurrently and applies whatever
// arrived. Nothing escapes it, not even a panic in the client.
func (e *Exporter) updateAPIMetrics(ctx context.Context) {
	start := time.Now()

	var (
		stats *collector.ServerStats
		meta  *collector.InstanceMeta
		g     errgroup.Group
	)
	g.Go(guard("server stats", func() { stats = e.api.GetServerStats(ctx) }))
	g.Go(guard("instance meta", func() { meta = e.api.GetInstanceMeta(ctx) }))

	if err := g.Wait(); err != nil {
		e.log.Error("api metrics update failed", zap.Error(err))
		e.metrics.RecordScrapeError(metrics.SourceAPI)
		return
	}

	if stats == nil || meta == nil {
		e.log.Warn("api metrics incomplete",
			zap.Bool("stats", stats != nil),
			zap.Bool("meta", meta != nil))
		e.metrics.RecordScrapeError(metrics.SourceAPI)
	}
	e.metrics.UpdateAPIMetrics(stats, meta)
	e.metrics.RecordScrapeDuration(metrics.SourceAPI, time.Since(start).Seconds())
}

// guard turns a panic in f into an error.
func guard(name string, f func()) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s: panic: %v", name, r)
			}
		}()
		f()
		return nil
	}
}

// Healthy probes the store with a cheap count. The API is pinged as well but
// only logged: store availability alone decides health.
func (e *Exporter) Healthy(ctx context.Context) bool {
	_, dbErr := e.db.UserCount(ctx)
	apiUp := e.api.Ping(ctx)

	if !apiUp {
		e.log.Warn("misskey api ping failed")
	}
	if dbErr != nil {
		e.log.Error("health check failed", zap.Error(dbErr))
		return false
	}
	return true
}

// RenderMetrics returns the current exposition text.
func (e *Exporter) RenderMetrics() (string, error) {
	return e.metrics.Render()
}

// ContentType is the media type of RenderMetrics.
func (e *Exporter) ContentType() string {
	return e.metrics.ContentType()
}
