package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/geoattend/internal/attendance"
	"github.com/roach88/geoattend/internal/metrics"
)

// RemoteClient is the remote store. Both calls must be safe to retry.
type RemoteClient interface {
	Create(ctx context.Context, collection string, fields map[string]any) (string, error)
	Update(ctx context.Context, collection, remoteID string, fields map[string]any) error
}

// Store is the subset of the record store the engine uses.
type Store interface {
	EligibleRecords(ctx context.Context) ([]attendance.Record, error)
	MarkSynced(ctx context.Context, id int64, remoteID string) error
}

// Report counts what one run did.
type Report struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Retry reports whether a later run could make progress the run could not.
// Skipped records need manual reconciliation and do not count.
func (r Report) Retry() bool {
	return r.Failed > 0
}

func (r Report) String() string {
	return fmt.Sprintf("created=%d updated=%d skipped=%d failed=%d", r.Created, r.Updated, r.Skipped, r.Failed)
}

// Engine is the synchronization engine.
//
// Thread-safety: Run may be called from any goroutine; runs are serialized.
type Engine struct {
	store      Store
	remote     RemoteClient
	collection string
	metrics    *metrics.Set
	logger     *slog.Logger

	mu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithCollection sets the remote collection. Default attendance.DefaultCollection.
func WithCollection(name string) Option {
	return func(e *Engine) {
		if name != "" {
			e.collection = name
		}
	}
}

// WithMetrics sets the metric collectors.
func WithMetrics(s *metrics.Set) Option {
	return func(e *Engine) { e.metrics = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine.
func NewEngine(s Store, remote RemoteClient, opts ...Option) *Engine {
	e := &Engine{
		store:      s,
		remote:     remote,
		collection: attendance.DefaultCollection,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "syncer")
	return e
}

// Run pushes every eligible record once.
//
// Only a failure to list eligible records is returned as an error. Remote
// failures are counted in Report.Failed and leave the record eligible;
// records that cannot be attributed or encoded are counted in
// Report.Skipped and also stay eligible.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	began := time.Now()
	var rep Report

	records, err := e.store.EligibleRecords(ctx)
	if err != nil {
		return rep, fmt.Errorf("sync: %w", err)
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			rep.Failed++
			e.logger.Warn("sync interrupted", "record_id", rec.ID, "error", err)
			break
		}
		e.push(ctx, rec, &rep)
	}

	e.metrics.SyncResult("created", rep.Created)
	e.metrics.SyncResult("updated", rep.Updated)
	e.metrics.SyncResult("skipped", rep.Skipped)
	e.metrics.SyncResult("failed", rep.Failed)
	e.metrics.ObserveSync(time.Since(began))

	e.logger.Info("sync finished",
		"eligible", len(records),
		"created", rep.Created,
		"updated", rep.Updated,
		"skipped", rep.Skipped,
		"failed", rep.Failed,
	)
	return rep, nil
}

func (e *Engine) push(ctx context.Context, rec attendance.Record, rep *Report) {
	fields, err := attendance.Document(rec)
	if err != nil {
		rep.Skipped++
		e.logger.Warn("record skipped", "record_id", rec.ID, "code", string(attendance.CodeOf(err)), "error", err)
		return
	}

	if rec.RemoteID == "" {
		remoteID, err := e.remote.Create(ctx, e.collection, fields)
		if err != nil {
			rep.Failed++
			e.logger.Warn("remote create failed", "record_id", rec.ID, "error", err)
			return
		}
		if err := e.store.MarkSynced(ctx, rec.ID, remoteID); err != nil {
			// The remote holds the document; the next create is deduplicated
			// by the idempotency key and returns the same id.
			rep.Failed++
			e.logger.Error("mark synced failed", "record_id", rec.ID, "remote_id", remoteID, "error", err)
			return
		}
		rep.Created++
		e.logger.Debug("record created remotely", "record_id", rec.ID, "remote_id", remoteID)
		return
	}

	if err := e.remote.Update(ctx, e.collection, rec.RemoteID, fields); err != nil {
		rep.Failed++
		e.logger.Warn("remote update failed", "record_id", rec.ID, "remote_id", rec.RemoteID, "error", err)
		return
	}
	if err := e.store.MarkSynced(ctx, rec.ID, rec.RemoteID); err != nil {
		rep.Failed++
		e.logger.Error("mark synced failed", "record_id", rec.ID, "remote_id", rec.RemoteID, "error", err)
		return
	}
	rep.Updated++
}
