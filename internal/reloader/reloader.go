// Package reloader owns every mutation of the segment store. A single
// goroutine consumes change events for the segments directory and applies
// them, so the store never sees concurrent mutators from the watch path.
package reloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/hotswap-index/internal/segment"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/internal/store"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/internal/watcher"
	apperrors "github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/tracing"
)

// Config describes the segments directory being followed.
type Config struct {
	Dir         string
	VersionPath string
	// CoordinatorMode ignores per-file create and remove events and reloads
	// the whole directory only when the version file changes.
	CoordinatorMode bool
	DecodeWorkers   int
}

// Option configures a Reloader.
type Option func(*Reloader)

// WithMetrics records reload and event metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reloader) { r.metrics = m }
}

// WithLogger overrides the reloader's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reloader) { r.logger = logger }
}

type reloadRequest struct {
	ctx  context.Context
	done chan error
}

// Reloader applies segments-directory events to a store.
type Reloader struct {
	store       *store.Store
	dir         string
	versionPath string
	coordinator bool
	workers     int
	requests    chan reloadRequest
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// New creates a Reloader for s.
func New(s *store.Store, cfg Config, opts ...Option) *Reloader {
	r := &Reloader{
		store:       s,
		dir:         filepath.Clean(cfg.Dir),
		versionPath: filepath.Clean(cfg.VersionPath),
		coordinator: cfg.CoordinatorMode,
		workers:     cfg.DecodeWorkers,
		requests:    make(chan reloadRequest),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "reloader")
	r.logger.Info("reloader configured",
		"dir", r.dir,
		"version_file", r.versionPath,
		"coordinator_mode", r.coordinator,
	)
	return r
}

// Run applies events and reload requests until ctx ends or events is
// closed. It must be the only goroutine mutating the store.
func (r *Reloader) Run(ctx context.Context, events <-chan watcher.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				r.logger.Info("event stream closed")
				return nil
			}
			r.Handle(ctx, ev)
		case req := <-r.requests:
			req.done <- r.ReloadAll(req.ctx)
		}
	}
}

// RequestReload asks the running loop for a full reload and waits for its
// result.
func (r *Reloader) RequestReload(ctx context.Context) error {
	req := reloadRequest{ctx: ctx, done: make(chan error, 1)}
	select {
	case r.requests <- req:
	case <-ctx.Done():
		return fmt.Errorf("%w: reload loop busy: %v", apperrors.ErrUnavailable, ctx.Err())
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle applies one event. Events are idempotent: a repeated create reloads
// the same file, and removing an absent segment does nothing.
func (r *Reloader) Handle(ctx context.Context, ev watcher.Event) {
	path := filepath.Clean(ev.Path)
	isVersion := path == r.versionPath
	if r.metrics != nil {
		r.metrics.WatcherEventsTotal.WithLabelValues("segments", ev.Kind.String()).Inc()
	}

	switch ev.Kind {
	case watcher.KindCreate:
		switch {
		case isVersion:
			r.logger.Info("skipping version file create", "path", path)
		case r.coordinator:
			r.logger.Debug("create ignored in coordinator mode", "path", path)
		default:
			r.load(path)
		}

	case watcher.KindModify:
		if !isVersion {
			r.logger.Warn("modify event unused", "path", path)
			return
		}
		rec, err := segment.ReadVersion(path)
		if err != nil {
			r.logger.Warn("failed to read version file", "path", path, "error", err)
		} else {
			r.logger.Info("version file changed", "version", rec.Version)
		}
		if r.coordinator {
			if err := r.ReloadAll(ctx); err != nil {
				r.logger.Error("coordinated reload failed, keeping current segments", "error", err)
			}
		}

	case watcher.KindRemove:
		switch {
		case isVersion:
			r.logger.Info("skipping version file remove", "path", path)
		case r.coordinator:
			r.logger.Debug("remove ignored in coordinator mode", "path", path)
		default:
			r.unload(path)
		}

	default:
		r.logger.Info("ignoring unclassified event", "kind", ev.Kind, "path", path)
	}
}

func (r *Reloader) load(path string) {
	if !segment.IsCandidate(path) {
		r.logger.Debug("skipping non-segment file", "path", path)
		return
	}
	// Decode before taking the update handle so other mutators never wait on
	// file I/O.
	seg, err := segment.Load(path)
	if err != nil {
		r.recordSkip(path, err)
		return
	}

	txn := r.store.Update()
	txn.Insert(seg)
	txn.Commit()
	r.logger.Info("segment loaded", "path", path, "terms", seg.Terms(), "version", seg.Version)
}

func (r *Reloader) unload(path string) {
	txn := r.store.Update()
	removed := txn.Remove(path)
	txn.Commit()
	if removed {
		r.logger.Info("segment unloaded", "path", path)
	} else {
		r.logger.Debug("remove for unknown segment", "path", path)
	}
}

func (r *Reloader) recordSkip(path string, err error) {
	reason := skipReason(err)
	if reason == "empty" {
		r.logger.Warn("segment file is empty, skipping", "path", path)
	} else {
		r.logger.Warn("failed to load segment, skipping", "path", path, "reason", reason, "error", err)
	}
	r.countSkip(reason)
}

func (r *Reloader) countSkip(reason string) {
	if r.metrics != nil {
		r.metrics.SegmentsSkippedTotal.WithLabelValues(reason).Inc()
	}
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrEmptySegment):
		return "empty"
	case errors.Is(err, apperrors.ErrInvalidSegment):
		return "invalid"
	default:
		return "error"
	}
}

// ReloadAll rescans the segments directory and replaces the store's
// contents in one publish. If the directory cannot be read the store is left
// untouched.
func (r *Reloader) ReloadAll(ctx context.Context) error {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "segments.reload", tracing.NewTraceID())
	defer func() {
		span.End()
		span.Log()
	}()

	_, scanSpan := tracing.StartChildSpan(ctx, "segments.scan")
	res, err := segment.Scan(ctx, r.dir, segment.ScanOptions{
		Skip:    []string{r.versionPath},
		Workers: r.workers,
		Logger:  r.logger,
	})
	scanSpan.End()
	if err != nil {
		span.SetAttr("error", err.Error())
		r.observeReload("failure", start)
		return fmt.Errorf("reloading segments: %w", err)
	}
	scanSpan.SetAttr("loaded", len(res.Segments))
	scanSpan.SetAttr("skipped", len(res.Skipped))
	for _, skipped := range res.Skipped {
		r.countSkip(skipReason(skipped.Err))
	}

	_, publishSpan := tracing.StartChildSpan(ctx, "segments.publish")
	r.store.ReplaceAll(res.Segments)
	publishSpan.End()

	r.observeReload("success", start)
	r.logger.Info("segments reloaded",
		"segments", len(res.Segments),
		"skipped", len(res.Skipped),
		"generation", r.store.Generation(),
		"duration", time.Since(start),
	)
	return nil
}

func (r *Reloader) observeReload(status string, start time.Time) {
	if r.metrics == nil {
		return
	}
	r.metrics.ReloadsTotal.WithLabelValues(status).Inc()
	r.metrics.ReloadDuration.Observe(time.Since(start).Seconds())
}
