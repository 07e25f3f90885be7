// Package indexer builds segments from a stream of documents. Documents are
// appended concurrently into an in-memory TermIndex; a flush swaps in a fresh
// index and writes the old one out as an immutable segment file.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/hotswap-index/internal/segment"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/metrics"
)

const catalogTimeout = 5 * time.Second

// FlushResult describes one written segment.
type FlushResult struct {
	Path      string    `json:"path"`
	Version   string    `json:"version"`
	Terms     int       `json:"terms"`
	Postings  int       `json:"postings"`
	Documents int64     `json:"documents"`
	CreatedAt time.Time `json:"created_at"`
}

// Catalog records flushed segments.
type Catalog interface {
	Record(ctx context.Context, res FlushResult) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithCatalog records every flush in c.
func WithCatalog(c Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithMetrics records indexing metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithVersionFile rewrites the version-coordination file at path after each
// flush, so searchers in coordinator mode pick up the new segment.
func WithVersionFile(path string) Option {
	return func(e *Engine) { e.versionPath = path }
}

// WithFlushHook registers fn to run after each successful flush.
func WithFlushHook(fn func(context.Context, FlushResult)) Option {
	return func(e *Engine) { e.onFlush = append(e.onFlush, fn) }
}

// Engine accepts documents and periodically flushes them to segment files.
type Engine struct {
	current     atomic.Pointer[TermIndex]
	documents   atomic.Int64
	gate        sync.RWMutex
	flushMu     sync.Mutex
	writer      *segment.Writer
	cfg         config.IndexerConfig
	catalog     Catalog
	metrics     *metrics.Metrics
	versionPath string
	onFlush     []func(context.Context, FlushResult)
	logger      *slog.Logger
}

// NewEngine creates an Engine writing into cfg.OutputDir.
func NewEngine(cfg config.IndexerConfig, opts ...Option) (*Engine, error) {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating segment output directory: %w", err)
	}
	e := &Engine{
		writer: segment.NewWriter(cfg.OutputDir),
		cfg:    cfg,
		logger: slog.Default().With("component", "indexer"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.current.Store(e.newIndex())
	return e, nil
}

func (e *Engine) newIndex() *TermIndex {
	ix := NewTermIndex(e.cfg.InitialCapacity)
	if e.metrics != nil {
		ix.onCreate = e.metrics.TermsCreatedTotal.Inc
	}
	return ix
}

// IndexDocument appends docID to the posting list of every term. It is safe
// to call from many goroutines.
func (e *Engine) IndexDocument(docID uint64, terms []string) error {
	if len(terms) == 0 {
		return fmt.Errorf("%w: document %d has no terms", apperrors.ErrInvalidInput, docID)
	}

	e.gate.RLock()
	e.current.Load().AddDocument(docID, terms)
	e.gate.RUnlock()

	e.documents.Add(1)
	if e.metrics != nil {
		e.metrics.DocsIndexedTotal.Inc()
		e.metrics.PostingsAppendedTotal.Add(float64(len(terms)))
	}
	e.logger.Debug("document indexed in memory", "doc_id", docID, "terms", len(terms))
	return nil
}

// Lookup returns term's postings from the unflushed in-memory index.
func (e *Engine) Lookup(term string) []uint64 {
	return e.current.Load().Lookup(term)
}

// Stats reports the unflushed in-memory index.
func (e *Engine) Stats() Stats {
	return e.current.Load().Stats()
}

// Flush writes everything indexed so far into a new segment file. It returns
// a nil result when there was nothing to write.
func (e *Engine) Flush(ctx context.Context) (*FlushResult, error) {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	// Writers hold the gate shared, so once it is taken exclusively no
	// append is still in flight against the old index.
	e.gate.Lock()
	old := e.current.Swap(e.newIndex())
	docs := e.documents.Swap(0)
	e.gate.Unlock()

	data := old.Snapshot()
	if len(data) == 0 {
		return nil, nil
	}

	version := time.Now().UTC().Format(time.RFC3339Nano)
	path, err := e.writer.Write(data, version)
	if err != nil {
		e.restore(data, docs)
		e.observeFlush("failure")
		return nil, fmt.Errorf("writing segment: %w", err)
	}

	stats := old.Stats()
	res := FlushResult{
		Path:      path,
		Version:   version,
		Terms:     stats.Terms,
		Postings:  int(stats.Postings),
		Documents: docs,
		CreatedAt: time.Now().UTC(),
	}

	if e.versionPath != "" {
		if err := segment.WriteVersion(e.versionPath, version); err != nil {
			e.logger.Error("failed to bump version file", "path", e.versionPath, "error", err)
		}
	}
	if e.catalog != nil {
		recordCtx, cancel := context.WithTimeout(ctx, catalogTimeout)
		err := e.catalog.Record(recordCtx, res)
		cancel()
		if err != nil {
			e.logger.Error("failed to record segment in catalog", "path", path, "error", err)
		}
	}
	for _, fn := range e.onFlush {
		fn(ctx, res)
	}

	e.observeFlush("success")
	e.logger.Info("segment flushed",
		"path", path,
		"terms", res.Terms,
		"postings", res.Postings,
		"docs", res.Documents,
	)
	return &res, nil
}

// restore puts unflushed data back so a failed write loses nothing. The
// restored postings land after any appended since the swap.
func (e *Engine) restore(data map[string][]uint64, docs int64) {
	e.gate.RLock()
	ix := e.current.Load()
	for term, ids := range data {
		for _, id := range ids {
			ix.Add(term, id)
		}
	}
	e.gate.RUnlock()
	e.documents.Add(docs)
}

func (e *Engine) observeFlush(status string) {
	if e.metrics != nil {
		e.metrics.IndexFlushesTotal.WithLabelValues(status).Inc()
	}
}

// StartFlushLoop flushes every cfg.FlushInterval until ctx ends, then
// flushes once more.
func (e *Engine) StartFlushLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.FlushInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				e.logger.Info("flush loop stopping, performing final flush")
				if _, err := e.Flush(context.Background()); err != nil {
					e.logger.Error("final flush failed", "error", err)
				}
				return
			case <-ticker.C:
				if e.current.Load().Len() == 0 {
					continue
				}
				if _, err := e.Flush(ctx); err != nil {
					e.logger.Error("periodic flush failed", "error", err)
				}
			}
		}
	}()
}

// Close flushes whatever remains.
func (e *Engine) Close(ctx context.Context) error {
	if _, err := e.Flush(ctx); err != nil {
		return fmt.Errorf("final flush on close: %w", err)
	}
	return nil
}
