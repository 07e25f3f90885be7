// Package handler serves the searcher's read API over the current store
// snapshot and config, plus the admin routes for reloads and the cache.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/Adithya-Monish-Kumar-K/hotswap-index/internal/configwatch"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/metrics"
)

// MessageSource is the live messages config.
type MessageSource interface {
	Load() *configwatch.Messages
	Version() uint64
}

// Reloader runs a coordinated full reload.
type Reloader interface {
	RequestReload(ctx context.Context) error
}

// Deps are the objects the handler reads from. Cache, Lifecycle and Metrics
// may be nil.
type Deps struct {
	Store       *store.Store
	Messages    MessageSource
	Reloader    Reloader
	Cache       *cache.LookupCache
	Lifecycle   http.Handler
	Metrics     *metrics.Metrics
	SegmentsDir string
}

type Handler struct {
	deps   Deps
	logger *slog.Logger
}

func New(deps Deps) *Handler {
	return &Handler{
		deps:   deps,
		logger: slog.Default().With("component", "search-handler"),
	}
}

// Register adds every route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /messages", h.Messages)
	mux.HandleFunc("GET /message/{name}", h.Message)
	mux.HandleFunc("GET /segments", h.Segments)
	mux.HandleFunc("GET /segment/{name...}", h.Segment)
	mux.HandleFunc("GET /search/{term}", h.Search)
	mux.HandleFunc("POST /admin/reload", h.Reload)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	if h.deps.Lifecycle != nil {
		mux.Handle("GET /api/v1/lifecycle/stats", h.deps.Lifecycle)
	}
}

func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"version":  h.deps.Messages.Version(),
		"messages": h.deps.Messages.Load().Messages,
	})
}

func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	msg, ok := h.deps.Messages.Load().Get(name)
	if !ok {
		h.writeError(w, apperrors.Newf(apperrors.ErrMessageNotFound, http.StatusNotFound, "no message named %q", name))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"name": name, "message": msg})
}

type segmentSummary struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Terms    int    `json:"terms"`
	Postings int    `json:"postings"`
}

// Segments lists loaded segments in lexical ID order.
func (h *Handler) Segments(w http.ResponseWriter, r *http.Request) {
	snap := h.deps.Store.Load()
	defer snap.Release()

	out := make([]segmentSummary, 0, snap.Len())
	for id, seg := range snap.All() {
		out = append(out, segmentSummary{
			ID:       id,
			Version:  seg.Version,
			Terms:    seg.Terms(),
			Postings: seg.Postings(),
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"generation": snap.Generation(),
		"segments":   out,
	})
}

// Segment returns one segment's full data. The name may be the segment ID,
// the ID without its leading slash, or a file name inside the segments dir.
func (h *Handler) Segment(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	snap := h.deps.Store.Load()
	defer snap.Release()

	for _, id := range h.candidateIDs(name) {
		if seg, ok := snap.Get(id); ok {
			h.writeJSON(w, http.StatusOK, map[string]any{
				"id":      seg.ID,
				"version": seg.Version,
				"data":    seg.Data,
			})
			return
		}
	}
	h.writeError(w, apperrors.Newf(apperrors.ErrSegmentNotFound, http.StatusNotFound, "segment %q is not loaded", name))
}

func (h *Handler) candidateIDs(name string) []string {
	ids := []string{filepath.Clean(name), filepath.Clean("/" + name)}
	if h.deps.SegmentsDir != "" {
		ids = append(ids, filepath.Join(h.deps.SegmentsDir, name))
	}
	return ids
}

type searchResponse struct {
	cache.Result
	Count    int  `json:"count"`
	CacheHit bool `json:"cache_hit"`
}

// Search looks up a term across all loaded segments. With distinct=true the
// ids are deduplicated and sorted.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	term := r.PathValue("term")
	distinct := false
	if v := r.URL.Query().Get("distinct"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "distinct must be a boolean"))
			return
		}
		distinct = parsed
	}

	snap := h.deps.Store.Load()
	defer snap.Release()
	compute := func() (*cache.Result, error) {
		ids := snap.Lookup(term)
		if distinct {
			ids = distinctIDs(ids)
		}
		return &cache.Result{Term: term, Epoch: snap.Epoch(), Generation: snap.Generation(), Distinct: distinct, IDs: ids}, nil
	}

	var (
		res      *cache.Result
		cacheHit bool
		err      error
	)
	if h.deps.Cache != nil {
		res, cacheHit, err = h.deps.Cache.GetOrCompute(ctx, snap.Epoch(), snap.Generation(), term, distinct, compute)
	} else {
		res, err = compute()
	}
	if err != nil {
		log.Error("lookup failed", "term", term, "error", err)
		h.observeSearch("error", cacheHit, start, 0)
		h.writeError(w, fmt.Errorf("%w: lookup failed", apperrors.ErrInternal))
		return
	}

	resultType := "hit"
	if len(res.IDs) == 0 {
		resultType = "zero_result"
	}
	h.observeSearch(resultType, cacheHit, start, len(res.IDs))
	log.Debug("lookup completed",
		"term", term,
		"generation", res.Generation,
		"results", len(res.IDs),
		"cache_hit", cacheHit,
	)
	h.writeJSON(w, http.StatusOK, searchResponse{Result: *res, Count: len(res.IDs), CacheHit: cacheHit})
}

func distinctIDs(ids []uint64) []uint64 {
	bm := roaring64.New()
	bm.AddMany(ids)
	out := bm.ToArray()
	if out == nil {
		out = []uint64{}
	}
	return out
}

func (h *Handler) observeSearch(resultType string, cacheHit bool, start time.Time, n int) {
	m := h.deps.Metrics
	if m == nil {
		return
	}
	cacheStatus := "miss"
	switch {
	case h.deps.Cache == nil:
		cacheStatus = "disabled"
	case cacheHit:
		cacheStatus = "hit"
	}
	m.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	m.SearchLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
	m.SearchResultsCount.Observe(float64(n))
}

// Reload runs a coordinated full reload through the reloader goroutine.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Reloader.RequestReload(r.Context()); err != nil {
		logger.FromContext(r.Context()).Error("admin reload failed", "error", err)
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "reloaded",
		"generation": h.deps.Store.Generation(),
		"segments":   h.deps.Store.Len(),
	})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.deps.Cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.deps.Cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
		"breaker":  h.deps.Cache.BreakerState().String(),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.deps.Cache == nil {
		h.writeError(w, apperrors.New(apperrors.ErrUnavailable, http.StatusServiceUnavailable, "caching is disabled"))
		return
	}

	deleted, err := h.deps.Cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, fmt.Errorf("%w: cache invalidation failed", apperrors.ErrInternal))
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "deleted": deleted})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.writeJSON(w, apperrors.HTTPStatusCode(err), map[string]string{"error": err.Error()})
}
