package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	apperrors "github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/logger"
)

const maxRecent = 100

// CatalogReader lists recorded flushes.
type CatalogReader interface {
	Recent(ctx context.Context, limit int) ([]FlushResult, error)
}

type documentRequest struct {
	DocID uint64   `json:"doc_id"`
	Terms []string `json:"terms"`
}

// AdminHandler exposes the engine over HTTP: direct ingestion for setups
// without Kafka, stats, manual flushes and the segment catalog.
type AdminHandler struct {
	engine  *Engine
	catalog CatalogReader
	logger  *slog.Logger
}

// NewAdminHandler creates an AdminHandler. catalog may be nil.
func NewAdminHandler(engine *Engine, catalog CatalogReader) *AdminHandler {
	return &AdminHandler{
		engine:  engine,
		catalog: catalog,
		logger:  slog.Default().With("component", "indexer-admin"),
	}
}

func (h *AdminHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/documents", h.IndexDocument)
	mux.HandleFunc("GET /api/v1/index/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/index/lookup/{term}", h.Lookup)
	mux.HandleFunc("POST /api/v1/index/flush", h.Flush)
	mux.HandleFunc("GET /api/v1/catalog/recent", h.Recent)
}

func (h *AdminHandler) IndexDocument(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		h.writeError(w, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid document body: %v", err))
		return
	}
	if err := h.engine.IndexDocument(req.DocID, req.Terms); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]any{"doc_id": req.DocID, "terms": len(req.Terms)})
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Stats())
}

// Lookup reads the unflushed in-memory index.
func (h *AdminHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	term := r.PathValue("term")
	ids := h.engine.Lookup(term)
	h.writeJSON(w, http.StatusOK, map[string]any{"term": term, "ids": ids, "count": len(ids)})
}

func (h *AdminHandler) Flush(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Flush(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("manual flush failed", "error", err)
		h.writeError(w, err)
		return
	}
	if res == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "empty"})
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *AdminHandler) Recent(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		h.writeError(w, apperrors.New(apperrors.ErrUnavailable, http.StatusServiceUnavailable, "segment catalog is not configured"))
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be a positive integer"))
			return
		}
		limit = min(parsed, maxRecent)
	}
	rows, err := h.catalog.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("catalog query failed", "error", err)
		h.writeError(w, fmt.Errorf("%w: catalog query failed", apperrors.ErrInternal))
		return
	}
	if rows == nil {
		rows = []FlushResult{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"segments": rows})
}

func (h *AdminHandler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *AdminHandler) writeError(w http.ResponseWriter, err error) {
	h.writeJSON(w, apperrors.HTTPStatusCode(err), map[string]string{"error": err.Error()})
}
