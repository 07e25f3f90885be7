package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/hotswap-index/internal/configwatch"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/internal/segment"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/metrics"
)

type staticMessages struct {
	m *configwatch.Messages
}

func (s staticMessages) Load() *configwatch.Messages { return s.m }
func (s staticMessages) Version() uint64             { return 3 }

type fakeReloader struct {
	calls int
	err   error
}

func (f *fakeReloader) RequestReload(context.Context) error {
	f.calls++
	return f.err
}

func seg(id, version string, data map[string][]uint64) *segment.Segment {
	return &segment.Segment{ID: id, Version: version, Data: data}
}

func newServer(t *testing.T, reloader *fakeReloader) (*http.ServeMux, *store.Store, *metrics.Metrics) {
	t.Helper()
	s := store.New(map[string]*segment.Segment{
		"/seg/b.json": seg("/seg/b.json", "v2", map[string][]uint64{"cat": {3, 1}}),
		"/seg/a.json": seg("/seg/a.json", "v1", map[string][]uint64{"cat": {1, 2}, "dog": {7}}),
	})
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	h := New(Deps{
		Store:       s,
		Messages:    staticMessages{m: &configwatch.Messages{Messages: map[string]string{"greeting": "hello"}}},
		Reloader:    reloader,
		Metrics:     m,
		SegmentsDir: "/seg",
	})
	mux := http.NewServeMux()
	h.Register(mux)
	return mux, s, m
}

func do(t *testing.T, mux *http.ServeMux, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func TestSearch(t *testing.T) {
	mux, _, m := newServer(t, &fakeReloader{})

	rec, body := do(t, mux, http.MethodGet, "/search/cat")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{1.0, 2.0, 3.0, 1.0}, body["ids"], "segments are concatenated in lexical id order")
	assert.Equal(t, 4.0, body["count"])
	assert.Equal(t, false, body["cache_hit"])

	_, body = do(t, mux, http.MethodGet, "/search/cat?distinct=true")
	assert.Equal(t, []any{1.0, 2.0, 3.0}, body["ids"])

	rec, body = do(t, mux, http.MethodGet, "/search/zebra")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, body["ids"])

	rec, _ = do(t, mux, http.MethodGet, "/search/cat?distinct=maybe")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SearchQueriesTotal.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchQueriesTotal.WithLabelValues("zero_result")))
}

func TestSearchSeesPublishedSegments(t *testing.T) {
	mux, s, _ := newServer(t, &fakeReloader{})
	txn := s.Update()
	txn.Insert(seg("/seg/c.json", "v3", map[string][]uint64{"dog": {8}}))
	txn.Commit()

	_, body := do(t, mux, http.MethodGet, "/search/dog")
	assert.Equal(t, []any{7.0, 8.0}, body["ids"])
	assert.Equal(t, float64(s.Generation()), body["generation"])
	assert.Equal(t, s.Epoch(), body["epoch"])
}

func TestSegments(t *testing.T) {
	mux, _, _ := newServer(t, &fakeReloader{})

	rec, body := do(t, mux, http.MethodGet, "/segments")
	assert.Equal(t, http.StatusOK, rec.Code)
	segs := body["segments"].([]any)
	require.Len(t, segs, 2)
	assert.Equal(t, "/seg/a.json", segs[0].(map[string]any)["id"])
	assert.Equal(t, 2.0, segs[0].(map[string]any)["terms"])
	assert.Equal(t, "v2", segs[1].(map[string]any)["version"])

	for _, target := range []string{"/segment/a.json", "/segment/seg/a.json"} {
		rec, body = do(t, mux, http.MethodGet, target)
		assert.Equal(t, http.StatusOK, rec.Code, target)
		assert.Equal(t, "v1", body["version"])
	}

	rec, _ = do(t, mux, http.MethodGet, "/segment/missing.json")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMessages(t *testing.T) {
	mux, _, _ := newServer(t, &fakeReloader{})

	_, body := do(t, mux, http.MethodGet, "/messages")
	assert.Equal(t, map[string]any{"greeting": "hello"}, body["messages"])
	assert.Equal(t, 3.0, body["version"])

	rec, body := do(t, mux, http.MethodGet, "/message/greeting")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", body["message"])

	rec, _ = do(t, mux, http.MethodGet, "/message/farewell")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReload(t *testing.T) {
	r := &fakeReloader{}
	mux, _, _ := newServer(t, r)

	rec, body := do(t, mux, http.MethodPost, "/admin/reload")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "reloaded", body["status"])
	assert.Equal(t, 1, r.calls)

	r.err = apperrors.New(apperrors.ErrUnavailable, http.StatusServiceUnavailable, "reload loop busy")
	rec, _ = do(t, mux, http.MethodPost, "/admin/reload")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/reload", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCacheDisabled(t *testing.T) {
	mux, _, _ := newServer(t, &fakeReloader{})

	_, body := do(t, mux, http.MethodGet, "/api/v1/cache/stats")
	assert.Equal(t, "disabled", body["status"])

	rec, _ := do(t, mux, http.MethodPost, "/api/v1/cache/invalidate")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSearchHoldsSnapshotForRequest(t *testing.T) {
	var reclaimed []uint64
	s := store.New(map[string]*segment.Segment{
		"/seg/a.json": seg("/seg/a.json", "v1", map[string][]uint64{"cat": {1}}),
	}, store.WithReclaimHook(func(gen uint64) { reclaimed = append(reclaimed, gen) }))
	h := New(Deps{Store: s, Messages: staticMessages{m: &configwatch.Messages{}}, Reloader: &fakeReloader{}})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/search/cat", nil)
	req.SetPathValue("term", "cat")
	h.Search(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	s.ReplaceAll(map[string]*segment.Segment{})
	assert.Eventually(t, func() bool { return len(reclaimed) == 1 }, time.Second, 5*time.Millisecond,
		"the request released its snapshot so the old generation is reclaimed")
}
