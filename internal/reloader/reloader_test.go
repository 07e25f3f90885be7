package reloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/hotswap-index/internal/segment"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/internal/store"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/internal/watcher"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/metrics"
)

type fixture struct {
	dir     string
	version string
	store   *store.Store
	r       *Reloader
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, coordinator bool, files map[string]string) *fixture {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	version := filepath.Join(dir, "version")
	require.NoError(t, segment.WriteVersion(version, "v1"))

	res, err := segment.Scan(context.Background(), dir, segment.ScanOptions{Skip: []string{version}})
	require.NoError(t, err)

	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	s := store.New(res.Segments)
	r := New(s, Config{
		Dir:             dir,
		VersionPath:     version,
		CoordinatorMode: coordinator,
		DecodeWorkers:   2,
	}, WithMetrics(m))
	return &fixture{dir: dir, version: version, store: s, r: r, metrics: m}
}

func (f *fixture) path(name string) string {
	return filepath.Join(f.dir, name)
}

func (f *fixture) write(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(f.path(name), []byte(content), 0o644))
}

func (f *fixture) ids() []string {
	snap := f.store.Load()
	defer snap.Release()
	return snap.IDs()
}

func TestCreateLoadsSegmentAfterPlaceholder(t *testing.T) {
	f := newFixture(t, false, map[string]string{"x.json": ""})
	assert.Empty(t, f.ids(), "zero-byte files are skipped at startup")

	f.r.Handle(context.Background(), watcher.Event{Kind: watcher.KindCreate, Path: f.path("x.json")})
	assert.Empty(t, f.ids(), "still empty")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SegmentsSkippedTotal.WithLabelValues("empty")))

	f.write(t, "x.json", `{"data":{"cat":[7]},"version":"v1"}`)
	f.r.Handle(context.Background(), watcher.Event{Kind: watcher.KindCreate, Path: f.path("x.json")})
	assert.Equal(t, []string{f.path("x.json")}, f.ids())
	assert.Equal(t, []uint64{7}, f.store.LookupTerm("cat"))
}

func TestCreateSkipsInvalidAndTempFiles(t *testing.T) {
	f := newFixture(t, false, nil)
	f.write(t, "bad.json", "{")
	f.write(t, ".seg_1.json.tmp", `{"data":{"a":[1]}}`)

	f.r.Handle(context.Background(), watcher.Event{Kind: watcher.KindCreate, Path: f.path("bad.json")})
	f.r.Handle(context.Background(), watcher.Event{Kind: watcher.KindCreate, Path: f.path(".seg_1.json.tmp")})
	f.r.Handle(context.Background(), watcher.Event{Kind: watcher.KindCreate, Path: f.path("gone.json")})
	assert.Empty(t, f.ids())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SegmentsSkippedTotal.WithLabelValues("invalid")))
}

func TestRemove(t *testing.T) {
	f := newFixture(t, false, map[string]string{
		"a.json": `{"data":{"cat":[1]},"version":"v1"}`,
		"b.json": `{"data":{"cat":[2]},"version":"v1"}`,
	})
	require.Len(t, f.ids(), 2)

	f.r.Handle(context.Background(), watcher.Event{Kind: watcher.KindRemove, Path: f.path("a.json")})
	assert.Equal(t, []string{f.path("b.json")}, f.ids())

	gen := f.store.Generation()
	f.r.Handle(context.Background(), watcher.Event{Kind: watcher.KindRemove, Path: f.path("absent.json")})
	assert.Equal(t, []string{f.path("b.json")}, f.ids())
	assert.Equal(t, gen, f.store.Generation(), "removing an absent segment publishes nothing")
}

func TestVersionFileAndUnusedEventsLeaveStoreAlone(t *testing.T) {
	f := newFixture(t, false, map[string]string{"a.json": `{"data":{"cat":[1]},"version":"v1"}`})
	gen := f.store.Generation()

	ctx := context.Background()
	f.r.Handle(ctx, watcher.Event{Kind: watcher.KindCreate, Path: f.version})
	f.r.Handle(ctx, watcher.Event{Kind: watcher.KindRemove, Path: f.version})
	f.r.Handle(ctx, watcher.Event{Kind: watcher.KindModify, Path: f.path("a.json")})
	f.r.Handle(ctx, watcher.Event{Kind: watcher.KindModify, Path: f.version})
	f.r.Handle(ctx, watcher.Event{Kind: watcher.KindOther, Path: f.path("a.json")})

	assert.Equal(t, gen, f.store.Generation())
	assert.Equal(t, []string{f.path("a.json")}, f.ids())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WatcherEventsTotal.WithLabelValues("segments", "other")))
}

func TestCoordinatorModeEndToEnd(t *testing.T) {
	f := newFixture(t, true, map[string]string{
		"a.json": `{"data":{"cat":[1,2]},"version":"v1"}`,
		"b.json": `{"data":{"cat":[3]},"version":"v1"}`,
	})
	ctx := context.Background()
	assert.Equal(t, []uint64{1, 2, 3}, f.store.LookupTerm("cat"))

	require.NoError(t, os.Remove(f.path("a.json")))
	f.r.Handle(ctx, watcher.Event{Kind: watcher.KindRemove, Path: f.path("a.json")})
	f.write(t, "c.json", `{"data":{"cat":[4]},"version":"v2"}`)
	f.r.Handle(ctx, watcher.Event{Kind: watcher.KindCreate, Path: f.path("c.json")})
	assert.Len(t, f.ids(), 2, "per-file events are ignored in coordinator mode")
	assert.Equal(t, []uint64{1, 2, 3}, f.store.LookupTerm("cat"))

	require.NoError(t, segment.WriteVersion(f.version, "v2"))
	f.r.Handle(ctx, watcher.Event{Kind: watcher.KindModify, Path: f.version})

	assert.Equal(t, []string{f.path("b.json"), f.path("c.json")}, f.ids())
	assert.Equal(t, []uint64{3, 4}, f.store.LookupTerm("cat"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReloadsTotal.WithLabelValues("success")))
}

func TestReloadAllKeepsStoreWhenDirectoryUnreadable(t *testing.T) {
	f := newFixture(t, true, map[string]string{"a.json": `{"data":{"cat":[1]},"version":"v1"}`})
	gen := f.store.Generation()
	require.NoError(t, os.RemoveAll(f.dir))

	assert.Error(t, f.r.ReloadAll(context.Background()))
	assert.Equal(t, gen, f.store.Generation())
	assert.Len(t, f.ids(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReloadsTotal.WithLabelValues("failure")))
}

func TestRunAppliesEventsAndReloadRequests(t *testing.T) {
	f := newFixture(t, false, nil)
	events := make(chan watcher.Event, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.r.Run(ctx, events) }()

	f.write(t, "a.json", `{"data":{"cat":[1]},"version":"v1"}`)
	events <- watcher.Event{Kind: watcher.KindCreate, Path: f.path("a.json")}
	assert.Eventually(t, func() bool { return len(f.ids()) == 1 }, 2*time.Second, 5*time.Millisecond)

	f.write(t, "b.json", `{"data":{"cat":[2]},"version":"v1"}`)
	reqCtx, reqCancel := context.WithTimeout(ctx, 2*time.Second)
	defer reqCancel()
	require.NoError(t, f.r.RequestReload(reqCtx))
	assert.Equal(t, []uint64{1, 2}, f.store.LookupTerm("cat"))

	close(events)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the event stream closed")
	}
}

func TestRequestReloadWithoutLoop(t *testing.T) {
	f := newFixture(t, false, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, f.r.RequestReload(ctx))
}
