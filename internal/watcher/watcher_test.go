package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	done   chan struct{}
}

func record(n Notifier) *recorder {
	r := &recorder{done: make(chan struct{})}
	go func() {
		defer close(r.done)
		for ev := range n.Events() {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		}
	}()
	return r
}

func (r *recorder) seen(kind Kind, path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Kind == kind && ev.Path == path {
			return true
		}
	}
	return false
}

func TestConvertEvent(t *testing.T) {
	tests := []struct {
		op   fsnotify.Op
		want Kind
	}{
		{fsnotify.Create, KindCreate},
		{fsnotify.Write, KindModify},
		{fsnotify.Remove, KindRemove},
		{fsnotify.Rename, KindRemove},
		{fsnotify.Chmod, KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			ev := convertEvent(fsnotify.Event{Name: "/data//a.json", Op: tt.op})
			assert.Equal(t, tt.want, ev.Kind)
			assert.Equal(t, "/data/a.json", ev.Path)
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "create", KindCreate.String())
	assert.Equal(t, "modify", KindModify.String())
	assert.Equal(t, "remove", KindRemove.String())
	assert.Equal(t, "other", KindOther.String())
}

func TestFSNotifyDeliversChanges(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFSNotify(Config{Paths: []string{dir}, QueueCapacity: 64})
	require.NoError(t, err)
	rec := record(w)

	path := filepath.Join(dir, "a.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	assert.Eventually(t, func() bool { return rec.seen(KindCreate, path) }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))
	assert.Eventually(t, func() bool { return rec.seen(KindRemove, path) }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	<-rec.done
}

func TestFSNotifyMissingDirectory(t *testing.T) {
	_, err := NewFSNotify(Config{Paths: []string{filepath.Join(t.TempDir(), "missing")}})
	assert.Error(t, err)
}

func TestPollerDetectsChanges(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "existing.json")
	require.NoError(t, os.WriteFile(existing, []byte("{}"), 0o644))

	p, err := NewPoller(Config{Paths: []string{dir}, PollInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	rec := record(p)

	created := filepath.Join(dir, "new.json")
	require.NoError(t, os.WriteFile(created, []byte("{}"), 0o644))
	assert.Eventually(t, func() bool { return rec.seen(KindCreate, created) }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(existing, []byte(`{"data":{}}`), 0o644))
	assert.Eventually(t, func() bool { return rec.seen(KindModify, existing) }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(created))
	assert.Eventually(t, func() bool { return rec.seen(KindRemove, created) }, 5*time.Second, 10*time.Millisecond)

	assert.False(t, rec.seen(KindCreate, existing), "files present at start are not reported")

	require.NoError(t, p.Close())
	<-rec.done
}

func TestPollerMissingDirectory(t *testing.T) {
	_, err := NewPoller(Config{Paths: []string{filepath.Join(t.TempDir(), "missing")}})
	assert.Error(t, err)
}
