// Package store holds the set of loaded segments behind an atomically
// swapped, reference-counted snapshot.
//
// Readers pin the current snapshot with Load and unpin it with Release; they
// never block and never observe a partially applied update. Mutators either
// take a scoped Txn from Update or replace the whole mapping with ReplaceAll.
// Both build a new snapshot off to the side and publish it with one atomic
// store. A superseded snapshot is reclaimed once the store and every reader
// that pinned it have let go.
package store

import (
	"iter"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/hotswap-index/internal/segment"
)

// PublishInfo describes one published change.
type PublishInfo struct {
	Generation uint64
	Segments   int
	Added      []string
	Removed    []string
	Replaced   bool
}

// Option configures a Store.
type Option func(*Store)

// WithPublishHook registers fn to run after every publish, on the mutator's
// goroutine.
func WithPublishHook(fn func(PublishInfo)) Option {
	return func(s *Store) { s.onPublish = append(s.onPublish, fn) }
}

// WithReclaimHook registers fn to run when a superseded snapshot is freed, on
// the goroutine that dropped the last reference.
func WithReclaimHook(fn func(generation uint64)) Option {
	return func(s *Store) { s.onReclaim = append(s.onReclaim, fn) }
}

// WithLogger overrides the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Store maps segment IDs to segments.
type Store struct {
	current    atomic.Pointer[Snapshot]
	mu         sync.Mutex
	generation atomic.Uint64
	epoch      string
	onPublish  []func(PublishInfo)
	onReclaim  []func(uint64)
	logger     *slog.Logger
}

// New creates a Store whose first snapshot holds initial. The map is copied.
func New(initial map[string]*segment.Segment, opts ...Option) *Store {
	s := &Store{
		epoch:  uuid.NewString(),
		logger: slog.Default().With("component", "segment-store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(s.newSnapshot(maps.Clone(initial)))
	return s
}

// Load pins and returns the current snapshot. The caller must call Release
// exactly once when done with it.
func (s *Store) Load() *Snapshot {
	for {
		snap := s.current.Load()
		if snap.tryAcquire() {
			return snap
		}
		// snap was superseded and freed between the load and the pin; the
		// next load sees its replacement.
	}
}

// Generation returns the generation of the current snapshot. Generations
// increase by one per publish.
func (s *Store) Generation() uint64 {
	return s.current.Load().generation
}

// Epoch identifies this Store instance. Generations are only comparable
// between snapshots that share an epoch.
func (s *Store) Epoch() string {
	return s.epoch
}

// Len returns the number of segments in the current snapshot.
func (s *Store) Len() int {
	snap := s.Load()
	defer snap.Release()
	return snap.Len()
}

// LookupTerm aggregates term's postings over the current snapshot.
func (s *Store) LookupTerm(term string) []uint64 {
	snap := s.Load()
	defer snap.Release()
	return snap.Lookup(term)
}

// Update begins a scoped mutation. Mutators are serialized with each other;
// readers are unaffected. The handle must be finished with Commit or Discard.
func (s *Store) Update() *Txn {
	s.mu.Lock()
	base := s.current.Load()
	return &Txn{
		store: s,
		base:  base,
		next:  maps.Clone(base.segments),
	}
}

// ReplaceAll substitutes the entire mapping in one publish.
func (s *Store) ReplaceAll(m map[string]*segment.Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := s.current.Load()
	next := maps.Clone(m)
	if next == nil {
		next = make(map[string]*segment.Segment)
	}
	added, removed := diff(base.segments, next)
	s.publish(next, added, removed, true)
}

// publish installs a snapshot built from m. Callers hold s.mu.
func (s *Store) publish(m map[string]*segment.Segment, added, removed []string, replaced bool) {
	snap := s.newSnapshot(m)
	old := s.current.Swap(snap)
	old.Release()

	info := PublishInfo{
		Generation: snap.generation,
		Segments:   len(snap.ids),
		Added:      added,
		Removed:    removed,
		Replaced:   replaced,
	}
	s.logger.Debug("snapshot published",
		"generation", info.Generation,
		"segments", info.Segments,
		"added", len(added),
		"removed", len(removed),
		"replaced", replaced,
	)
	for _, fn := range s.onPublish {
		fn(info)
	}
}

func (s *Store) newSnapshot(m map[string]*segment.Segment) *Snapshot {
	if m == nil {
		m = make(map[string]*segment.Segment)
	}
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	snap := &Snapshot{
		segments:   m,
		ids:        ids,
		generation: s.generation.Add(1),
		epoch:      s.epoch,
		store:      s,
	}
	snap.refs.Store(1)
	return snap
}

func (s *Store) reclaim(snap *Snapshot) {
	generation := snap.generation
	snap.segments = nil
	snap.ids = nil
	for _, fn := range s.onReclaim {
		fn(generation)
	}
}

func diff(before, after map[string]*segment.Segment) (added, removed []string) {
	for id, seg := range after {
		if prev, ok := before[id]; !ok || prev != seg {
			added = append(added, id)
		}
	}
	for id := range before {
		if _, ok := after[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

// Txn is a scoped mutation handle returned by Store.Update. It works on a
// private copy of the mapping that becomes visible only on Commit.
type Txn struct {
	store   *Store
	base    *Snapshot
	next    map[string]*segment.Segment
	added   map[string]struct{}
	removed map[string]struct{}
	done    bool
}

// Get returns a segment as seen by this transaction.
func (t *Txn) Get(id string) (*segment.Segment, bool) {
	seg, ok := t.next[id]
	return seg, ok
}

// Insert adds or replaces the segment under its ID.
func (t *Txn) Insert(seg *segment.Segment) {
	t.next[seg.ID] = seg
	if t.added == nil {
		t.added = make(map[string]struct{})
	}
	t.added[seg.ID] = struct{}{}
	delete(t.removed, seg.ID)
}

// Remove deletes id, reporting whether it was present.
func (t *Txn) Remove(id string) bool {
	if _, ok := t.next[id]; !ok {
		return false
	}
	delete(t.next, id)
	delete(t.added, id)
	if _, existed := t.base.segments[id]; existed {
		if t.removed == nil {
			t.removed = make(map[string]struct{})
		}
		t.removed[id] = struct{}{}
	}
	return true
}

// Commit publishes the transaction's changes, if any, and releases the
// handle. Calling Commit or Discard again is a no-op.
func (t *Txn) Commit() {
	if t.done {
		return
	}
	t.done = true
	defer t.store.mu.Unlock()
	if len(t.added) == 0 && len(t.removed) == 0 {
		return
	}
	t.store.publish(t.next, sortedKeys(t.added), sortedKeys(t.removed), false)
}

// Discard drops the transaction's changes and releases the handle.
func (t *Txn) Discard() {
	if t.done {
		return
	}
	t.done = true
	t.store.mu.Unlock()
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	return slices.Sorted(maps.Keys(m))
}

// Snapshot is an immutable view of the store at one generation.
type Snapshot struct {
	refs       atomic.Int64
	segments   map[string]*segment.Segment
	ids        []string
	generation uint64
	epoch      string
	store      *Store
}

func (s *Snapshot) tryAcquire() bool {
	for {
		refs := s.refs.Load()
		if refs <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(refs, refs+1) {
			return true
		}
	}
}

// Release unpins the snapshot. The snapshot must not be used afterwards.
func (s *Snapshot) Release() {
	if s.refs.Add(-1) == 0 {
		s.store.reclaim(s)
	}
}

// Generation identifies the publish that produced this snapshot.
func (s *Snapshot) Generation() uint64 {
	return s.generation
}

// Epoch returns the epoch of the store that produced this snapshot.
func (s *Snapshot) Epoch() string {
	return s.epoch
}

// Len returns the number of segments.
func (s *Snapshot) Len() int {
	return len(s.ids)
}

// Get returns the segment stored under id.
func (s *Snapshot) Get(id string) (*segment.Segment, bool) {
	seg, ok := s.segments[id]
	return seg, ok
}

// IDs returns the segment IDs in lexical order.
func (s *Snapshot) IDs() []string {
	return slices.Clone(s.ids)
}

// All iterates segments in lexical ID order.
func (s *Snapshot) All() iter.Seq2[string, *segment.Segment] {
	return func(yield func(string, *segment.Segment) bool) {
		for _, id := range s.ids {
			if !yield(id, s.segments[id]) {
				return
			}
		}
	}
}

// Lookup concatenates term's postings across segments. Segments are visited
// in lexical ID order and each segment's list keeps its stored order. A term
// with no postings yields an empty, non-nil slice.
func (s *Snapshot) Lookup(term string) []uint64 {
	out := make([]uint64, 0)
	for _, id := range s.ids {
		out = append(out, s.segments[id].Lookup(term)...)
	}
	return out
}
