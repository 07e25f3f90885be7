// Package postings implements an append-only posting list exposed through two
// disjoint capabilities over one growth-only buffer: a Writer that appends and
// a Reader that iterates snapshots without locking.
//
// A Writer is not safe for concurrent use; callers serialize appends (the
// indexer holds one mutex per list). Readers may be shared freely and used
// concurrently with appends. An iteration observes every entry published
// before it started and none published after.
package postings

import (
	"iter"
	"sync/atomic"
)

const (
	chunkBits = 10
	chunkSize = 1 << chunkBits
	chunkMask = chunkSize - 1
)

type chunk[T any] struct {
	items [chunkSize]T
}

// buffer is the shared backing store. Chunks never move once allocated; only
// the directory slice referencing them is replaced on growth.
type buffer[T any] struct {
	chunks atomic.Pointer[[]*chunk[T]]
	length atomic.Int64
}

// Writer is the owning, append-only view of a posting list.
type Writer[T any] struct {
	buf *buffer[T]
}

// Reader is the shareable, read-only view of a posting list.
type Reader[T any] struct {
	buf *buffer[T]
}

// New creates an empty posting list and returns its two capabilities.
func New[T any]() (*Writer[T], *Reader[T]) {
	buf := &buffer[T]{}
	chunks := make([]*chunk[T], 0, 1)
	buf.chunks.Store(&chunks)
	return &Writer[T]{buf: buf}, &Reader[T]{buf: buf}
}

// Append adds v to the end of the list. The entry becomes visible to readers
// atomically once the new length is stored.
func (w *Writer[T]) Append(v T) {
	n := w.buf.length.Load()
	chunkIdx := int(n >> chunkBits)

	chunks := *w.buf.chunks.Load()
	if chunkIdx >= len(chunks) {
		grown := make([]*chunk[T], len(chunks)+1)
		copy(grown, chunks)
		grown[len(chunks)] = &chunk[T]{}
		w.buf.chunks.Store(&grown)
		chunks = grown
	}
	chunks[chunkIdx].items[n&chunkMask] = v
	w.buf.length.Store(n + 1)
}

// Len returns the number of appended entries.
func (w *Writer[T]) Len() int {
	return int(w.buf.length.Load())
}

// Len returns the number of entries currently published.
func (r *Reader[T]) Len() int {
	return int(r.buf.length.Load())
}

// All returns a lazy sequence over the entries published when iteration
// begins. The sequence may be ranged over any number of times; each run
// takes a fresh snapshot.
func (r *Reader[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		n, chunks := r.pin()
		for i := int64(0); i < n; i++ {
			if !yield(chunks[i>>chunkBits].items[i&chunkMask]) {
				return
			}
		}
	}
}

// Iter returns a cursor over the entries published at the time of the call.
func (r *Reader[T]) Iter() *Iterator[T] {
	n, chunks := r.pin()
	return &Iterator[T]{chunks: chunks, end: n}
}

// Snapshot copies the currently published entries into a new slice.
func (r *Reader[T]) Snapshot() []T {
	n, chunks := r.pin()
	out := make([]T, 0, n)
	for i := int64(0); i < n; i++ {
		out = append(out, chunks[i>>chunkBits].items[i&chunkMask])
	}
	return out
}

// pin captures a consistent prefix. The length is loaded before the chunk
// directory, and Append publishes the directory before the length, so the
// directory always covers the pinned prefix.
func (r *Reader[T]) pin() (int64, []*chunk[T]) {
	n := r.buf.length.Load()
	return n, *r.buf.chunks.Load()
}

// Iterator walks a fixed prefix of a posting list.
type Iterator[T any] struct {
	chunks []*chunk[T]
	pos    int64
	end    int64
}

// Next returns the next entry, or false once the pinned prefix is exhausted.
func (it *Iterator[T]) Next() (T, bool) {
	if it.pos >= it.end {
		var zero T
		return zero, false
	}
	v := it.chunks[it.pos>>chunkBits].items[it.pos&chunkMask]
	it.pos++
	return v, true
}

// Remaining reports how many entries the iterator has yet to return.
func (it *Iterator[T]) Remaining() int {
	return int(it.end - it.pos)
}
