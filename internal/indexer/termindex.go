package indexer

import (
	"sync"
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/hotswap-index/internal/postings"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/internal/termdir"
)

// LockedWriter serializes appends to one posting list.
type LockedWriter struct {
	mu sync.Mutex
	w  *postings.Writer[uint64]
}

// Append adds docID to the end of the list.
func (lw *LockedWriter) Append(docID uint64) {
	lw.mu.Lock()
	lw.w.Append(docID)
	lw.mu.Unlock()
}

// Capabilities is the pair registered for a term: the one writer and the
// shareable reader over the same list.
type Capabilities struct {
	Writer *LockedWriter
	Reader *postings.Reader[uint64]
}

func newCapabilities() *Capabilities {
	w, r := postings.New[uint64]()
	return &Capabilities{Writer: &LockedWriter{w: w}, Reader: r}
}

// Stats summarizes a TermIndex.
type Stats struct {
	Terms     int   `json:"terms"`
	Postings  int64 `json:"postings"`
	Documents int64 `json:"documents"`
	Capacity  int   `json:"capacity"`
	// CapacityChanges counts directory growths noticed by writers. It can
	// miss or merge growths and is only a rough indicator.
	CapacityChanges int64 `json:"capacity_changes"`
}

// TermIndex is an in-memory inverted index that many goroutines can write
// and read at once. Terms map to posting lists through a lock-free
// directory; each list has its own append lock.
type TermIndex struct {
	dir             *termdir.Directory[string, *Capabilities]
	postings        atomic.Int64
	documents       atomic.Int64
	capacityChanges atomic.Int64
	onCreate        func()
}

// NewTermIndex creates an index sized for roughly capacity terms.
func NewTermIndex(capacity int) *TermIndex {
	return &TermIndex{
		dir: termdir.New[string, *Capabilities](capacity, termdir.StringHash),
	}
}

// Add appends docID to term's posting list, creating the list on first use.
// Concurrent first writers of a term agree on a single list.
func (ix *TermIndex) Add(term string, docID uint64) {
	capBefore := ix.dir.Capacity()
	caps, ok := ix.dir.Get(term)
	if !ok {
		var loaded bool
		caps, loaded = ix.dir.GetOrInsert(term, newCapabilities())
		if !loaded && ix.onCreate != nil {
			ix.onCreate()
		}
	}
	caps.Writer.Append(docID)
	ix.postings.Add(1)
	if ix.dir.Capacity() > capBefore {
		ix.capacityChanges.Add(1)
	}
}

// AddDocument appends docID to each term's list in order.
func (ix *TermIndex) AddDocument(docID uint64, terms []string) {
	for _, term := range terms {
		ix.Add(term, docID)
	}
	ix.documents.Add(1)
}

// Postings returns the reader for term.
func (ix *TermIndex) Postings(term string) (*postings.Reader[uint64], bool) {
	caps, ok := ix.dir.Get(term)
	if !ok {
		return nil, false
	}
	return caps.Reader, true
}

// Lookup returns a copy of term's postings as published so far, or an empty
// slice.
func (ix *TermIndex) Lookup(term string) []uint64 {
	r, ok := ix.Postings(term)
	if !ok {
		return []uint64{}
	}
	return r.Snapshot()
}

// Snapshot copies every list. Appends racing the copy may or may not be
// included, but each list is a consistent prefix.
func (ix *TermIndex) Snapshot() map[string][]uint64 {
	out := make(map[string][]uint64, ix.dir.Len())
	ix.dir.Range(func(term string, caps *Capabilities) bool {
		out[term] = caps.Reader.Snapshot()
		return true
	})
	return out
}

// Len returns the number of terms.
func (ix *TermIndex) Len() int {
	return ix.dir.Len()
}

// Stats returns current counters.
func (ix *TermIndex) Stats() Stats {
	return Stats{
		Terms:           ix.dir.Len(),
		Postings:        ix.postings.Load(),
		Documents:       ix.documents.Load(),
		Capacity:        ix.dir.Capacity(),
		CapacityChanges: ix.capacityChanges.Load(),
	}
}
