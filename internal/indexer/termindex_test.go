package indexer

import (
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTermIndexConcurrentFirstCreators(t *testing.T) {
	ix := NewTermIndex(4)
	var created sync.WaitGroup
	var mu sync.Mutex
	creations := 0
	ix.onCreate = func() {
		mu.Lock()
		creations++
		mu.Unlock()
	}

	const writers = 16
	start := make(chan struct{})
	for i := 0; i < writers; i++ {
		created.Add(1)
		go func(id uint64) {
			defer created.Done()
			<-start
			ix.Add("cat", id)
		}(uint64(i))
	}
	close(start)
	created.Wait()

	assert.Equal(t, 1, ix.Len())
	assert.Equal(t, 1, creations, "exactly one list is registered for the term")
	got := ix.Lookup("cat")
	require.Len(t, got, writers)
	slices.Sort(got)
	for i, id := range got {
		assert.Equal(t, uint64(i), id)
	}
}

func TestTermIndexWritersByTerms(t *testing.T) {
	const (
		writers = 8
		terms   = 200
	)
	ix := NewTermIndex(16)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(doc uint64) {
			defer wg.Done()
			batch := make([]string, 0, terms)
			for i := 0; i < terms; i++ {
				batch = append(batch, fmt.Sprintf("term-%d", i))
			}
			ix.AddDocument(doc, batch)
		}(uint64(w))
	}
	wg.Wait()

	stats := ix.Stats()
	assert.Equal(t, terms, stats.Terms)
	assert.Equal(t, int64(writers*terms), stats.Postings)
	assert.Equal(t, int64(writers), stats.Documents)
	assert.GreaterOrEqual(t, stats.Capacity, terms)

	snap := ix.Snapshot()
	require.Len(t, snap, terms)
	for term, ids := range snap {
		assert.Len(t, ids, writers, term)
	}
}

func TestTermIndexSingleWriterOrder(t *testing.T) {
	ix := NewTermIndex(0)
	for i := uint64(1); i <= 100; i++ {
		ix.Add("dog", i)
	}
	got := ix.Lookup("dog")
	assert.True(t, slices.IsSorted(got), "a single writer's appends keep their order")
	assert.Len(t, got, 100)

	assert.Equal(t, []uint64{}, ix.Lookup("missing"))
	_, ok := ix.Postings("missing")
	assert.False(t, ok)
}

func TestTermIndexReaderSeesLaterAppends(t *testing.T) {
	ix := NewTermIndex(0)
	ix.Add("cat", 1)
	r, ok := ix.Postings("cat")
	require.True(t, ok)
	before := r.Snapshot()

	ix.Add("cat", 2)
	assert.Equal(t, []uint64{1}, before, "an earlier snapshot is unaffected")
	assert.Equal(t, []uint64{1, 2}, r.Snapshot())
}

func BenchmarkTermIndexAdd(b *testing.B) {
	ix := NewTermIndex(1024)
	keys := make([]string, 1024)
	for i := range keys {
		keys[i] = fmt.Sprintf("term-%d", i)
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		var i uint64
		for pb.Next() {
			ix.Add(keys[i%uint64(len(keys))], i)
			i++
		}
	})
}
