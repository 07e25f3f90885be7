package termdir

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handle struct {
	owner int
}

func TestGetOrInsert(t *testing.T) {
	d := New[string, *handle](4, StringHash)

	assert.False(t, d.Contains("cat"))
	_, ok := d.Get("cat")
	assert.False(t, ok)

	first := &handle{owner: 1}
	got, loaded := d.GetOrInsert("cat", first)
	assert.False(t, loaded)
	assert.Same(t, first, got)

	got, loaded = d.GetOrInsert("cat", &handle{owner: 2})
	assert.True(t, loaded)
	assert.Same(t, first, got, "existing entry wins")

	assert.False(t, d.InsertIfAbsent("cat", &handle{owner: 3}))
	assert.True(t, d.InsertIfAbsent("dog", &handle{owner: 4}))
	assert.Equal(t, 2, d.Len())
}

func TestGrowthPreservesHandles(t *testing.T) {
	d := New[uint64, *handle](1, Uint64Hash)
	initial := d.Capacity()

	issued := make(map[uint64]*handle)
	for i := uint64(0); i < 5000; i++ {
		h := &handle{owner: int(i)}
		got, loaded := d.GetOrInsert(i, h)
		require.False(t, loaded)
		issued[i] = got
	}

	assert.Greater(t, d.Capacity(), initial)
	assert.Equal(t, 5000, d.Len())
	for k, h := range issued {
		got, ok := d.Get(k)
		require.True(t, ok, "key %d lost after growth", k)
		assert.Same(t, h, got)
	}
}

func TestConcurrentFirstInsertersConverge(t *testing.T) {
	d := New[string, *handle](2, StringHash)
	const goroutines, keys = 16, 300

	winners := make([][]*handle, goroutines)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			<-start
			mine := make([]*handle, keys)
			for k := 0; k < keys; k++ {
				got, _ := d.GetOrInsert(fmt.Sprintf("term-%d", k), &handle{owner: g})
				mine[k] = got
			}
			winners[g] = mine
		}(g)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, keys, d.Len())
	for k := 0; k < keys; k++ {
		want := winners[0][k]
		for g := 1; g < goroutines; g++ {
			assert.Same(t, want, winners[g][k], "goroutine %d disagrees on term-%d", g, k)
		}
	}
}

func TestReadersDuringGrowth(t *testing.T) {
	d := New[uint64, *handle](1, Uint64Hash)
	const total = 20000

	var inserted atomic.Int64
	done := make(chan struct{})
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				n := uint64(inserted.Load())
				for k := uint64(0); k < n; k++ {
					if !d.Contains(k) {
						t.Errorf("published key %d missing", k)
						return
					}
				}
			}
		}()
	}

	for k := uint64(0); k < total; k++ {
		d.InsertIfAbsent(k, &handle{owner: int(k)})
		inserted.Store(int64(k + 1))
	}
	close(done)
	wg.Wait()
	assert.Equal(t, total, d.Len())
}

func TestRange(t *testing.T) {
	d := New[string, int](8, StringHash)
	for i := 0; i < 10; i++ {
		d.InsertIfAbsent(fmt.Sprintf("k%d", i), i)
	}
	seen := map[string]int{}
	d.Range(func(k string, v int) bool {
		seen[k] = v
		return true
	})
	assert.Len(t, seen, 10)

	visited := 0
	d.Range(func(string, int) bool {
		visited++
		return false
	})
	assert.Equal(t, 1, visited)
}

func BenchmarkGetParallel(b *testing.B) {
	d := New[string, int](10000, StringHash)
	keys := make([]string, 10000)
	for i := range keys {
		keys[i] = fmt.Sprintf("term-%d", i)
		d.InsertIfAbsent(keys[i], i)
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			d.Get(keys[i%len(keys)])
			i++
		}
	})
}

func BenchmarkGetOrInsertParallel(b *testing.B) {
	d := New[uint64, int](200, Uint64Hash)
	var next atomic.Uint64
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			k := next.Add(1) % 50000
			d.GetOrInsert(k, int(k))
		}
	})
}
