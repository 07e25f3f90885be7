// Package termdir provides a concurrent map from term keys to heap-allocated
// values, used as the directory of posting-list capabilities while an index
// is being built.
//
// Lookups are wait-free: they load the current table and probe atomic slot
// pointers. Inserts claim an empty slot with a single compare-and-swap, so
// concurrent first inserters of one key converge on a single value. The only
// internal coordination is table growth; inserters share a gate that the
// resizer takes exclusively, while readers never touch it.
package termdir

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	farmhash "github.com/leemcloughlin/gofarmhash"
)

const (
	minCapacity = 8
	// grow once more than loadNum/loadDen of the slots are occupied
	loadNum = 3
	loadDen = 4
)

// HashFunc maps a key to a 64-bit hash.
type HashFunc[K comparable] func(K) uint64

// StringHash hashes string keys with farmhash.
func StringHash(key string) uint64 {
	return farmhash.Hash64([]byte(key))
}

// Uint64Hash hashes integer keys with farmhash over their little-endian bytes.
func Uint64Hash(key uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], key)
	return farmhash.Hash64(b[:])
}

type entry[K comparable, V any] struct {
	key   K
	hash  uint64
	value V
}

type table[K comparable, V any] struct {
	slots []atomic.Pointer[entry[K, V]]
	mask  uint64
	count atomic.Int64
}

func newTable[K comparable, V any](size int) *table[K, V] {
	return &table[K, V]{
		slots: make([]atomic.Pointer[entry[K, V]], size),
		mask:  uint64(size - 1),
	}
}

func (t *table[K, V]) find(key K, h uint64) *entry[K, V] {
	i := h & t.mask
	for probes := 0; probes < len(t.slots); probes++ {
		e := t.slots[i].Load()
		if e == nil {
			return nil
		}
		if e.hash == h && e.key == key {
			return e
		}
		i = (i + 1) & t.mask
	}
	return nil
}

// claim returns the entry retained for key, inserting candidate if the key is
// absent. ok is false when the table has no free slot left on the probe path.
func (t *table[K, V]) claim(candidate *entry[K, V]) (retained *entry[K, V], loaded bool, ok bool) {
	i := candidate.hash & t.mask
	for probes := 0; probes < len(t.slots); probes++ {
		e := t.slots[i].Load()
		if e == nil {
			if t.slots[i].CompareAndSwap(nil, candidate) {
				t.count.Add(1)
				return candidate, false, true
			}
			e = t.slots[i].Load()
		}
		if e.hash == candidate.hash && e.key == candidate.key {
			return e, true, true
		}
		i = (i + 1) & t.mask
	}
	return nil, false, false
}

func (t *table[K, V]) overloaded() bool {
	return t.count.Load()*loadDen > int64(len(t.slots))*loadNum
}

// Directory is a concurrent insert-only map. The zero value is not usable;
// construct one with New.
type Directory[K comparable, V any] struct {
	tab  atomic.Pointer[table[K, V]]
	gate sync.RWMutex
	hash HashFunc[K]
}

// New creates a Directory sized for roughly capacity keys before its first
// growth.
func New[K comparable, V any](capacity int, hash HashFunc[K]) *Directory[K, V] {
	d := &Directory[K, V]{hash: hash}
	d.tab.Store(newTable[K, V](tableSize(capacity)))
	return d
}

func tableSize(capacity int) int {
	want := capacity*loadDen/loadNum + 1
	size := minCapacity
	for size < want {
		size <<= 1
	}
	return size
}

// Contains reports whether key has an entry.
func (d *Directory[K, V]) Contains(key K) bool {
	return d.tab.Load().find(key, d.hash(key)) != nil
}

// Get returns the value stored for key.
func (d *Directory[K, V]) Get(key K) (V, bool) {
	if e := d.tab.Load().find(key, d.hash(key)); e != nil {
		return e.value, true
	}
	var zero V
	return zero, false
}

// GetOrInsert stores value for key unless an entry already exists, and returns
// the value actually retained. loaded is true when an existing entry won.
func (d *Directory[K, V]) GetOrInsert(key K, value V) (actual V, loaded bool) {
	e, loaded := d.insert(key, value)
	return e.value, loaded
}

// InsertIfAbsent stores value for key only if the key is absent, reporting
// whether it did.
func (d *Directory[K, V]) InsertIfAbsent(key K, value V) bool {
	_, loaded := d.insert(key, value)
	return !loaded
}

func (d *Directory[K, V]) insert(key K, value V) (*entry[K, V], bool) {
	candidate := &entry[K, V]{key: key, hash: d.hash(key), value: value}
	for {
		// Fast path for existing keys skips the gate entirely.
		t := d.tab.Load()
		if e := t.find(key, candidate.hash); e != nil {
			return e, true
		}

		d.gate.RLock()
		t = d.tab.Load()
		e, loaded, ok := t.claim(candidate)
		grow := ok && !loaded && t.overloaded()
		d.gate.RUnlock()

		if ok {
			if grow {
				d.grow(t)
			}
			return e, loaded
		}
		d.grow(t)
	}
}

// grow replaces full with a table of twice the size. It is a no-op if another
// goroutine already replaced full.
func (d *Directory[K, V]) grow(full *table[K, V]) {
	d.gate.Lock()
	defer d.gate.Unlock()
	if d.tab.Load() != full {
		return
	}
	next := newTable[K, V](len(full.slots) * 2)
	for i := range full.slots {
		e := full.slots[i].Load()
		if e == nil {
			continue
		}
		j := e.hash & next.mask
		for next.slots[j].Load() != nil {
			j = (j + 1) & next.mask
		}
		next.slots[j].Store(e)
		next.count.Add(1)
	}
	d.tab.Store(next)
}

// Len returns the number of entries.
func (d *Directory[K, V]) Len() int {
	return int(d.tab.Load().count.Load())
}

// Capacity returns the current slot count. It changes as the directory grows
// and is informational only; a read may race a concurrent growth.
func (d *Directory[K, V]) Capacity() int {
	return len(d.tab.Load().slots)
}

// Range calls fn for each entry in the current table until fn returns false.
// Entries inserted during the walk may or may not be visited.
func (d *Directory[K, V]) Range(fn func(K, V) bool) {
	t := d.tab.Load()
	for i := range t.slots {
		e := t.slots[i].Load()
		if e == nil {
			continue
		}
		if !fn(e.key, e.value) {
			return
		}
	}
}
