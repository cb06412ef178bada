package hmap

import (
	"encoding/json"
	"math/rand/v2"
)

// ChainedMapOf is a hash table with external chaining. Each bucket
// heads a singly-linked chain of the entries hashing onto it; new
// entries are linked at the chain head, so chained lookups favor
// recently inserted keys. Iteration order is bucket order and carries
// no relation to insertion order; use LinkedMapOf when order matters.
//
// Capacity is always a power of two in [1, MaxTableCapacity]. With
// auto-resize enabled (the default) the table doubles when the entry
// count reaches capacity times the max load factor; a failed
// auto-resize is benign and the map keeps working at its current
// capacity. The table never shrinks.
//
// A ChainedMapOf is not safe for concurrent use.
type ChainedMapOf[K comparable, V any] struct {
	buckets       []int
	pool          entryPool[chainedEntryOf[K, V]]
	keyHash       HashFunc[K]
	keyEqual      EqualFunc[K]
	keyFinal      func(K)
	valFinal      func(V)
	alloc         Allocator
	seed          uintptr
	size          int
	resizeAt      int
	maxLoadFactor float64
	autoResize    bool
	totalGrowths  int
}

type chainedEntryOf[K comparable, V any] struct {
	key  K
	val  V
	hash uintptr
	next int // chain link, nilIdx terminated
}

// NewChainedMapOf creates a ChainedMapOf using the default hash and
// equality functions for K.
//
// Construction fails only when a custom Allocator refuses the initial
// bucket array.
func NewChainedMapOf[K comparable, V any](
	options ...func(*MapConfig),
) (*ChainedMapOf[K, V], error) {
	return NewChainedMapOfWithHasher[K, V](nil, nil, options...)
}

// NewChainedMapOfWithHasher creates a ChainedMapOf with custom hash
// and equality functions.
//
// Parameters:
//   - keyHash: nil uses the built-in hasher
//   - keyEqual: nil uses ==; a non-nil keyEqual must agree with
//     keyHash (equal keys hash equal)
func NewChainedMapOfWithHasher[K comparable, V any](
	keyHash HashFunc[K],
	keyEqual EqualFunc[K],
	options ...func(*MapConfig),
) (*ChainedMapOf[K, V], error) {
	c := newMapConfig()
	for _, o := range options {
		o(c)
	}

	m := &ChainedMapOf[K, V]{
		alloc:         c.allocator,
		seed:          uintptr(rand.Uint64()),
		maxLoadFactor: clampLoadFactor(c.maxLoadFactor),
		autoResize:    !c.noAutoResize,
		keyFinal:      finalizerOf[K](c.keyFinalizer, "key"),
		valFinal:      finalizerOf[V](c.valFinalizer, "value"),
	}
	m.keyHash, m.keyEqual = defaultHasher[K]()
	if keyHash != nil {
		m.keyHash = keyHash
	}
	if keyEqual != nil {
		m.keyEqual = keyEqual
	}
	m.pool.init(m.alloc)

	if err := m.grow(c.sizeHint); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ChainedMapOf[K, V]) bucketOf(hash uintptr) int {
	return int(hash & uintptr(len(m.buckets)-1))
}

// findEntry scans the chain for hash, comparing the cached hash
// before invoking the equality function.
func (m *ChainedMapOf[K, V]) findEntry(hash uintptr, key K) int {
	for idx := m.buckets[m.bucketOf(hash)]; idx != nilIdx; {
		e := m.pool.at(idx)
		if e.hash == hash && m.keyEqual(e.key, key) {
			return idx
		}
		idx = e.next
	}
	return nilIdx
}

// Store inserts key with value, or replaces the value of an existing
// key in place. A replace invokes the value finalizer on the old
// value and never changes Size or chain position.
//
// Returns ErrAllocFailed when the entry pool cannot grow; the map is
// left unchanged in that case.
func (m *ChainedMapOf[K, V]) Store(key K, value V) error {
	hash := m.keyHash(key, m.seed)

	if idx := m.findEntry(hash, key); idx != nilIdx {
		e := m.pool.at(idx)
		if m.valFinal != nil {
			m.valFinal(e.val)
		}
		e.val = value
		return nil
	}

	if m.autoResize && m.size >= m.resizeAt {
		// auto resize failures are benign.
		_ = m.grow(2 * len(m.buckets))
	}

	idx, err := m.pool.get()
	if err != nil {
		return err
	}
	e := m.pool.at(idx)
	e.key, e.val, e.hash = key, value, hash

	b := m.bucketOf(hash)
	e.next = m.buckets[b]
	m.buckets[b] = idx
	m.size++
	return nil
}

// Load returns the value stored for key. It has no side effects.
func (m *ChainedMapOf[K, V]) Load(key K) (V, bool) {
	if idx := m.findEntry(m.keyHash(key, m.seed), key); idx != nilIdx {
		return m.pool.at(idx).val, true
	}
	var zero V
	return zero, false
}

// Delete removes key, running the key and value finalizers, and
// reports whether the key was present. The table never shrinks on
// deletion.
func (m *ChainedMapOf[K, V]) Delete(key K) bool {
	hash := m.keyHash(key, m.seed)
	b := m.bucketOf(hash)

	prev := nilIdx
	for idx := m.buckets[b]; idx != nilIdx; {
		e := m.pool.at(idx)
		if e.hash == hash && m.keyEqual(e.key, key) {
			if prev == nilIdx {
				m.buckets[b] = e.next
			} else {
				m.pool.at(prev).next = e.next
			}
			m.finalize(e)
			m.pool.put(idx)
			m.size--
			return true
		}
		prev, idx = idx, e.next
	}
	return false
}

func (m *ChainedMapOf[K, V]) finalize(e *chainedEntryOf[K, V]) {
	if m.keyFinal != nil {
		m.keyFinal(e.key)
	}
	if m.valFinal != nil {
		m.valFinal(e.val)
	}
}

// Clear removes every entry, running finalizers, and retains the
// current capacity.
func (m *ChainedMapOf[K, V]) Clear() {
	for b := range m.buckets {
		for idx := m.buckets[b]; idx != nilIdx; {
			e := m.pool.at(idx)
			next := e.next
			m.finalize(e)
			m.pool.put(idx)
			idx = next
		}
		m.buckets[b] = nilIdx
	}
	m.size = 0
}

// Free clears the map and returns the bucket array and entry slabs to
// the Allocator. The map must not be used afterwards.
func (m *ChainedMapOf[K, V]) Free() {
	m.Clear()
	m.alloc.Release(uintptr(len(m.buckets)) * bucketSlotSize)
	m.buckets = nil
	m.pool.release()
}

// Size returns the number of entries in the map.
func (m *ChainedMapOf[K, V]) Size() int {
	return m.size
}

// IsZero reports whether the map holds no entries.
func (m *ChainedMapOf[K, V]) IsZero() bool {
	return m.size == 0
}

// Capacity returns the bucket array length, always a power of two.
func (m *ChainedMapOf[K, V]) Capacity() int {
	return len(m.buckets)
}

// LoadFactor returns Size divided by Capacity.
func (m *ChainedMapOf[K, V]) LoadFactor() float64 {
	return float64(m.size) / float64(len(m.buckets))
}

// Grow resizes the bucket array to at least capacity, after clamping
// to a power of two in [1, MaxTableCapacity]. A clamped target at or
// below the current capacity is a successful no-op. On
// ErrAllocFailed the table is left in its pre-resize state.
//
// Entries are relinked into the new chains; no entry is reallocated,
// so values and their addresses survive a Grow.
func (m *ChainedMapOf[K, V]) Grow(capacity int) error {
	return m.grow(capacity)
}

func (m *ChainedMapOf[K, V]) grow(capacity int) error {
	capacity = clampCapacity(capacity)
	if capacity <= len(m.buckets) {
		return nil
	}

	newBuckets, err := newBucketIndex(m.alloc, capacity)
	if err != nil {
		return err
	}

	mask := uintptr(capacity - 1)
	for b := range m.buckets {
		for idx := m.buckets[b]; idx != nilIdx; {
			e := m.pool.at(idx)
			next := e.next
			nb := int(e.hash & mask)
			e.next = newBuckets[nb]
			newBuckets[nb] = idx
			idx = next
		}
	}

	m.alloc.Release(uintptr(len(m.buckets)) * bucketSlotSize)
	m.buckets = newBuckets
	m.resizeAt = resizeThreshold(capacity, m.maxLoadFactor)
	m.totalGrowths++
	return nil
}

// Apply invokes fn for each entry in bucket order and returns the
// number of entries visited. Iteration stops early, counting the
// entry it stopped on, when fn returns false. fn must not mutate the
// map.
func (m *ChainedMapOf[K, V]) Apply(fn func(key K, value V) bool) int {
	visited := 0
	for b := range m.buckets {
		for idx := m.buckets[b]; idx != nilIdx; {
			e := m.pool.at(idx)
			visited++
			if !fn(e.key, e.val) {
				return visited
			}
			idx = e.next
		}
	}
	return visited
}

// Range iterates over all entries in bucket order. yield must not
// mutate the map.
func (m *ChainedMapOf[K, V]) Range(yield func(key K, value V) bool) {
	for b := range m.buckets {
		for idx := m.buckets[b]; idx != nilIdx; {
			e := m.pool.at(idx)
			if !yield(e.key, e.val) {
				return
			}
			idx = e.next
		}
	}
}

// All is the iterator form of Range.
func (m *ChainedMapOf[K, V]) All() func(yield func(K, V) bool) {
	return m.Range
}

// Keys is the iterator form for iterating over all keys.
func (m *ChainedMapOf[K, V]) Keys() func(yield func(K) bool) {
	return func(yield func(K) bool) {
		m.Range(func(key K, _ V) bool {
			return yield(key)
		})
	}
}

// Values is the iterator form for iterating over all values.
func (m *ChainedMapOf[K, V]) Values() func(yield func(V) bool) {
	return func(yield func(V) bool) {
		m.Range(func(_ K, value V) bool {
			return yield(value)
		})
	}
}

// ToMap collects all entries into a map[K]V.
func (m *ChainedMapOf[K, V]) ToMap() map[K]V {
	a := make(map[K]V, m.size)
	m.Range(func(key K, value V) bool {
		a[key] = value
		return true
	})
	return a
}

// Stats returns a snapshot of the table.
func (m *ChainedMapOf[K, V]) Stats() MapStats {
	return MapStats{
		Capacity:     len(m.buckets),
		Size:         m.size,
		LoadFactor:   m.LoadFactor(),
		TotalGrowths: m.totalGrowths,
	}
}

// MarshalJSON encodes the map as a JSON object. Key order is
// unspecified, matching iteration order.
func (m *ChainedMapOf[K, V]) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.ToMap())
}

// UnmarshalJSON decodes a JSON object into the map, storing each
// entry through the normal insert path.
func (m *ChainedMapOf[K, V]) UnmarshalJSON(data []byte) error {
	var a map[K]V
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	for k, v := range a {
		if err := m.Store(k, v); err != nil {
			return err
		}
	}
	return nil
}

// Iter returns a one-shot cursor over the map in bucket order. The
// cursor is invalidated by any mutation of the map.
func (m *ChainedMapOf[K, V]) Iter() *ChainedIter[K, V] {
	return &ChainedIter[K, V]{m: m, idx: nilIdx}
}

// ChainedIter is a forward cursor over a ChainedMapOf. Key and Value
// are valid after a call to Next returned true. Advancement is the
// only mutation; a cursor cannot be restarted.
type ChainedIter[K comparable, V any] struct {
	m      *ChainedMapOf[K, V]
	bucket int
	idx    int
	key    K
	val    V
}

// Next advances to the next entry, reporting whether one exists.
func (it *ChainedIter[K, V]) Next() bool {
	// Continue down the current chain first.
	if it.idx != nilIdx {
		it.idx = it.m.pool.at(it.idx).next
		if it.idx == nilIdx {
			it.bucket++
		}
	}
	for it.idx == nilIdx {
		if it.bucket >= len(it.m.buckets) {
			return false
		}
		it.idx = it.m.buckets[it.bucket]
		if it.idx == nilIdx {
			it.bucket++
		}
	}
	e := it.m.pool.at(it.idx)
	it.key, it.val = e.key, e.val
	return true
}

// Key returns the key at the cursor.
func (it *ChainedIter[K, V]) Key() K { return it.key }

// Value returns the value at the cursor.
func (it *ChainedIter[K, V]) Value() V { return it.val }
