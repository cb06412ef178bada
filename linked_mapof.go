package hmap

import (
	"bytes"
	"encoding"
	"encoding/json"
	"errors"
	"io"
	"math/rand/v2"
	"reflect"
	"strconv"
)

// LinkedMapOf is a ChainedMapOf that additionally threads all entries
// on a doubly-linked order list, giving iteration a deterministic
// order independent of bucket placement and table resizes.
//
// By default the list reflects insertion order with the newest entry
// at the head. With WithAccessOrder a successful Load also moves the
// entry to the head, which yields most-recently-used-first iteration
// and, combined with WithEvictor, an LRU cache. Storing a new value
// for an existing key never reorders the list, in either mode; only
// Load does.
//
// A LinkedMapOf is not safe for concurrent use.
type LinkedMapOf[K comparable, V any] struct {
	buckets       []int
	pool          entryPool[linkedEntryOf[K, V]]
	keyHash       HashFunc[K]
	keyEqual      EqualFunc[K]
	keyFinal      func(K)
	valFinal      func(V)
	alloc         Allocator
	evictor       func(size int) bool
	seed          uintptr
	size          int
	resizeAt      int
	newest        int // order list head, nilIdx when empty
	oldest        int // order list tail, nilIdx when empty
	maxLoadFactor float64
	autoResize    bool
	accessOrder   bool
	totalGrowths  int
}

type linkedEntryOf[K comparable, V any] struct {
	key   K
	val   V
	hash  uintptr
	next  int // chain link, nilIdx terminated
	newer int // order list link toward the newest end
	older int // order list link toward the oldest end
}

// NewLinkedMapOf creates a LinkedMapOf using the default hash and
// equality functions for K.
//
// Construction fails only when a custom Allocator refuses the initial
// bucket array.
func NewLinkedMapOf[K comparable, V any](
	options ...func(*MapConfig),
) (*LinkedMapOf[K, V], error) {
	return NewLinkedMapOfWithHasher[K, V](nil, nil, options...)
}

// NewLinkedMapOfWithHasher creates a LinkedMapOf with custom hash and
// equality functions.
//
// Parameters:
//   - keyHash: nil uses the built-in hasher
//   - keyEqual: nil uses ==; a non-nil keyEqual must agree with
//     keyHash (equal keys hash equal)
func NewLinkedMapOfWithHasher[K comparable, V any](
	keyHash HashFunc[K],
	keyEqual EqualFunc[K],
	options ...func(*MapConfig),
) (*LinkedMapOf[K, V], error) {
	c := newMapConfig()
	for _, o := range options {
		o(c)
	}

	m := &LinkedMapOf[K, V]{
		alloc:         c.allocator,
		evictor:       c.evictor,
		seed:          uintptr(rand.Uint64()),
		newest:        nilIdx,
		oldest:        nilIdx,
		maxLoadFactor: clampLoadFactor(c.maxLoadFactor),
		autoResize:    !c.noAutoResize,
		accessOrder:   c.accessOrder,
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

func (m *LinkedMapOf[K, V]) bucketOf(hash uintptr) int {
	return int(hash & uintptr(len(m.buckets)-1))
}

func (m *LinkedMapOf[K, V]) findEntry(hash uintptr, key K) int {
	for idx := m.buckets[m.bucketOf(hash)]; idx != nilIdx; {
		e := m.pool.at(idx)
		if e.hash == hash && m.keyEqual(e.key, key) {
			return idx
		}
		idx = e.next
	}
	return nilIdx
}

// pushNewest links idx at the head of the order list.
func (m *LinkedMapOf[K, V]) pushNewest(idx int, e *linkedEntryOf[K, V]) {
	e.newer = nilIdx
	e.older = m.newest
	if m.newest != nilIdx {
		m.pool.at(m.newest).newer = idx
	}
	m.newest = idx
	if m.oldest == nilIdx {
		m.oldest = idx
	}
}

// unlinkOrder removes idx from the order list.
func (m *LinkedMapOf[K, V]) unlinkOrder(e *linkedEntryOf[K, V]) {
	if e.newer != nilIdx {
		m.pool.at(e.newer).older = e.older
	} else {
		m.newest = e.older
	}
	if e.older != nilIdx {
		m.pool.at(e.older).newer = e.newer
	} else {
		m.oldest = e.newer
	}
}

func (m *LinkedMapOf[K, V]) recordAccess(idx int, e *linkedEntryOf[K, V]) {
	if !m.accessOrder || m.newest == idx {
		return
	}
	m.unlinkOrder(e)
	m.pushNewest(idx, e)
}

// Store inserts key with value, or replaces the value of an existing
// key in place. A replace invokes the value finalizer on the old
// value and leaves the order list untouched, even in access-order
// mode.
//
// After a new key is linked the evictor is consulted with the
// post-insert size; if it returns true the oldest entry is removed
// through the normal delete path, at most once per call. The
// auto-resize check runs last, so an insert that triggers eviction
// back to the threshold does not grow the table.
//
// Returns ErrAllocFailed when the entry pool cannot grow; the map is
// left unchanged in that case.
func (m *LinkedMapOf[K, V]) Store(key K, value V) error {
	hash := m.keyHash(key, m.seed)

	if idx := m.findEntry(hash, key); idx != nilIdx {
		// The key already exists, so iteration order is unaffected.
		e := m.pool.at(idx)
		if m.valFinal != nil {
			m.valFinal(e.val)
		}
		e.val = value
		return nil
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
	m.pushNewest(idx, e)
	m.size++

	if m.evictor != nil && m.evictor(m.size) {
		// Evict the oldest entry, exactly once.
		m.Delete(m.pool.at(m.oldest).key)
	}

	if m.autoResize && m.size >= m.resizeAt {
		// auto resize failures are benign.
		_ = m.grow(2 * len(m.buckets))
	}
	return nil
}

// Load returns the value stored for key. In access-order mode a
// successful Load moves the entry to the newest end of the order
// list; otherwise Load has no side effects.
func (m *LinkedMapOf[K, V]) Load(key K) (V, bool) {
	if idx := m.findEntry(m.keyHash(key, m.seed), key); idx != nilIdx {
		e := m.pool.at(idx)
		m.recordAccess(idx, e)
		return e.val, true
	}
	var zero V
	return zero, false
}

// Delete removes key from both the bucket chain and the order list,
// running the key and value finalizers, and reports whether the key
// was present.
func (m *LinkedMapOf[K, V]) Delete(key K) bool {
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
			m.unlinkOrder(e)
			m.finalize(e)
			m.pool.put(idx)
			m.size--
			return true
		}
		prev, idx = idx, e.next
	}
	return false
}

func (m *LinkedMapOf[K, V]) finalize(e *linkedEntryOf[K, V]) {
	if m.keyFinal != nil {
		m.keyFinal(e.key)
	}
	if m.valFinal != nil {
		m.valFinal(e.val)
	}
}

// Clear removes every entry, running finalizers, and retains the
// current capacity.
func (m *LinkedMapOf[K, V]) Clear() {
	for idx := m.newest; idx != nilIdx; {
		e := m.pool.at(idx)
		older := e.older
		m.finalize(e)
		m.pool.put(idx)
		idx = older
	}
	for b := range m.buckets {
		m.buckets[b] = nilIdx
	}
	m.newest, m.oldest = nilIdx, nilIdx
	m.size = 0
}

// Free clears the map and returns the bucket array and entry slabs to
// the Allocator. The map must not be used afterwards.
func (m *LinkedMapOf[K, V]) Free() {
	m.Clear()
	m.alloc.Release(uintptr(len(m.buckets)) * bucketSlotSize)
	m.buckets = nil
	m.pool.release()
}

// Size returns the number of entries in the map.
func (m *LinkedMapOf[K, V]) Size() int {
	return m.size
}

// IsZero reports whether the map holds no entries.
func (m *LinkedMapOf[K, V]) IsZero() bool {
	return m.size == 0
}

// Capacity returns the bucket array length, always a power of two.
func (m *LinkedMapOf[K, V]) Capacity() int {
	return len(m.buckets)
}

// LoadFactor returns Size divided by Capacity.
func (m *LinkedMapOf[K, V]) LoadFactor() float64 {
	return float64(m.size) / float64(len(m.buckets))
}

// Newest returns the entry at the head of the order list: the most
// recently inserted key, or most recently used in access-order mode.
func (m *LinkedMapOf[K, V]) Newest() (K, V, bool) {
	if m.newest == nilIdx {
		var k K
		var v V
		return k, v, false
	}
	e := m.pool.at(m.newest)
	return e.key, e.val, true
}

// Oldest returns the entry at the tail of the order list; this is the
// entry an evictor drops first.
func (m *LinkedMapOf[K, V]) Oldest() (K, V, bool) {
	if m.oldest == nilIdx {
		var k K
		var v V
		return k, v, false
	}
	e := m.pool.at(m.oldest)
	return e.key, e.val, true
}

// Grow resizes the bucket array to at least capacity, after clamping
// to a power of two in [1, MaxTableCapacity]. A clamped target at or
// below the current capacity is a successful no-op. On
// ErrAllocFailed the table is left in its pre-resize state.
//
// Rehashing walks the order list rather than the buckets, so the
// iteration order is untouched by a Grow.
func (m *LinkedMapOf[K, V]) Grow(capacity int) error {
	return m.grow(capacity)
}

func (m *LinkedMapOf[K, V]) grow(capacity int) error {
	capacity = clampCapacity(capacity)
	if capacity <= len(m.buckets) {
		return nil
	}

	newBuckets, err := newBucketIndex(m.alloc, capacity)
	if err != nil {
		return err
	}

	mask := uintptr(capacity - 1)
	for idx := m.newest; idx != nilIdx; {
		e := m.pool.at(idx)
		nb := int(e.hash & mask)
		e.next = newBuckets[nb]
		newBuckets[nb] = idx
		idx = e.older
	}

	m.alloc.Release(uintptr(len(m.buckets)) * bucketSlotSize)
	m.buckets = newBuckets
	m.resizeAt = resizeThreshold(capacity, m.maxLoadFactor)
	m.totalGrowths++
	return nil
}

// Apply invokes fn for each entry from newest to oldest and returns
// the number of entries visited. Iteration stops early, counting the
// entry it stopped on, when fn returns false. fn must not mutate the
// map.
func (m *LinkedMapOf[K, V]) Apply(fn func(key K, value V) bool) int {
	visited := 0
	for idx := m.newest; idx != nilIdx; {
		e := m.pool.at(idx)
		visited++
		if !fn(e.key, e.val) {
			return visited
		}
		idx = e.older
	}
	return visited
}

// Range iterates from newest to oldest. yield must not mutate the
// map.
func (m *LinkedMapOf[K, V]) Range(yield func(key K, value V) bool) {
	for idx := m.newest; idx != nilIdx; {
		e := m.pool.at(idx)
		if !yield(e.key, e.val) {
			return
		}
		idx = e.older
	}
}

// All is the iterator form of Range: newest to oldest.
func (m *LinkedMapOf[K, V]) All() func(yield func(K, V) bool) {
	return m.Range
}

// Backward is the iterator form for oldest-to-newest traversal.
func (m *LinkedMapOf[K, V]) Backward() func(yield func(K, V) bool) {
	return func(yield func(K, V) bool) {
		for idx := m.oldest; idx != nilIdx; {
			e := m.pool.at(idx)
			if !yield(e.key, e.val) {
				return
			}
			idx = e.newer
		}
	}
}

// Keys is the iterator form for iterating over all keys, newest
// first.
func (m *LinkedMapOf[K, V]) Keys() func(yield func(K) bool) {
	return func(yield func(K) bool) {
		m.Range(func(key K, _ V) bool {
			return yield(key)
		})
	}
}

// Values is the iterator form for iterating over all values, newest
// first.
func (m *LinkedMapOf[K, V]) Values() func(yield func(V) bool) {
	return func(yield func(V) bool) {
		m.Range(func(_ K, value V) bool {
			return yield(value)
		})
	}
}

// ToMap collects all entries into a map[K]V.
func (m *LinkedMapOf[K, V]) ToMap() map[K]V {
	a := make(map[K]V, m.size)
	m.Range(func(key K, value V) bool {
		a[key] = value
		return true
	})
	return a
}

// Stats returns a snapshot of the table.
func (m *LinkedMapOf[K, V]) Stats() MapStats {
	return MapStats{
		Capacity:     len(m.buckets),
		Size:         m.size,
		LoadFactor:   m.LoadFactor(),
		TotalGrowths: m.totalGrowths,
	}
}

// Iter returns a one-shot Forward cursor. The cursor is invalidated
// by any mutation of the map, including access-order Loads.
func (m *LinkedMapOf[K, V]) Iter() *LinkedIter[K, V] {
	return m.IterDir(Forward)
}

// IterDir returns a one-shot cursor walking the order list in the
// given direction: Forward from newest to oldest, Backward from
// oldest to newest.
func (m *LinkedMapOf[K, V]) IterDir(dir Direction) *LinkedIter[K, V] {
	it := &LinkedIter[K, V]{m: m, dir: dir}
	if dir == Backward {
		it.idx = m.oldest
	} else {
		it.idx = m.newest
	}
	return it
}

// LinkedIter is a cursor over a LinkedMapOf's order list. Key and
// Value are valid after a call to Next returned true. Advancement is
// the only mutation; a cursor cannot be restarted.
type LinkedIter[K comparable, V any] struct {
	m   *LinkedMapOf[K, V]
	dir Direction
	idx int
	key K
	val V
}

// Next advances to the next entry, reporting whether one exists.
func (it *LinkedIter[K, V]) Next() bool {
	if it.idx == nilIdx {
		return false
	}
	e := it.m.pool.at(it.idx)
	it.key, it.val = e.key, e.val
	if it.dir == Backward {
		it.idx = e.newer
	} else {
		it.idx = e.older
	}
	return true
}

// Key returns the key at the cursor.
func (it *LinkedIter[K, V]) Key() K { return it.key }

// Value returns the value at the cursor.
func (it *LinkedIter[K, V]) Value() V { return it.val }

// jsonKey encodes a map key following encoding/json's object key
// rules: encoding.TextMarshaler implementations and string kinds
// marshal to their string form, integer kinds are quoted, and any
// other key type is an UnsupportedTypeError.
func jsonKey[K comparable](key K) ([]byte, error) {
	if tm, ok := any(key).(encoding.TextMarshaler); ok {
		text, err := tm.MarshalText()
		if err != nil {
			return nil, err
		}
		return json.Marshal(string(text))
	}
	v := reflect.ValueOf(key)
	switch v.Kind() {
	case reflect.String:
		return json.Marshal(v.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return []byte(`"` + strconv.FormatInt(v.Int(), 10) + `"`), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32,
		reflect.Uint64, reflect.Uintptr:
		return []byte(`"` + strconv.FormatUint(v.Uint(), 10) + `"`), nil
	default:
		return nil, &json.UnsupportedTypeError{Type: reflect.TypeOf(key)}
	}
}

// MarshalJSON encodes the map as a JSON object with keys in
// insertion order, oldest first. Keys must satisfy encoding/json's
// object key rules; see jsonKey.
func (m *LinkedMapOf[K, V]) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for idx := m.oldest; idx != nilIdx; {
		e := m.pool.at(idx)
		if !first {
			buf.WriteByte(',')
		}
		first = false

		kb, err := jsonKey(e.key)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')

		vb, err := json.Marshal(e.val)
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
		idx = e.newer
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object into the map, storing entries
// in document order so the order list reproduces the document.
func (m *LinkedMapOf[K, V]) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("hmap: cannot unmarshal non-object into LinkedMapOf")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		s := tok.(string)

		var key K
		if kp, ok := any(&key).(*string); ok {
			*kp = s
		} else if err := json.Unmarshal([]byte(s), &key); err != nil {
			// Keys that are not bare JSON values (e.g. encoding.TextUnmarshaler
			// implementations) decode from the quoted form.
			if err2 := json.Unmarshal([]byte(strconv.Quote(s)), &key); err2 != nil {
				return err
			}
		}
		var value V
		if err := dec.Decode(&value); err != nil {
			return err
		}
		if err := m.Store(key, value); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil { // closing brace
		return err
	}
	switch _, err := dec.Token(); err {
	case io.EOF:
		return nil
	case nil:
		return errors.New("hmap: trailing data after object")
	default:
		return err
	}
}
