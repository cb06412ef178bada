package hmap

import "errors"

// ErrAllocFailed reports that the configured Allocator declined an
// internal allocation. It is returned from construction, Store and
// Grow; during auto-resize it is swallowed and the map keeps its
// current capacity.
var ErrAllocFailed = errors.New("hmap: allocation failed")

// Allocator accounts for the map's internal allocations: bucket
// arrays and entry slabs. Reserve is consulted before each allocation
// and may refuse it; Release returns the reservation when the memory
// is handed back.
//
// The default allocator never refuses. Implementations exist mostly
// so callers can bound a map's memory or inject allocation failure
// in tests without touching global state.
type Allocator interface {
	Reserve(size uintptr) error
	Release(size uintptr)
}

type nopAllocator struct{}

func (nopAllocator) Reserve(uintptr) error { return nil }
func (nopAllocator) Release(uintptr)       {}

// MapConfig defines configurable map options shared by ChainedMapOf
// and LinkedMapOf.
type MapConfig struct {
	sizeHint      int
	maxLoadFactor float64
	noAutoResize  bool
	accessOrder   bool
	allocator     Allocator
	keyFinalizer  any
	valFinalizer  any
	evictor       func(size int) bool
}

func newMapConfig() *MapConfig {
	return &MapConfig{
		sizeHint:      defaultPresize,
		maxLoadFactor: defaultMaxLoadFactor,
		allocator:     nopAllocator{},
	}
}

// WithPresize configures the initial bucket array length. The value
// is clamped to a power of two in [1, MaxTableCapacity]; requesting
// 127 buckets yields 128, requesting -1 yields 1.
func WithPresize(sizeHint int) func(*MapConfig) {
	return func(c *MapConfig) {
		c.sizeHint = sizeHint
	}
}

// WithMaxLoadFactor configures the load factor at which auto-resize
// doubles the table. Non-positive values select the default (0.75),
// values above 1 are clamped to 1; out-of-domain values are never
// rejected.
func WithMaxLoadFactor(f float64) func(*MapConfig) {
	return func(c *MapConfig) {
		c.maxLoadFactor = f
	}
}

// WithoutAutoResize pins the bucket array at its initial length.
// Chains simply grow longer; nothing fails. Useful together with
// WithEvictor for strictly bounded maps.
func WithoutAutoResize() func(*MapConfig) {
	return func(c *MapConfig) {
		c.noAutoResize = true
	}
}

// WithAllocator routes all internal allocations through alloc.
func WithAllocator(alloc Allocator) func(*MapConfig) {
	return func(c *MapConfig) {
		c.allocator = alloc
	}
}

// WithKeyFinalizer registers fn to run on a key when its entry is
// removed, evicted, cleared or freed. K must match the map's key
// type; construction panics otherwise.
func WithKeyFinalizer[K any](fn func(K)) func(*MapConfig) {
	return func(c *MapConfig) {
		c.keyFinalizer = fn
	}
}

// WithValueFinalizer registers fn to run on a value when its entry is
// removed, evicted, cleared or freed, and on the old value when Store
// replaces it. V must match the map's value type; construction panics
// otherwise.
func WithValueFinalizer[V any](fn func(V)) func(*MapConfig) {
	return func(c *MapConfig) {
		c.valFinalizer = fn
	}
}

// WithAccessOrder makes a LinkedMapOf reorder on Load: a successful
// lookup moves the entry to the newest end of the order list.
// ChainedMapOf ignores this option.
func WithAccessOrder() func(*MapConfig) {
	return func(c *MapConfig) {
		c.accessOrder = true
	}
}

// WithEvictor registers a predicate consulted by LinkedMapOf after
// each insert of a new key, with the post-insert size. When it
// returns true the oldest entry is removed through the normal delete
// path, exactly once per Store. ChainedMapOf ignores this option.
func WithEvictor(fn func(size int) bool) func(*MapConfig) {
	return func(c *MapConfig) {
		c.evictor = fn
	}
}

// finalizerOf recovers a typed finalizer from the untyped config slot.
func finalizerOf[T any](v any, what string) func(T) {
	if v == nil {
		return nil
	}
	fn, ok := v.(func(T))
	if !ok {
		panic("hmap: " + what + " finalizer does not match the map's " + what + " type")
	}
	return fn
}
