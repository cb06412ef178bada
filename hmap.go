// Package hmap provides generic, single-threaded hash maps based on
// external chaining: ChainedMapOf, a plain bucket-chained table, and
// LinkedMapOf, which additionally threads every entry on a global
// order list for deterministic iteration and optional LRU eviction.
//
// Entries live in index-addressed slab pools; bucket chains and the
// order list are represented as pool indices rather than pointers.
// None of the types in this package are safe for concurrent use.
package hmap

import (
	"fmt"
	"math/bits"
	"strings"
	"unsafe"
)

const (
	// MaxTableCapacity is the hard ceiling on the bucket array length.
	// Requested capacities at or above it are clamped.
	MaxTableCapacity = 1 << 30

	// nilIdx terminates bucket chains and the order list.
	nilIdx = -1

	defaultPresize       = 16
	defaultMaxLoadFactor = 0.75

	bucketSlotSize = unsafe.Sizeof(int(0))
)

// Direction selects the traversal order of a LinkedMapOf iterator.
type Direction int

const (
	// Forward walks the order list newest to oldest.
	Forward Direction = iota
	// Backward walks the order list oldest to newest.
	Backward
)

// clampCapacity maps a requested bucket count onto the legal domain:
// a power of two in [1, MaxTableCapacity].
func clampCapacity(capacity int) int {
	if capacity < 1 {
		return 1
	}
	if capacity >= MaxTableCapacity {
		return MaxTableCapacity
	}
	return nextPowOf2(capacity)
}

// clampLoadFactor maps a configured max load factor onto (0, 1].
// Non-positive values select the default rather than failing.
func clampLoadFactor(f float64) float64 {
	if f <= 0 {
		return defaultMaxLoadFactor
	}
	if f > 1 {
		return 1.0
	}
	return f
}

// resizeThreshold is the entry count at which auto-resize triggers.
func resizeThreshold(capacity int, maxLoadFactor float64) int {
	return int(float64(capacity)*maxLoadFactor + 0.5)
}

// newBucketIndex allocates a bucket head array with every chain empty.
// The allocator is consulted first so tests can inject failure.
func newBucketIndex(alloc Allocator, n int) ([]int, error) {
	if err := alloc.Reserve(uintptr(n) * bucketSlotSize); err != nil {
		return nil, ErrAllocFailed
	}
	b := make([]int, n)
	for i := range b {
		b[i] = nilIdx
	}
	return b, nil
}

// nextPowOf2 calculates the smallest power of 2 that is greater than or equal to n.
// Compatible with both 32-bit and 64-bit systems.
func nextPowOf2(n int) int {
	if n <= 0 {
		return 1
	}

	if bits.UintSize == 32 {
		v := uint32(n)
		v--
		v |= v >> 1
		v |= v >> 2
		v |= v >> 4
		v |= v >> 8
		v |= v >> 16
		v++
		return int(v)
	}

	v := uint64(n)
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	v++
	return int(v)
}

// MapStats is a point-in-time snapshot of a map's table.
type MapStats struct {
	Capacity     int
	Size         int
	LoadFactor   float64
	TotalGrowths int
}

func (s MapStats) String() string {
	var sb strings.Builder
	sb.WriteString("MapStats{\n")
	sb.WriteString(fmt.Sprintf("Capacity:     %d\n", s.Capacity))
	sb.WriteString(fmt.Sprintf("Size:         %d\n", s.Size))
	sb.WriteString(fmt.Sprintf("LoadFactor:   %.2f\n", s.LoadFactor))
	sb.WriteString(fmt.Sprintf("TotalGrowths: %d\n", s.TotalGrowths))
	sb.WriteString("}\n")
	return sb.String()
}
