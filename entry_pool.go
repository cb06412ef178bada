package hmap

import (
	"math/bits"
	"unsafe"
)

// slabBytes is the target size of one entry slab. Slabs span a whole
// number of cache lines so entries never straddle more lines than
// their own size requires.
const slabBytes = 256 * CacheLineSize

const minSlabLen = 8

// entryPool is a slab allocator for map entries. Entries are
// addressed by a dense int index, so chains and order lists can link
// entries without holding pointers into the slabs. Index 0 is valid;
// nilIdx (-1) is the null link.
//
// Freed slots are recycled through a free stack before the
// high-water mark advances. Slabs are only returned to the Allocator
// by release.
type entryPool[E any] struct {
	alloc     Allocator
	slabs     [][]E
	free      []int
	next      int // high-water mark; indices below it have been handed out
	slabLen   int // power of two
	slabShift uint
	entrySize uintptr
}

func (p *entryPool[E]) init(alloc Allocator) {
	p.alloc = alloc
	p.entrySize = unsafe.Sizeof(*new(E))
	p.slabLen = slabLenFor(p.entrySize)
	p.slabShift = uint(bits.TrailingZeros(uint(p.slabLen)))
}

// slabLenFor picks the largest power-of-two entry count that keeps a
// slab at or under slabBytes, with a floor so tiny maps still batch
// their allocations.
func slabLenFor(entrySize uintptr) int {
	n := int(slabBytes / entrySize)
	if n < minSlabLen {
		n = minSlabLen
	}
	return 1 << (bits.Len(uint(n)) - 1)
}

func (p *entryPool[E]) at(idx int) *E {
	return &p.slabs[idx>>p.slabShift][idx&(p.slabLen-1)]
}

// get returns the index of a zeroed entry slot, growing the pool by
// one slab when both the free stack and the current slab are
// exhausted. The only error is ErrAllocFailed.
func (p *entryPool[E]) get() (int, error) {
	if n := len(p.free); n > 0 {
		idx := p.free[n-1]
		p.free = p.free[:n-1]
		return idx, nil
	}
	if p.next == len(p.slabs)<<p.slabShift {
		if err := p.alloc.Reserve(uintptr(p.slabLen) * p.entrySize); err != nil {
			return nilIdx, ErrAllocFailed
		}
		p.slabs = append(p.slabs, make([]E, p.slabLen))
	}
	idx := p.next
	p.next++
	return idx, nil
}

// put recycles a slot. The entry is zeroed so key and value
// references do not outlive their map entry.
func (p *entryPool[E]) put(idx int) {
	var zero E
	*p.at(idx) = zero
	p.free = append(p.free, idx)
}

// live reports the number of slots currently handed out.
func (p *entryPool[E]) live() int {
	return p.next - len(p.free)
}

// release returns every slab to the Allocator. The pool is empty but
// reusable afterwards.
func (p *entryPool[E]) release() {
	p.alloc.Release(uintptr(len(p.slabs)<<p.slabShift) * p.entrySize)
	p.slabs = nil
	p.free = nil
	p.next = 0
}
