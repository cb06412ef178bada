package hmap

import (
	"math/bits"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlabLenFor(t *testing.T) {
	cases := []struct {
		entrySize uintptr
		want      int
	}{
		{1, int(slabBytes)},
		{8, int(slabBytes / 8)},
		{48, 1 << (bits.Len(uint(slabBytes/48)) - 1)}, // floored to a power of two
		{slabBytes, minSlabLen},                       // huge entries still batch
		{slabBytes * 4, minSlabLen},
	}
	for _, c := range cases {
		got := slabLenFor(c.entrySize)
		assert.Equal(t, c.want, got, "entrySize %d", c.entrySize)
		assert.Equal(t, got, nextPowOf2(got), "slab length must be a power of two")
	}
}

func TestEntryPool_GetPutReuse(t *testing.T) {
	var p entryPool[chainedEntryOf[int, int]]
	p.init(nopAllocator{})

	a, err := p.get()
	require.NoError(t, err)
	b, err := p.get()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, p.live())

	p.put(a)
	assert.Equal(t, 1, p.live())

	// Freed slots are recycled before the high-water mark advances.
	c, err := p.get()
	require.NoError(t, err)
	assert.Equal(t, a, c)
	assert.Equal(t, 2, p.live())
}

func TestEntryPool_PutZeroesEntry(t *testing.T) {
	var p entryPool[chainedEntryOf[string, []byte]]
	p.init(nopAllocator{})

	idx, err := p.get()
	require.NoError(t, err)
	e := p.at(idx)
	e.key, e.val, e.hash, e.next = "k", []byte("payload"), 42, 7

	p.put(idx)
	e = p.at(idx)
	assert.Empty(t, e.key)
	assert.Nil(t, e.val, "value references must not outlive the entry")
	assert.Zero(t, e.hash)
	assert.Zero(t, e.next)
}

func TestEntryPool_GrowsBySlab(t *testing.T) {
	var p entryPool[chainedEntryOf[int, int]]
	p.init(nopAllocator{})

	n := p.slabLen*2 + 3
	for i := 0; i < n; i++ {
		idx, err := p.get()
		require.NoError(t, err)
		require.Equal(t, i, idx, "indices are dense")
	}
	assert.Equal(t, 3, len(p.slabs))
	assert.Equal(t, n, p.live())
}

func TestEntryPool_AllocatorRefusal(t *testing.T) {
	var p entryPool[chainedEntryOf[int, int]]
	alloc := &budgetAllocator{grants: 1}
	p.init(alloc)

	for i := 0; i < p.slabLen; i++ {
		_, err := p.get()
		require.NoError(t, err)
	}
	_, err := p.get()
	assert.ErrorIs(t, err, ErrAllocFailed)

	// A freed slot keeps get working without a new slab.
	p.put(0)
	idx, err := p.get()
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

func TestEntryPool_Release(t *testing.T) {
	var p entryPool[chainedEntryOf[int, int]]
	alloc := &budgetAllocator{grants: 10}
	p.init(alloc)

	for i := 0; i < p.slabLen+1; i++ {
		_, err := p.get()
		require.NoError(t, err)
	}
	require.Equal(t, 2, len(p.slabs))

	p.release()
	assert.Equal(t, alloc.reserved, alloc.released)
	assert.Equal(t, 0, p.live())
	assert.Nil(t, p.slabs)

	// The pool is reusable after release.
	idx, err := p.get()
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}
