package hmap

import (
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringHash(t *testing.T) {
	assert.Equal(t, StringHash("hello", 1), StringHash("hello", 1))
	assert.NotEqual(t, StringHash("hello", 1), StringHash("hello", 2))
	assert.Equal(t, uintptr(xxhash.Sum64String("hello")), StringHash("hello", 0))
}

func TestBytesHash(t *testing.T) {
	b := []byte("payload")
	assert.Equal(t, StringHash("payload", 99), BytesHash(b, 99))
}

func TestDefaultHasher_IntIdentity(t *testing.T) {
	hash, eq := defaultHasher[int]()
	assert.Equal(t, uintptr(12345), hash(12345, 7), "integer keys hash to themselves")
	assert.True(t, eq(5, 5))
	assert.False(t, eq(5, 6))

	hash32, _ := defaultHasher[uint32]()
	assert.Equal(t, uintptr(99), hash32(99, 7))
}

func TestDefaultHasher_String(t *testing.T) {
	hash, eq := defaultHasher[string]()
	assert.Equal(t, StringHash("abc", 3), hash("abc", 3))
	assert.True(t, eq("abc", "abc"))
	assert.False(t, eq("abc", "abd"))
}

func TestDefaultHasher_StructConsistency(t *testing.T) {
	type pair struct {
		A int
		B string
	}
	hash, eq := defaultHasher[pair]()

	k1 := pair{A: 1, B: "x"}
	k2 := pair{A: 1, B: "x"}
	require.True(t, eq(k1, k2))
	assert.Equal(t, hash(k1, 42), hash(k2, 42), "equal keys must hash equal")
	assert.NotEqual(t, hash(k1, 42), hash(pair{A: 2, B: "y"}, 42))
}

func TestDefaultHasher_SeedVariation(t *testing.T) {
	hash, _ := defaultHasher[string]()
	// Two maps get different seeds; the same key must still be stable
	// within one seed.
	assert.Equal(t, hash("k", 1), hash("k", 1))
	assert.NotEqual(t, hash("k", 1), hash("k", 2))
}
