package hmap

import (
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

// HashFunc computes the hash of a key. Implementations must be
// consistent with the map's equality function: equal keys must
// produce equal hashes for the same seed.
type HashFunc[K any] func(key K, seed uintptr) uintptr

// EqualFunc reports whether two keys are considered equal.
type EqualFunc[K any] func(a, b K) bool

// StringHash hashes a string with xxhash, mixed with the map seed.
// It is the default hash for string keys and is exported for callers
// building composite hashers.
func StringHash(s string, seed uintptr) uintptr {
	return uintptr(xxhash.Sum64String(s)) ^ seed
}

// BytesHash hashes a byte slice with xxhash, mixed with the map seed.
func BytesHash(b []byte, seed uintptr) uintptr {
	return uintptr(xxhash.Sum64(b)) ^ seed
}

// defaultHasher returns the hash and equality functions used when the
// caller supplies none: identity hashes for integer keys, xxhash for
// strings, and Go's built-in hasher for every other comparable type.
func defaultHasher[K comparable]() (HashFunc[K], EqualFunc[K]) {
	eq := func(a, b K) bool { return a == b }

	switch any(*new(K)).(type) {
	case string:
		return func(key K, seed uintptr) uintptr {
			return StringHash(*(*string)(unsafe.Pointer(&key)), seed)
		}, eq

	case uint, int, uintptr:
		return func(key K, _ uintptr) uintptr {
			return *(*uintptr)(unsafe.Pointer(&key))
		}, eq

	case uint64, int64:
		return func(key K, _ uintptr) uintptr {
			v := *(*uint64)(unsafe.Pointer(&key))
			if unsafe.Sizeof(uintptr(0)) == 4 {
				return uintptr(v) ^ uintptr(v>>32)
			}
			return uintptr(v)
		}, eq

	case uint32, int32:
		return func(key K, _ uintptr) uintptr {
			return uintptr(*(*uint32)(unsafe.Pointer(&key)))
		}, eq

	case uint16, int16:
		return func(key K, _ uintptr) uintptr {
			return uintptr(*(*uint16)(unsafe.Pointer(&key)))
		}, eq

	case uint8, int8:
		return func(key K, _ uintptr) uintptr {
			return uintptr(*(*uint8)(unsafe.Pointer(&key)))
		}, eq

	default:
		h := builtInHasher[K]()
		return func(key K, seed uintptr) uintptr {
			return h(noescape(unsafe.Pointer(&key)), seed)
		}, eq
	}
}

// builtInHasher obtains Go's built-in hash function for K through the
// runtime's internal type representation.
//
// Notes:
//   - This relies on Go's internal map type layout
//   - It should be verified for compatibility with each Go version upgrade
func builtInHasher[K comparable]() func(unsafe.Pointer, uintptr) uintptr {
	var m map[K]struct{}
	return iTypeOf(m).MapType().Hasher
}

type iTFlag uint8
type iKind uint8
type iNameOff int32
type iTypeOff int32

type iType struct {
	Size_       uintptr
	PtrBytes    uintptr
	Hash        uint32
	TFlag       iTFlag
	Align_      uint8
	FieldAlign_ uint8
	Kind_       iKind
	Equal       func(unsafe.Pointer, unsafe.Pointer) bool
	GCData      *byte
	Str         iNameOff
	PtrToThis   iTypeOff
}

func (t *iType) MapType() *iMapType {
	return (*iMapType)(unsafe.Pointer(t))
}

type iMapType struct {
	iType
	Key   *iType
	Elem  *iType
	Group *iType
	// function for hashing keys (ptr to key, seed) -> hash
	Hasher func(unsafe.Pointer, uintptr) uintptr
}

func iTypeOf(a any) *iType {
	eface := *(*iEmptyInterface)(unsafe.Pointer(&a))
	// Types are either static or heap-allocated but always reachable,
	// so there is no need to escape them.
	return (*iType)(noescape(unsafe.Pointer(eface.Type)))
}

type iEmptyInterface struct {
	Type *iType
	Data unsafe.Pointer
}

// noescape hides a pointer from escape analysis.
//
//go:nosplit
//go:nocheckptr
func noescape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	//nolint:staticcheck
	return unsafe.Pointer(x ^ 0)
}
