// Package util contains internal helpers (hashing, bucket math, padding).
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"

	"github.com/cespare/xxhash/v2"
)

// Hash64 hashes common key types with xxhash.
// Supported: strings, byte arrays, all int/uint/float widths, bool, uintptr,
// pointers, named types over those kinds and fmt.Stringer.
// Callers are expected to check CanHash once at construction; Hash64 panics
// on a type CanHash rejects.
func Hash64[K comparable](k K) uint64 {
	switch v := any(k).(type) {
	case string:
		return xxhash.Sum64String(v)
	case [16]byte:
		return xxhash.Sum64(v[:])
	case [32]byte:
		return xxhash.Sum64(v[:])
	case uint8:
		return hashUint64(uint64(v))
	case uint16:
		return hashUint64(uint64(v))
	case uint32:
		return hashUint64(uint64(v))
	case uint64:
		return hashUint64(v)
	case uint:
		return hashUint64(uint64(v))
	case uintptr:
		return hashUint64(uint64(v))
	case int8:
		return hashUint64(uint64(uint8(v)))
	case int16:
		return hashUint64(uint64(uint16(v)))
	case int32:
		return hashUint64(uint64(uint32(v)))
	case int64:
		return hashUint64(uint64(v))
	case int:
		return hashUint64(uint64(v))
	case fmt.Stringer:
		return xxhash.Sum64String(v.String())
	}
	return hashValue(reflect.ValueOf(k))
}

// CanHash reports whether Hash64 supports K. It is resolved from the type
// alone, so unsupported key types are rejected before any lookup happens.
func CanHash[K comparable]() bool {
	t := reflect.TypeFor[K]()
	if t.Implements(reflect.TypeFor[fmt.Stringer]()) {
		return true
	}
	return hashableKind(t)
}

func hashableKind(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Pointer:
		return true
	case reflect.Array:
		return t.Elem().Kind() == reflect.Uint8
	default:
		return false
	}
}

// hashValue covers named types whose underlying kind is supported.
func hashValue(v reflect.Value) uint64 {
	switch v.Kind() {
	case reflect.String:
		return xxhash.Sum64String(v.String())
	case reflect.Bool:
		if v.Bool() {
			return hashUint64(1)
		}
		return hashUint64(0)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return hashUint64(uint64(v.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return hashUint64(v.Uint())
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if f == 0 { // +0 and -0 compare equal
			f = 0
		}
		return hashUint64(math.Float64bits(f))
	case reflect.Pointer:
		return hashUint64(uint64(v.Pointer()))
	case reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, v.Len())
			for i := range b {
				b[i] = byte(v.Index(i).Uint())
			}
			return xxhash.Sum64(b)
		}
	}
	panic(fmt.Sprintf("util.Hash64: unsupported key type %s; provide a custom hasher", v.Type()))
}

// hashUint64 hashes the 8 little-endian bytes of u without allocating.
func hashUint64(u uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], u)
	return xxhash.Sum64(b[:])
}
