// Copyright 2024 The Saddlebag Authors.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package keyhash implements the deterministic 32-bit keyed hash used
// throughout saddlebag for partition placement and for the home-slot
// computation of internal/openmap. Two processes hashing the same key
// bytes must agree, so the hash carries no process-local seed beyond
// the one supplied by the caller.
package keyhash

import (
	"encoding/binary"
	"math"

	"github.com/spaolacci/murmur3"
)

// Sentinel is the reserved hash value that internal/openmap uses to
// mark an empty slot. Sum32 never returns it: any key that would
// naturally hash to Sentinel is remapped to sentinelReplacement, so
// callers never need a special case.
const Sentinel = 0xFFFFFFFF

const sentinelReplacement = 0xFFFFFFFE

// Sum32 returns a deterministic 32-bit hash of key, seeded by seed.
// The same (seed, key) pair hashes identically on every process,
// which is the partitioning invariant the rest of the package relies
// on. Built on murmur3, the same 32-bit hash the teacher's frame
// package uses for its per-column HashWithSeed operations.
func Sum32(seed uint32, key []byte) uint32 {
	h := murmur3.Sum32WithSeed(key, seed)
	if h == Sentinel {
		return sentinelReplacement
	}
	return h
}

// Bytes marshals a fixed-width comparable key into its raw byte
// representation for hashing. It mirrors the teacher's per-kind
// hasher dispatch (hasher.go's uint64Hasher, stringHasher, ...) but
// as ordinary Go generics rather than reflection, since ItemKey is a
// single statically known type parameter here rather than an
// arbitrary Frame column.
func Bytes[K comparable](key K) []byte {
	switch v := any(key).(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	case int:
		return uintBytes(uint64(v))
	case int8:
		return uintBytes(uint64(v))
	case int16:
		return uintBytes(uint64(v))
	case int32:
		return uintBytes(uint64(v))
	case int64:
		return uintBytes(uint64(v))
	case uint:
		return uintBytes(uint64(v))
	case uint8:
		return uintBytes(uint64(v))
	case uint16:
		return uintBytes(uint64(v))
	case uint32:
		return uintBytes(uint64(v))
	case uint64:
		return uintBytes(v)
	case uintptr:
		return uintBytes(uint64(v))
	case float32:
		return uintBytes(uint64(math.Float32bits(v)))
	case float64:
		return uintBytes(math.Float64bits(v))
	default:
		panic("keyhash: unsupported key type; use a supported scalar or string type")
	}
}

func uintBytes(x uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], x)
	return b[:]
}

// Of hashes a comparable key with the given seed, combining Bytes and
// Sum32. It is the entry point internal/openmap and worker.GetPartition
// use.
func Of[K comparable](seed uint32, key K) uint32 {
	return Sum32(seed, Bytes(key))
}
