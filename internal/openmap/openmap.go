// Copyright 2024 The Saddlebag Authors.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package openmap implements the fixed-probe, open-addressing map
// from an item key to an item pointer that backs every table in the
// worker's item store. Capacity is always a power of two so that the
// home slot can be computed with a bitwise AND instead of a modulo;
// on an insert that would push the load factor over 0.5, the table
// doubles and every live entry is reinserted.
//
// There is no deletion and no tombstones: items are never removed
// from a table during a run, so find need only ever stop at the
// first empty slot.
package openmap

import "github.com/saddlebag/saddlebag/internal/keyhash"

// emptyHash marks a slot that has never held an entry.
const emptyHash = keyhash.Sentinel

const maxLoadFactor = 0.5

const initialCapacity = 16

type entry[K comparable, V any] struct {
	hash  uint32
	key   K
	value V
}

// Map is an open-addressing hash map from K to V, keyed by a 32-bit
// hash supplied at construction. It is not safe for concurrent use;
// saddlebag only ever accesses a table's Map from its owning worker's
// single thread of control.
type Map[K comparable, V any] struct {
	hash    func(K) uint32
	entries []entry[K, V]
	size    int
}

// New returns an empty Map that hashes keys with hash. hash must be
// deterministic: it is used both to pick a key's home slot and, by
// the caller, to compute partition placement, so two Maps hashing
// the same key must always agree.
func New[K comparable, V any](hash func(K) uint32) *Map[K, V] {
	return &Map[K, V]{
		hash:    hash,
		entries: newEntries[K, V](initialCapacity),
	}
}

// newEntries returns n slots, every one marked empty with emptyHash.
func newEntries[K comparable, V any](n int) []entry[K, V] {
	es := make([]entry[K, V], n)
	for i := range es {
		es[i].hash = emptyHash
	}
	return es
}

// Len returns the number of live entries.
func (m *Map[K, V]) Len() int { return m.size }

// Cap returns the current table capacity (always a power of two).
func (m *Map[K, V]) Cap() int { return len(m.entries) }

func (m *Map[K, V]) mask() uint32 { return uint32(len(m.entries) - 1) }

// probeDistance returns how many slots past slot's natural home the
// entry currently occupying slot has been displaced.
func (m *Map[K, V]) probeDistance(slot int, hash uint32) int {
	home := int(hash & m.mask())
	if slot >= home {
		return slot - home
	}
	return slot + len(m.entries) - home
}

// Find returns the value stored for k, and whether it was present.
func (m *Map[K, V]) Find(k K) (V, bool) {
	h := m.hash(k)
	mask := m.mask()
	i := int(h & mask)
	for dist := 0; ; dist++ {
		e := &m.entries[i]
		if e.hash == emptyHash {
			var zero V
			return zero, false
		}
		if e.hash == h && e.key == k {
			return e.value, true
		}
		// Robin Hood: once the probe distance of the slot we're
		// scanning is less than ours would be, k cannot be further
		// along, since inserts always displace the poorer entry.
		if m.probeDistance(i, e.hash) < dist {
			var zero V
			return zero, false
		}
		i = (i + 1) & int(mask)
	}
}

// Insert adds k/v to the map. The caller must have already confirmed
// via Find that k is absent; Insert does not check for duplicates
// (the protocol that drives table.Table guarantees exclusivity by
// always calling Find first).
func (m *Map[K, V]) Insert(k K, v V) {
	if float64(m.size+1) > maxLoadFactor*float64(len(m.entries)) {
		m.grow()
	}
	m.insert(entry[K, V]{hash: m.hash(k), key: k, value: v})
	m.size++
}

// insert performs Robin-Hood linear probing: it places ins in the
// first empty slot it finds, swapping ins for any entry it passes
// whose probe distance is smaller than ins's current distance so
// that no entry ever gets arbitrarily far from its home slot.
func (m *Map[K, V]) insert(ins entry[K, V]) {
	mask := int(m.mask())
	i := int(ins.hash) & mask
	for dist := 0; dist <= len(m.entries); dist++ {
		e := &m.entries[i]
		if e.hash == emptyHash {
			*e = ins
			return
		}
		existingDist := m.probeDistance(i, e.hash)
		if existingDist < dist {
			ins, *e = *e, ins
			dist = existingDist
		}
		i = (i + 1) & mask
	}
	panic("openmap: insert did not find an empty slot; capacity bookkeeping is broken")
}

// grow doubles capacity and reinserts every live entry.
func (m *Map[K, V]) grow() {
	old := m.entries
	m.entries = newEntries[K, V](len(old) * 2)
	for _, e := range old {
		if e.hash != emptyHash {
			m.insert(e)
		}
	}
}

// Each visits every live entry in array order, stopping early if fn
// returns false. Order is implementation-defined but stable across
// calls so long as no insert intervenes.
func (m *Map[K, V]) Each(fn func(k K, v V) bool) {
	for i := range m.entries {
		e := &m.entries[i]
		if e.hash != emptyHash {
			if !fn(e.key, e.value) {
				return
			}
		}
	}
}
