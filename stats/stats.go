// Copyright 2024 The Saddlebag Authors.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package stats implements the small atomic-counter registry the
// cycle engine uses for its per-cycle diagnostics (sent, recv-local,
// recv-remote, overflow), grounded in the teacher's stats package
// (stats/stats.go), which likewise exposes named atomic counters
// collected into a Map and rendered as a single status line.
package stats

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Int is a single named atomic counter.
type Int struct {
	v atomic.Int64
}

// Add adds delta to the counter and returns the new value.
func (i *Int) Add(delta int64) int64 { return i.v.Add(delta) }

// Set stores v, discarding any previous value.
func (i *Int) Set(v int64) { i.v.Store(v) }

// Value returns the counter's current value.
func (i *Int) Value() int64 { return i.v.Load() }

// Map is a registry of named counters, safe for concurrent use.
type Map struct {
	mu   sync.Mutex
	ints map[string]*Int
}

// NewMap returns an empty counter registry.
func NewMap() *Map {
	return &Map{ints: make(map[string]*Int)}
}

// Int returns the named counter, creating it at zero on first use.
func (m *Map) Int(name string) *Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.ints[name]; ok {
		return i
	}
	i := &Int{}
	m.ints[name] = i
	return i
}

// String renders every counter as "name=value", sorted by name, the
// same flat status-line shape the teacher's stats.Values.String
// produces for sliceMachine.UpdateStatus.
func (m *Map) String() string {
	m.mu.Lock()
	names := make([]string, 0, len(m.ints))
	for name := range m.ints {
		names = append(names, name)
	}
	m.mu.Unlock()
	sort.Strings(names)

	s := ""
	for i, name := range names {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%s=%d", name, m.Int(name).Value())
	}
	return s
}
