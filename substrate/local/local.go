// Copyright 2024 The Saddlebag Authors.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package local implements substrate.Substrate for a single OS
// process running every rank as a goroutine. It is the harness used
// by saddlebag's own tests and by example/hello, grounded in the
// teacher's own in-process localExecutor (local.go), which likewise
// runs every task as a goroutine sharing one address space and
// buffers all output in memory rather than across a real network.
//
// Because every rank shares the process's address space, every
// Handle returned by this backend is local: the cycle engine always
// takes the all-local fast path described in spec.md §4.6.
package local

import (
	"context"
	"fmt"
	"sync"

	"github.com/saddlebag/saddlebag/internal/segment"
	"github.com/saddlebag/saddlebag/substrate"
)

// World is the shared state for a fixed-size set of local ranks. Call
// NewWorld once, then New once per rank to obtain that rank's
// substrate.Substrate handle.
type World struct {
	n int

	mu        sync.Mutex
	directory map[string]substrate.Handle
	present   map[string]chan struct{}

	barrier *barrier
}

// NewWorld returns a World for n co-resident ranks.
func NewWorld(n int) *World {
	return &World{
		n:         n,
		directory: make(map[string]substrate.Handle),
		present:   make(map[string]chan struct{}),
		barrier:   newBarrier(n),
	}
}

// New returns the substrate.Substrate for rank within w. rank must be
// in [0, n) and used by exactly one goroutine.
func (w *World) New(rank int) *Rank {
	return &Rank{world: w, rank: rank}
}

// Rank is one local rank's view of a World.
type Rank struct {
	world *World
	rank  int
}

var _ substrate.Substrate = (*Rank)(nil)

func (r *Rank) Init(ctx context.Context) error { return nil }
func (r *Rank) Finalize() error                { return nil }

func (r *Rank) RankMe() int { return r.rank }
func (r *Rank) RankN() int  { return r.world.n }

// LocalTeam is every rank: the whole world shares this process.
func (r *Rank) LocalTeam() []int {
	team := make([]int, r.world.n)
	for i := range team {
		team[i] = i
	}
	return team
}

func (r *Rank) Barrier(ctx context.Context, scope substrate.Scope) error {
	// Local and Global coincide here since the whole world is
	// co-resident.
	return r.world.barrier.wait(ctx)
}

// Alloc registers a new segment of exactly size bytes and carves the
// whole of it out as this allocation's backing array. Every call gets
// its own segment.Segment rather than sharing one arena across calls:
// Bootstrap only ever allocates a handful of times per rank, all
// before the first cycle, so there is nothing to amortize by packing
// them together.
func (r *Rank) Alloc(size int) (substrate.Handle, error) {
	seg := segment.New(size)
	buf, err := seg.Alloc(size)
	if err != nil {
		return substrate.Handle{}, fmt.Errorf("local: alloc: %w", err)
	}
	return substrate.Handle{
		Rank:  r.rank,
		Bytes: func() []byte { return buf },
	}, nil
}

func (r *Rank) Publish(ctx context.Context, key string, h substrate.Handle) error {
	w := r.world
	w.mu.Lock()
	w.directory[dirKey(r.rank, key)] = h
	ch, ok := w.present[dirKey(r.rank, key)]
	if !ok {
		ch = make(chan struct{})
		w.present[dirKey(r.rank, key)] = ch
	}
	w.mu.Unlock()
	close(ch)
	return nil
}

func (r *Rank) Lookup(ctx context.Context, rank int, key string) (substrate.Handle, error) {
	w := r.world
	w.mu.Lock()
	ch, ok := w.present[dirKey(rank, key)]
	if !ok {
		ch = make(chan struct{})
		w.present[dirKey(rank, key)] = ch
	}
	w.mu.Unlock()

	select {
	case <-ch:
	case <-ctx.Done():
		return substrate.Handle{}, ctx.Err()
	}

	w.mu.Lock()
	h := w.directory[dirKey(rank, key)]
	w.mu.Unlock()
	return h, nil
}

func dirKey(rank int, key string) string { return fmt.Sprintf("%d/%s", rank, key) }

func (r *Rank) RgetWord(ctx context.Context, h substrate.Handle) (uint64, error) {
	b := h.Bytes()
	if len(b) < 8 {
		return 0, fmt.Errorf("local: RgetWord: handle too small (%d bytes)", len(b))
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v, nil
}

func (r *Rank) RgetBytes(ctx context.Context, h substrate.Handle, n int) ([]byte, error) {
	b := h.Bytes()
	if n > len(b) {
		n = len(b)
	}
	out := make([]byte, n)
	copy(out, b[:n])
	return out, nil
}

func (r *Rank) Progress() {}

// barrier is a reusable generation-counted barrier, the same shape as
// sync.WaitGroup but safe to wait on repeatedly across cycles.
type barrier struct {
	n int

	mu      sync.Mutex
	cond    *sync.Cond
	count   int
	gen     uint64
}

func newBarrier(n int) *barrier {
	b := &barrier{n: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *barrier) wait(ctx context.Context) error {
	// Wake every waiter when ctx is cancelled so each re-checks ctx.Err.
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stop()
	b.mu.Lock()
	gen := b.gen
	b.count++
	if b.count == b.n {
		b.count = 0
		b.gen++
		b.cond.Broadcast()
		b.mu.Unlock()
		return nil
	}
	for b.gen == gen {
		if ctx.Err() != nil {
			b.mu.Unlock()
			return ctx.Err()
		}
		b.cond.Wait()
	}
	b.mu.Unlock()
	return nil
}
