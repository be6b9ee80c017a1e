// Copyright 2024 The Saddlebag Authors.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package rpcnet

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/grailbio/bigmachine/testsystem"

	"github.com/saddlebag/saddlebag/substrate"
)

// TestBarrierAndPublishLookupAcrossRanks spins up a multi-rank
// bigmachine cluster on testsystem's in-process backend (the same
// system the teacher's own bigmachine-executor tests use) and
// exercises Barrier, Alloc, Publish, Lookup, and RgetBytes across
// ranks, including rank 0 itself, which is otherwise never called
// into by a peer in any other test in this module.
func TestBarrierAndPublishLookupAcrossRanks(t *testing.T) {
	const n = 3
	ctx := context.Background()

	ranks, shutdown, err := Start(ctx, testsystem.New(), n)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer shutdown()

	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(r *Rank) {
			defer wg.Done()
			errs[r.RankMe()] = runRank(ctx, r)
		}(ranks[i])
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", i, err)
		}
	}
}

func runRank(ctx context.Context, r *Rank) error {
	if err := r.Barrier(ctx, substrate.Global); err != nil {
		return fmt.Errorf("first barrier: %w", err)
	}

	if r.RankMe() == 0 {
		h, err := r.Alloc(1)
		if err != nil {
			return fmt.Errorf("alloc: %w", err)
		}
		h.Bytes()[0] = 0xCD
		if err := r.Publish(ctx, "x", h); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
	}

	if err := r.Barrier(ctx, substrate.Global); err != nil {
		return fmt.Errorf("second barrier: %w", err)
	}

	h, err := r.Lookup(ctx, 0, "x")
	if err != nil {
		return fmt.Errorf("lookup: %w", err)
	}
	data, err := r.RgetBytes(ctx, h, 1)
	if err != nil {
		return fmt.Errorf("rget: %w", err)
	}
	if len(data) != 1 || data[0] != 0xCD {
		return fmt.Errorf("got %v, want [205]", data)
	}
	return nil
}

// TestBarrierLocalScopeIsNoOp confirms a Local-scoped barrier never
// waits on the global check-in counter, since every rank's LocalTeam
// is only ever itself in this backend.
func TestBarrierLocalScopeIsNoOp(t *testing.T) {
	ctx := context.Background()
	ranks, shutdown, err := Start(ctx, testsystem.New(), 1)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer shutdown()

	if err := ranks[0].Barrier(ctx, substrate.Local); err != nil {
		t.Fatalf("Barrier(Local): %v", err)
	}
}
