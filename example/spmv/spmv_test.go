// Copyright 2024 The Saddlebag Authors.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package spmv

import (
	"context"
	"sync"
	"testing"

	"github.com/saddlebag/saddlebag/substrate/local"
)

func TestDistributeAndMultiply(t *testing.T) {
	const n = 2
	w := local.NewWorld(n)

	x := []float64{1, 2, 3, 4}
	rowSets := [][]Row{
		{ // rank 0's rows
			{Cols: []int{0, 1}, Vals: []float64{1, 1}}, // 1*1 + 2*1 = 3
		},
		{ // rank 1's rows
			{Cols: []int{2, 3}, Vals: []float64{2, 0.5}}, // 3*2 + 4*0.5 = 8
		},
	}

	matrices := make([]*Matrix, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for r := 0; r < n; r++ {
		go func(rank int) {
			defer wg.Done()
			var seed []float64
			if rank == 0 {
				seed = x
			}
			wk, m, err := Build(context.Background(), w.New(rank), 16, rowSets[rank], seed)
			if err != nil {
				t.Errorf("rank %d: Build: %v", rank, err)
				return
			}
			matrices[rank] = m
			// Cycle 0's work phase broadcasts x (already seeded on rank
			// 0) and computes rank 0's own product; cycle 1's exchange
			// delivers x to rank 1 in time for its work phase.
			if err := wk.Cycle(context.Background(), 2, true, true); err != nil {
				t.Errorf("rank %d: Cycle: %v", rank, err)
			}
		}(r)
	}
	wg.Wait()

	if got, want := matrices[0].Y, []float64{3}; len(got) != 1 || got[0] != want[0] {
		t.Fatalf("rank 0: Y = %v, want %v", got, want)
	}
	if got, want := matrices[1].Y, []float64{8}; len(got) != 1 || got[0] != want[0] {
		t.Fatalf("rank 1: Y = %v, want %v", got, want)
	}
}
