// Copyright 2024 The Saddlebag Authors.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pagerank

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/saddlebag/saddlebag/substrate/local"
)

// A 4-node ring: every vertex has exactly one outgoing and one
// incoming edge, so a converged run should settle every vertex back
// at its initial rank of 1.
var ringEdges = map[int][]int{
	0: {1},
	1: {2},
	2: {3},
	3: {0},
}

func TestRingConverges(t *testing.T) {
	const n = 2
	w := local.NewWorld(n)

	vertexSets := make([]map[int]*Vertex, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for r := 0; r < n; r++ {
		go func(rank int) {
			defer wg.Done()
			wk, vertices, err := Build(context.Background(), w.New(rank), 16, ringEdges)
			if err != nil {
				t.Errorf("rank %d: Build: %v", rank, err)
				return
			}
			vertexSets[rank] = vertices
			if err := wk.Cycle(context.Background(), 40, true, true); err != nil {
				t.Errorf("rank %d: Cycle: %v", rank, err)
			}
		}(r)
	}
	wg.Wait()

	var total float64
	var count int
	for _, vertices := range vertexSets {
		for _, v := range vertices {
			total += v.PageRank
			count++
			if v.PageRank <= 0 {
				t.Fatalf("vertex %d: non-positive page rank %v", v.ID, v.PageRank)
			}
		}
	}
	if count != len(ringEdges) {
		t.Fatalf("created %d vertices, want %d", count, len(ringEdges))
	}
	if math.Abs(total-float64(count)) > 0.2 {
		t.Fatalf("total page rank = %v, want close to %d (uniform ring)", total, count)
	}
}
