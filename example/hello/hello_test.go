// Copyright 2024 The Saddlebag Authors.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package hello

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/saddlebag/saddlebag/substrate/local"
)

func TestEveryRankGreetsEveryRank(t *testing.T) {
	const n = 3
	w := local.NewWorld(n)

	items := make([]*Item, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for r := 0; r < n; r++ {
		go func(rank int) {
			defer wg.Done()
			wk, it, err := Build(context.Background(), w.New(rank), 16)
			if err != nil {
				t.Errorf("rank %d: Build: %v", rank, err)
				return
			}
			items[rank] = it
			// The first cycle's work phase is where greetings are
			// pushed; they aren't published and drained until the
			// second cycle's quiesce/exchange.
			if err := wk.Cycle(context.Background(), 2, true, true); err != nil {
				t.Errorf("rank %d: Cycle: %v", rank, err)
			}
		}(r)
	}
	wg.Wait()

	for r := 0; r < n; r++ {
		got := append([]int(nil), items[r].Received...)
		sort.Ints(got)
		if len(got) != n {
			t.Fatalf("rank %d: received %v, want %d greetings", r, got, n)
		}
		for i, v := range got {
			if v != i {
				t.Fatalf("rank %d: received %v, want [0..%d)", r, got, n)
			}
		}
	}
}
