// Copyright 2024 The Saddlebag Authors.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package hello is a minimal worked example: every rank's item greets
// every rank, including itself, exactly once. Grounded in
// original_source/examples/hello-world.cpp's Hello item, which loops
// over rank_n() pushing its own id to a key on every rank.
package hello

import (
	"context"

	"github.com/saddlebag/saddlebag/item"
	"github.com/saddlebag/saddlebag/substrate"
	"github.com/saddlebag/saddlebag/worker"
)

const helloTable = 0

// Item is the per-rank greeter. Peers holds, for every rank, the key
// of that rank's Item, computed once at Build time without any
// communication: GetPartition is a pure function of (seed, key), so
// every rank can independently find a key homed on any other rank.
type Item struct {
	item.BaseItem[int, int, int]

	Rank     int
	Peers    []int
	Received []int

	greeted bool
}

func (h *Item) OnPushRecv(from int) { h.Received = append(h.Received, from) }

// DoWork pushes this rank's number to every rank's item exactly once,
// mirroring do_work's single pass over rank_n() in the C++ original.
func (h *Item) DoWork(push item.Pusher[int, int, int]) {
	if h.greeted {
		return
	}
	h.greeted = true
	for _, key := range h.Peers {
		push.Push(helloTable, key, h.Rank)
	}
}

// keyHomedAt brute-force searches for an ItemKey whose partition is
// target. hash32 is not the identity function, so there is no closed
// form; every rank runs this independently and agrees on the result
// because GetPartition depends only on the shared seed.
func keyHomedAt(w *worker.Worker[int, int, int], target int) int {
	for k := 0; ; k++ {
		if w.GetPartition(helloTable, k) == target {
			return k
		}
	}
}

// Build constructs a Worker, registers the hello table, and creates
// this rank's own greeter item at its homed key. Callers still need to
// run at least two cycle iterations (e.g. Cycle(ctx, 2, true, true)):
// greetings are pushed in the first iteration's work phase and only
// exchanged and delivered in the second iteration.
func Build(ctx context.Context, sub substrate.Substrate, bufferSize int) (*worker.Worker[int, int, int], *Item, error) {
	w, err := worker.New[int, int, int](ctx, sub, bufferSize)
	if err != nil {
		return nil, nil, err
	}
	n := sub.RankN()
	peers := make([]int, n)
	for r := 0; r < n; r++ {
		peers[r] = keyHomedAt(w, r)
	}

	it := &Item{Rank: sub.RankMe(), Peers: peers}
	tbl := w.AddTable(helloTable, false, true, func(tableKey, itemKey int) item.Item[int, int, int] { return it })
	tbl.CreateNewItem(peers[sub.RankMe()])

	return w, it, nil
}
