// Copyright 2024 The Saddlebag Authors.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package pagerank computes PageRank over a directed graph using the
// Worker cycle engine. Grounded in
// original_source/examples/pagerank.cpp's Vertex<Tk,Ok,Mt> item: the
// damping formula, the push-share-to-every-link DoWork, and the
// accumulate-then-promote OnPushRecv/BeforeWork split are all carried
// over unchanged; only the graph-loading driver is simplified (every
// rank is handed the same in-memory edge map and keeps the rows its
// partition owns, rather than reading a shared edge-list file and
// routing remote rows over the wire).
//
// OnPushRecv's accumulation scales the damping complement by the
// vertex's own current PageRank (new_page_rank += 0.15*page_rank +
// 0.85*val), exactly as Vertex::on_push_recv does — not a flat 0.15
// constant, since a vertex's random-walk restart probability mass is
// weighted by its own rank, not a fixed amount.
package pagerank

import (
	"context"

	"github.com/saddlebag/saddlebag/item"
	"github.com/saddlebag/saddlebag/substrate"
	"github.com/saddlebag/saddlebag/worker"
)

const vertexTable = 0

const damping = 0.85

// Vertex is one graph node's item. PageRank starts at 1 on creation,
// exactly as the C++ Vertex::on_create does.
type Vertex struct {
	item.BaseItem[int, int, float64]

	ID          int
	Links       []int
	PageRank    float64
	NewPageRank float64
}

func (v *Vertex) OnCreate() {
	v.PageRank = 1
	v.NewPageRank = 0
}

// AddLink records an outgoing edge to dst, mirroring Vertex::add_link.
func (v *Vertex) AddLink(dst int) { v.Links = append(v.Links, dst) }

// DoWork distributes this vertex's current rank evenly across its
// outgoing links, same as Vertex::do_work.
func (v *Vertex) DoWork(push item.Pusher[int, int, float64]) {
	if len(v.Links) == 0 {
		return
	}
	share := v.PageRank / float64(len(v.Links))
	for _, dst := range v.Links {
		push.Push(vertexTable, dst, share)
	}
}

// OnPushRecv accumulates every incoming share using the same
// 0.15/0.85 damped-random-walk formula as Vertex::on_push_recv: the
// damping complement is scaled by this vertex's own current
// PageRank, not a flat constant.
func (v *Vertex) OnPushRecv(val float64) {
	v.NewPageRank += (1-damping)*v.PageRank + damping*val
}

// BeforeWork promotes last cycle's accumulated rank before this
// cycle's DoWork reads PageRank, same as Vertex::before_work: a vertex
// with no incoming pushes this round keeps its previous rank rather
// than collapsing to zero.
func (v *Vertex) BeforeWork() {
	if v.NewPageRank > 0 {
		v.PageRank = v.NewPageRank
	}
	v.NewPageRank = 0
}

// Build constructs a Worker and creates every vertex in edges whose
// home partition is this rank, wiring its outgoing links. edges not
// homed here are silently skipped, so every rank can be handed the
// same full edge map.
func Build(ctx context.Context, sub substrate.Substrate, bufferSize int, edges map[int][]int) (*worker.Worker[int, int, float64], map[int]*Vertex, error) {
	w, err := worker.New[int, int, float64](ctx, sub, bufferSize)
	if err != nil {
		return nil, nil, err
	}

	vertices := make(map[int]*Vertex)
	tbl := w.AddTable(vertexTable, false, true, func(tableKey, itemKey int) item.Item[int, int, float64] {
		v := &Vertex{ID: itemKey}
		vertices[itemKey] = v
		return v
	})

	rank := sub.RankMe()
	for src, dsts := range edges {
		if w.GetPartition(vertexTable, src) != rank {
			continue
		}
		tbl.CreateNewItem(src)
		v := vertices[src]
		for _, dst := range dsts {
			v.AddLink(dst)
		}
	}

	return w, vertices, nil
}
