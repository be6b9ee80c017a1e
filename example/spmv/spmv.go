// Copyright 2024 The Saddlebag Authors.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package spmv is a sparse matrix-vector multiply example: one item
// per rank holds a slice of a sparse M-by-M matrix's rows, rank 0
// holds the dense input vector x and distributes it to every rank,
// and each item then computes its local slice of y = A*x. Grounded in
// original_source/examples/spmv.cpp: "Item 0 pushes vector x to all
// the Items... each item calculates SpMV[,] using locally generated
// rows". As the C++ source itself notes, results are never gathered
// back to a single item; this is a distribution-and-compute demo, not
// a full solver.
package spmv

import (
	"context"

	"github.com/saddlebag/saddlebag/item"
	"github.com/saddlebag/saddlebag/substrate"
	"github.com/saddlebag/saddlebag/worker"
)

const matrixTable = 0

// Row is one sparse row: parallel Cols/Vals slices, as
// gen_matrix/spmv's col_indices/A arrays are in the C++ original.
type Row struct {
	Cols []int
	Vals []float64
}

// Dot returns the row's dot product against x.
func (r Row) Dot(x []float64) float64 {
	var sum float64
	for i, c := range r.Cols {
		sum += r.Vals[i] * x[c]
	}
	return sum
}

// Matrix is the per-rank item: it owns a slice of the matrix's rows
// and, once it has received x, its computed output y.
type Matrix struct {
	item.BaseItem[int, int, []float64]

	ID    int
	Rows  []Row
	Peers []int // every rank's Matrix item key, for item 0's broadcast

	X []float64
	Y []float64

	sentX bool
}

func (m *Matrix) OnPushRecv(x []float64) { m.X = x }

// DoWork implements the two steps spmv.cpp's main() drives as
// separate cycles: item 0 broadcasts x to every rank (once), and any
// item holding a vector computes its local SpMV.
func (m *Matrix) DoWork(push item.Pusher[int, int, []float64]) {
	if m.ID == 0 && !m.sentX && m.X != nil {
		m.sentX = true
		for _, key := range m.Peers {
			push.Push(matrixTable, key, m.X)
		}
	}
	if m.X != nil {
		y := make([]float64, len(m.Rows))
		for i, row := range m.Rows {
			y[i] = row.Dot(m.X)
		}
		m.Y = y
	}
}

func keyHomedAt(w *worker.Worker[int, int, []float64], target int) int {
	for k := 0; ; k++ {
		if w.GetPartition(matrixTable, k) == target {
			return k
		}
	}
}

// Build constructs a Worker, registers the matrix table, and creates
// this rank's Matrix item with its locally generated rows. If x is
// non-nil this rank is item 0 and is seeded with the vector to
// broadcast; callers on every other rank pass a nil x.
func Build(ctx context.Context, sub substrate.Substrate, bufferSize int, rows []Row, x []float64) (*worker.Worker[int, int, []float64], *Matrix, error) {
	w, err := worker.New[int, int, []float64](ctx, sub, bufferSize)
	if err != nil {
		return nil, nil, err
	}
	n := sub.RankN()
	peers := make([]int, n)
	for r := 0; r < n; r++ {
		peers[r] = keyHomedAt(w, r)
	}

	rank := sub.RankMe()
	m := &Matrix{ID: rank, Rows: rows, Peers: peers}
	if rank == 0 {
		m.X = x
	}
	tbl := w.AddTable(matrixTable, false, true, func(tableKey, itemKey int) item.Item[int, int, []float64] { return m })
	tbl.CreateNewItem(peers[rank])

	return w, m, nil
}
