// Copyright 2024 The Saddlebag Authors.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package worker implements the cycle engine: the per-process
// bulk-synchronous driver that owns a rank's tables, drains and
// applies its peers' outgoing message buffers, and invokes the work
// callbacks, as spec.md §4.6 specifies.
package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"

	"github.com/saddlebag/saddlebag/internal/bufpool"
	"github.com/saddlebag/saddlebag/internal/keyhash"
	"github.com/saddlebag/saddlebag/item"
	"github.com/saddlebag/saddlebag/message"
	"github.com/saddlebag/saddlebag/stats"
	"github.com/saddlebag/saddlebag/substrate"
	"github.com/saddlebag/saddlebag/table"
)

// AddItemStatus reports the outcome of Worker.AddItem, the full
// six-way enum spec.md §6 specifies (a superset of table.ApplyStatus,
// which only ever arises from delivering a message).
type AddItemStatus int

const (
	// CreatedNewLocal means key's home is this worker and it did not
	// exist yet; it was created.
	CreatedNewLocal AddItemStatus = iota
	// FoundExistingLocal means key's home is this worker and it
	// already existed; Refresh was invoked on it.
	FoundExistingLocal
	// RequestedNewRemote means key's home is a different rank and the
	// caller asked to create it there; a synthetic self-sourced
	// message was enqueued toward it.
	RequestedNewRemote
	// IgnoredNewRemote means key's home is a different rank and the
	// caller did not ask for remote creation.
	IgnoredNewRemote
	// IgnoredNewLocal is never returned by AddItem; it exists on this
	// enum only because spec.md §6 lists it in AddItem's status set,
	// where it names the create-on-push path table.Apply already
	// reports for incoming messages. See DESIGN.md.
	IgnoredNewLocal
	// NotFound means key's home is this worker, it does not exist, and
	// the caller did not ask to create it.
	NotFound
)

func (s AddItemStatus) String() string {
	switch s {
	case CreatedNewLocal:
		return "CREATED_NEW_LOCAL"
	case FoundExistingLocal:
		return "FOUND_EXISTING_LOCAL"
	case RequestedNewRemote:
		return "REQUESTED_NEW_REMOTE"
	case IgnoredNewRemote:
		return "IGNORED_NEW_REMOTE"
	case IgnoredNewLocal:
		return "IGNORED_NEW_LOCAL"
	case NotFound:
		return "NOT_FOUND"
	default:
		return "UNKNOWN"
	}
}

// progressEvery is how many peers the exchange phase visits between
// calls to the substrate's Progress, spec.md §5's "every K iterations
// of a loop over peers" requirement.
const progressEvery = 8

// statusGroup collects every Worker's status.Task in this process,
// the same status.Group pattern bigmachine.go's B uses for its
// machine fleet, so a hosting CLI can render every rank's line
// together.
var statusGroup = new(status.Status).Group("saddlebag")

// Worker is the per-rank cycle engine: it owns every table declared
// with AddTable, the per-peer message buffers, and the substrate
// connection those buffers are published and resolved through.
type Worker[TableKey comparable, ItemKey comparable, Msg any] struct {
	sub  substrate.Substrate
	rank int
	n    int
	seed uint32

	bufs *bufpool.Pool[TableKey, ItemKey, Msg]

	tables     []*table.Table[TableKey, ItemKey, Msg]
	tableIndex map[TableKey]int

	cycleNum uint64
	stats    *stats.Map
	status   *status.Task

	mu  sync.Mutex
	err *Error
}

// New constructs a Worker bound to sub, with a capacity-m message
// buffer to every peer. It allocates and exchanges buffer handles
// with every other rank before returning, so New must be called by
// every rank in the run (it collectively blocks on sub.Publish and
// sub.Lookup, though neither is itself a barrier).
func New[TableKey comparable, ItemKey comparable, Msg any](ctx context.Context, sub substrate.Substrate, bufferSize int) (*Worker[TableKey, ItemKey, Msg], error) {
	if err := sub.Init(ctx); err != nil {
		return nil, newOutOfMemoryError(fmt.Errorf("worker: substrate init: %w", err))
	}
	w := &Worker[TableKey, ItemKey, Msg]{
		sub:        sub,
		rank:       sub.RankMe(),
		n:          sub.RankN(),
		bufs:       bufpool.New[TableKey, ItemKey, Msg](sub.RankMe(), sub.RankN(), bufferSize),
		tableIndex: make(map[TableKey]int),
		stats:      stats.NewMap(),
		status:     statusGroup.Start(),
	}
	w.status.Title(fmt.Sprintf("rank %d", w.rank))
	if err := w.bufs.Bootstrap(ctx, sub); err != nil {
		return nil, newOutOfMemoryError(fmt.Errorf("worker: buffer bootstrap: %w", err))
	}
	return w, nil
}

// Close releases the Worker's substrate connection and retires its
// status.Task. Unlike the original destroy_worker, which left every
// rank's shared segment and directory entries to leak on process
// exit, Close gives the Worker an explicit, correct teardown: callers
// that construct many short-lived Workers (tests, in-process demos)
// must call it or their status.Group accumulates stale tasks.
func (w *Worker[TableKey, ItemKey, Msg]) Close() error {
	w.status.Done()
	return w.sub.Finalize()
}

// GetPartition returns the rank that is home for (tableKey, key):
// hash32(key) mod N. Unlike the open-addressing map's home slot, the
// partition function does not depend on tableKey, matching spec.md §3.
func (w *Worker[TableKey, ItemKey, Msg]) GetPartition(tableKey TableKey, key ItemKey) int {
	return int(keyhash.Of(w.seed, key) % uint32(w.n))
}

// AddTable registers a new table. Tables must be added in the order
// their TableKey values are declared; the cycle engine's work phase
// iterates tables in this declaration order (spec.md §4.6, phase 4).
func (w *Worker[TableKey, ItemKey, Msg]) AddTable(key TableKey, isGlobal, createOnPush bool, factory table.Factory[TableKey, ItemKey, Msg]) *table.Table[TableKey, ItemKey, Msg] {
	tbl := table.New[TableKey, ItemKey, Msg](key, isGlobal, createOnPush, w.seed, factory, func(t TableKey, k ItemKey) bool {
		return w.GetPartition(t, k) == w.rank
	})
	w.tableIndex[key] = len(w.tables)
	w.tables = append(w.tables, tbl)
	return tbl
}

// AddItem implements the full add_item contract of spec.md §6: on the
// home rank it finds-or-creates the item directly; on a remote rank,
// if isRemote and createIfAbsent, it enqueues a synthetic self-sourced
// message so the home rank creates the item on its next cycle.
func (w *Worker[TableKey, ItemKey, Msg]) AddItem(tableKey TableKey, key ItemKey, isRemote, createIfAbsent bool) (item.Item[TableKey, ItemKey, Msg], AddItemStatus) {
	idx, ok := w.tableIndex[tableKey]
	if !ok {
		return nil, IgnoredNewRemote
	}
	tbl := w.tables[idx]

	if w.GetPartition(tableKey, key) != w.rank {
		if isRemote && createIfAbsent {
			var zero Msg
			w.bufs.Enqueue(w.GetPartition(tableKey, key), message.Message[TableKey, ItemKey, Msg]{
				SrcTable: tableKey, DestTable: tableKey,
				SrcItem: key, DestItem: key,
				Value: zero,
			})
			return nil, RequestedNewRemote
		}
		return nil, IgnoredNewRemote
	}

	if it, found := tbl.Find(key); found {
		tbl.Refresh(it)
		return it, FoundExistingLocal
	}
	if !createIfAbsent {
		return nil, NotFound
	}
	return tbl.CreateNewItem(key), CreatedNewLocal
}

// Err returns the worker's sticky error, or nil if none has been set.
func (w *Worker[TableKey, ItemKey, Msg]) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		return nil
	}
	return w.err
}

func (w *Worker[TableKey, ItemKey, Msg]) setError(e *Error) {
	w.mu.Lock()
	w.err = e
	w.mu.Unlock()
}

// StatusLine renders the previous cycle's diagnostics, in the flat
// "name=value" shape the teacher's stats.Values.String produces for
// sliceMachine.UpdateStatus (bigmachine.go). Cycle also feeds this
// line into the Worker's own status.Task, the same status.Group
// pattern startMachines uses to report each machine's status
// (slicemachine.go), so a hosting CLI can render every rank's status
// line together.
func (w *Worker[TableKey, ItemKey, Msg]) StatusLine() string {
	return fmt.Sprintf("cycle=%d %s", w.cycleNum, w.stats.String())
}

// pusher adapts a Worker to item.Pusher for one item's DoWork call,
// remembering that item's (table, key) so pushed messages carry a
// correct SrcTable/SrcItem, which the Pusher interface itself does
// not take as parameters.
type pusher[TableKey comparable, ItemKey comparable, Msg any] struct {
	w        *Worker[TableKey, ItemKey, Msg]
	srcTable TableKey
	srcItem  ItemKey
}

func (p *pusher[TableKey, ItemKey, Msg]) Push(destTable TableKey, destItem ItemKey, value Msg) {
	dest := p.w.GetPartition(destTable, destItem)
	p.w.bufs.Enqueue(dest, message.Message[TableKey, ItemKey, Msg]{
		SrcTable: p.srcTable, DestTable: destTable,
		SrcItem: p.srcItem, DestItem: destItem,
		Value: value,
	})
}

// Cycle runs iter iterations of the phase sequence spec.md §4.6
// specifies: quiesce, validate, exchange, clear, work. doComm gates
// phases 1-3; doWork gates phase 4. A substrate or context error
// aborts the whole call; a buffer overflow instead sets the worker's
// sticky error and continues, so peers waiting at a barrier are never
// abandoned.
func (w *Worker[TableKey, ItemKey, Msg]) Cycle(ctx context.Context, iter int, doWork, doComm bool) error {
	for step := 0; step < iter; step++ {
		// Phase 0 — quiesce. Publish this rank's current outgoing
		// buffers into its segment, then a global barrier makes every
		// enqueue from the previous iteration visible to every peer.
		if err := w.bufs.Publish(); err != nil {
			return fmt.Errorf("worker: publish buffers: %w", err)
		}
		w.sub.Progress()
		if err := w.sub.Barrier(ctx, substrate.Global); err != nil {
			return fmt.Errorf("worker: quiesce barrier: %w", err)
		}

		var sent, recvLocal, recvRemote, malformed, misrouted int64

		if doComm {
			// Phase 1 — validate.
			if max, overflowed := w.bufs.OverflowStatus(); overflowed {
				w.setError(newOverflowError(max, bufpool.RecommendedSize(max)))
			}
			for peer := 0; peer < w.n; peer++ {
				sent += w.bufs.TruncatedCount(peer)
			}

			// Phase 2 — exchange. Drain internally takes the all-local
			// fast path (a direct Bytes() read, no RPC) whenever the
			// resolved handle is co-located, and the substrate's
			// one-sided RgetBytes otherwise.
			for peer := 0; peer < w.n; peer++ {
				msgs, _, err := w.bufs.Drain(ctx, w.sub, peer)
				if err != nil {
					return fmt.Errorf("worker: drain peer %d: %w", peer, err)
				}
				local := w.bufs.IsLocal(peer)
				for _, m := range msgs {
					idx, ok := w.tableIndex[m.DestTable]
					if !ok {
						malformed++
						continue
					}
					if w.tables[idx].Apply(m) == table.IgnoredNewRemote {
						misrouted++
					}
					if local {
						recvLocal++
					} else {
						recvRemote++
					}
				}
				if peer%progressEvery == progressEvery-1 {
					w.sub.Progress()
				}
			}

			// No peer may clear its counters until every peer is done
			// reading from it.
			if err := w.sub.Barrier(ctx, substrate.Global); err != nil {
				return fmt.Errorf("worker: post-exchange barrier: %w", err)
			}

			overflow := w.bufs.OverflowCount()

			// Phase 3 — clear.
			w.bufs.Clear()

			w.stats.Int("overflow").Set(overflow)
		}

		w.stats.Int("sent").Set(sent)
		w.stats.Int("recvLocal").Set(recvLocal)
		w.stats.Int("recvRemote").Set(recvRemote)
		w.stats.Int("malformed").Set(malformed)
		w.stats.Int("misrouted").Set(misrouted)
		line := w.StatusLine()
		w.status.Print(line)
		log.Printf("worker: %s", line)

		if doWork {
			// Phase 4 — work, tables visited in declaration order.
			for _, tbl := range w.tables {
				tableKey := tbl.Key
				tbl.Items().Each(func(key ItemKey, it item.Item[TableKey, ItemKey, Msg]) bool {
					it.BeforeWork()
					it.DoWork(&pusher[TableKey, ItemKey, Msg]{w: w, srcTable: tableKey, srcItem: key})
					it.FinishingWork()
					return true
				})
			}
		}

		w.cycleNum++
	}
	return nil
}
