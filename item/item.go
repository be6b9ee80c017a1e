// Copyright 2024 The Saddlebag Authors.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package item defines the polymorphic callback surface that
// application state objects implement. Items are owned exclusively
// by the worker that is home for their (table, key) pair; they are
// never transferred between processes, only Messages are.
package item

// Pusher is the handle an item uses, during DoWork, to enqueue
// outbound messages. It is a thin non-owning capability over the
// owning worker, analogous to the back-reference every item in the
// original C++ implementation holds to its Worker
// (original_source/src/item.cpp).
type Pusher[TableKey comparable, ItemKey comparable, Msg any] interface {
	// Push enqueues one Message toward (destTable, destItem)'s home
	// worker, to be delivered on a subsequent cycle's exchange phase.
	Push(destTable TableKey, destItem ItemKey, value Msg)
}

// Item is the capability set a table's element type must implement.
// The cycle engine invokes these methods in the order documented on
// each; user item types normally embed BaseItem and override only the
// methods they need.
type Item[TableKey comparable, ItemKey comparable, Msg any] interface {
	// OnCreate is invoked exactly once, at first instantiation of the
	// item (via the first AddItem or the first create-on-push receive
	// for this key).
	OnCreate()

	// Refresh is invoked at creation and again on every subsequent
	// AddItem call for the same key on the local partition.
	Refresh()

	// OnPushRecv is invoked once for every incoming message whose
	// destination is this item.
	OnPushRecv(value Msg)

	// BeforeWork, DoWork, and FinishingWork are invoked in that order
	// on every cycle whose do_work flag is set. DoWork is given a
	// Pusher so it can enqueue outbound messages for the next cycle.
	BeforeWork()
	DoWork(push Pusher[TableKey, ItemKey, Msg])
	FinishingWork()

	// ReturningPull is invoked for each pull reply. Pull is a reserved
	// capability: the conformance core of the cycle engine never
	// issues a pull request, so this method is never invoked by
	// worker.Worker today. It exists so that a future pull
	// sub-protocol does not require breaking this interface.
	ReturningPull(value Msg)
}
