// Copyright 2024 The Saddlebag Authors.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package table implements the typed container of items for one
// table-id, as described in spec.md §4.4.
package table

import (
	"github.com/saddlebag/saddlebag/internal/keyhash"
	"github.com/saddlebag/saddlebag/internal/openmap"
	"github.com/saddlebag/saddlebag/item"
	"github.com/saddlebag/saddlebag/message"
)

// ApplyStatus reports the outcome of delivering a message to a table,
// mirroring the status enum spec.md §4.4 and §6 specify.
type ApplyStatus int

const (
	// FoundExistingLocal means the destination item already existed on
	// this worker and received the message.
	FoundExistingLocal ApplyStatus = iota
	// CreatedNewLocal means the destination item did not exist, the
	// table's create-on-push policy allowed it, and the new item
	// received the message.
	CreatedNewLocal
	// IgnoredNewLocal means the destination item did not exist and
	// create-on-push is disallowed (or not requested), so the message
	// was dropped.
	IgnoredNewLocal
	// IgnoredNewRemote means the message's destination does not belong
	// to this worker at all; the sender mis-routed it. This is a bug
	// path, not a normal runtime outcome.
	IgnoredNewRemote
)

func (s ApplyStatus) String() string {
	switch s {
	case FoundExistingLocal:
		return "FOUND_EXISTING_LOCAL"
	case CreatedNewLocal:
		return "CREATED_NEW_LOCAL"
	case IgnoredNewLocal:
		return "IGNORED_NEW_LOCAL"
	case IgnoredNewRemote:
		return "IGNORED_NEW_REMOTE"
	default:
		return "UNKNOWN"
	}
}

// Factory constructs a fresh, zero-value item bound to (tableKey,
// itemKey). Tables are invariant in their item type once constructed,
// so a single Factory serves the whole table's lifetime.
type Factory[TableKey comparable, ItemKey comparable, Msg any] func(tableKey TableKey, itemKey ItemKey) item.Item[TableKey, ItemKey, Msg]

// HomeTest reports whether itemKey's home partition is this worker,
// i.e. get_partition(tableKey, itemKey) == self. Table uses it to
// reject mis-routed Apply calls with IgnoredNewRemote.
type HomeTest[TableKey comparable, ItemKey comparable] func(tableKey TableKey, itemKey ItemKey) bool

// Table is a typed container of items for one table-id. It holds the
// local partition's items in an open-addressing map keyed by ItemKey;
// the optional replica map spec.md describes is reserved metadata not
// used by the core protocol and is not implemented here (see
// SPEC_FULL.md §4.4).
type Table[TableKey comparable, ItemKey comparable, Msg any] struct {
	Key            TableKey
	IsGlobal       bool
	CreateOnPush   bool
	newItem        Factory[TableKey, ItemKey, Msg]
	isHome         HomeTest[TableKey, ItemKey]
	items          *openmap.Map[ItemKey, item.Item[TableKey, ItemKey, Msg]]
}

// New constructs a Table for tableKey. createOnPush governs the
// create-on-push policy spec.md §3 and §4.6 describe; the
// specification's default is enabled.
func New[TableKey comparable, ItemKey comparable, Msg any](
	tableKey TableKey,
	isGlobal bool,
	createOnPush bool,
	seed uint32,
	factory Factory[TableKey, ItemKey, Msg],
	isHome HomeTest[TableKey, ItemKey],
) *Table[TableKey, ItemKey, Msg] {
	return &Table[TableKey, ItemKey, Msg]{
		Key:          tableKey,
		IsGlobal:     isGlobal,
		CreateOnPush: createOnPush,
		newItem:      factory,
		isHome:       isHome,
		items: openmap.New[ItemKey, item.Item[TableKey, ItemKey, Msg]](
			func(k ItemKey) uint32 { return keyhash.Of(seed, k) },
		),
	}
}

// CreateNewItem constructs an item for key, binds it, and invokes
// OnCreate then Refresh, as spec.md §4.4 specifies. It does not check
// whether key already exists; callers must do that first.
func (t *Table[TableKey, ItemKey, Msg]) CreateNewItem(key ItemKey) item.Item[TableKey, ItemKey, Msg] {
	it := t.newItem(t.Key, key)
	if b, ok := it.(interface {
		Bind(TableKey, ItemKey)
	}); ok {
		b.Bind(t.Key, key)
	}
	it.OnCreate()
	it.Refresh()
	t.items.Insert(key, it)
	return it
}

// Refresh re-invokes Refresh on an existing item. It implements the
// idempotent-AddItem invariant from spec.md §8: a second AddItem for
// the same local key returns the same pointer and calls Refresh, not
// OnCreate.
func (t *Table[TableKey, ItemKey, Msg]) Refresh(it item.Item[TableKey, ItemKey, Msg]) {
	it.Refresh()
}

// Find returns the item for key, if present in this worker's local
// partition.
func (t *Table[TableKey, ItemKey, Msg]) Find(key ItemKey) (item.Item[TableKey, ItemKey, Msg], bool) {
	return t.items.Find(key)
}

// Apply delivers msg to its destination item, as spec.md §4.4
// specifies: look up msg.DestItem; if present, invoke OnPushRecv and
// report FoundExistingLocal; else, if createIfAbsent (the table's
// create-on-push policy), create the item and report CreatedNewLocal;
// else report IgnoredNewLocal. Messages whose destination is not
// homed on this worker are rejected with IgnoredNewRemote without
// being delivered.
func (t *Table[TableKey, ItemKey, Msg]) Apply(msg message.Message[TableKey, ItemKey, Msg]) ApplyStatus {
	if t.isHome != nil && !t.isHome(msg.DestTable, msg.DestItem) {
		return IgnoredNewRemote
	}
	if it, ok := t.items.Find(msg.DestItem); ok {
		deliver(it, msg.Value)
		return FoundExistingLocal
	}
	if !t.CreateOnPush {
		return IgnoredNewLocal
	}
	it := t.CreateNewItem(msg.DestItem)
	deliver(it, msg.Value)
	return CreatedNewLocal
}

func deliver[TableKey comparable, ItemKey comparable, Msg any](it item.Item[TableKey, ItemKey, Msg], value Msg) {
	if b, ok := it.(item.SeqnumBumper); ok {
		b.BumpSeqnum()
	}
	it.OnPushRecv(value)
}

// Items returns the table's item map for iteration (used by the
// cycle engine's work phase).
func (t *Table[TableKey, ItemKey, Msg]) Items() *openmap.Map[ItemKey, item.Item[TableKey, ItemKey, Msg]] {
	return t.items
}

// Len returns the number of items homed on this worker for this table.
func (t *Table[TableKey, ItemKey, Msg]) Len() int { return t.items.Len() }
