// Copyright 2024 The Saddlebag Authors.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package message defines the wire record exchanged between items.
package message

// Message is the record carried between items. Msg should be a plain
// data type (no pointers, slices, maps, or interfaces); nothing checks
// this, and any type encoding/gob can encode is carried.
//
// Fields are exported so that Message can be gob-encoded when it is
// published into a peer buffer (see internal/bufpool), the same
// encoding the teacher uses for every value that leaves a machine's
// address space (bigmachine.go's use of encoding/gob throughout
// worker.Run).
type Message[TableKey comparable, ItemKey comparable, Msg any] struct {
	SrcTable  TableKey
	DestTable TableKey
	SrcItem   ItemKey
	DestItem  ItemKey
	Value     Msg
}
