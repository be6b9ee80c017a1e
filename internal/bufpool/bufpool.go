// Copyright 2024 The Saddlebag Authors.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package bufpool holds the per-peer outgoing message buffers spec.md
// §4.5 describes: one array of capacity M per peer plus an
// unconditionally-incrementing counter, published through a
// substrate.Substrate so peers can address them, and resolved once at
// bootstrap into direct or one-sided read handles.
//
// The wire representation of a published buffer is deliberately
// simple: an 8-byte little-endian counter followed by a gob stream of
// min(count, M) messages, all inside one substrate.Handle allocation.
// The teacher reaches for encoding/gob everywhere a value must survive
// a process boundary (task.go, bigmachine.go); this package does the
// same rather than hand-rolling a fixed-layout wire format for
// TableKey/ItemKey/Msg, which are arbitrary comparable/any type
// parameters at this layer.
package bufpool

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"sync/atomic"

	"github.com/saddlebag/saddlebag/message"
	"github.com/saddlebag/saddlebag/substrate"
)

const counterBytes = 8

// Pool is the full set of per-peer buffers owned by one rank.
type Pool[TableKey comparable, ItemKey comparable, Msg any] struct {
	rank, n, m int

	send      [][]message.Message[TableKey, ItemKey, Msg]
	sendCount []atomic.Int64

	local  []substrate.Handle // this rank's own published buffer-for-peer-p allocations
	remote []substrate.Handle // peer p's buffer addressed to this rank, resolved once

	overflow atomic.Int64 // count of enqueues observed past capacity, this cycle
}

// New returns a Pool for a rank in an n-rank world, with capacity m
// messages per peer buffer.
func New[TableKey comparable, ItemKey comparable, Msg any](rank, n, m int) *Pool[TableKey, ItemKey, Msg] {
	return &Pool[TableKey, ItemKey, Msg]{
		rank:      rank,
		n:         n,
		m:         m,
		send:      make([][]message.Message[TableKey, ItemKey, Msg], n),
		sendCount: make([]atomic.Int64, n),
		local:     make([]substrate.Handle, n),
		remote:    make([]substrate.Handle, n),
	}
}

func bufKey(from, to int) string { return fmt.Sprintf("saddlebag/buf/%d/%d", from, to) }

// wireSize estimates the largest size a peer's published buffer needs:
// the counter plus a generous cushion over the sampled message size to
// absorb gob's framing overhead. It is an estimate, not a bound;
// Publish reports an error if an encoded buffer does not fit. Grounded in the teacher's taskBuffer, which
// likewise pre-sizes its column backing arrays once at construction
// and never grows them mid-run.
func wireSize[TableKey comparable, ItemKey comparable, Msg any](m int) int {
	var zero message.Message[TableKey, ItemKey, Msg]
	var one, many bytes.Buffer
	_ = gob.NewEncoder(&one).Encode([]message.Message[TableKey, ItemKey, Msg]{zero})
	_ = gob.NewEncoder(&many).Encode([]message.Message[TableKey, ItemKey, Msg]{zero, zero, zero, zero})
	// perMsg is a conservative per-element cost derived from the delta
	// between a one- and four-element encoding, so the fixed type
	// descriptor gob sends once doesn't get amortized away to zero.
	perMsg := (many.Len()-one.Len())/3 + 1
	base := one.Len()
	// Generous cushion: zero-valued samples underestimate gob's varint
	// encoding of larger field values, and callers never resize a
	// buffer mid-run, so wireSize errs well on the large side.
	return counterBytes + base + (perMsg+8)*(m+1) + 1024
}

// Bootstrap allocates this rank's N per-peer buffers from sub,
// publishes their handles, then resolves every peer's buffer that is
// addressed back at this rank. It must be called exactly once, before
// the first cycle, on every rank (spec.md §4.5's "bootstrap" step).
func (p *Pool[TableKey, ItemKey, Msg]) Bootstrap(ctx context.Context, sub substrate.Substrate) error {
	size := wireSize[TableKey, ItemKey, Msg](p.m)
	for peer := 0; peer < p.n; peer++ {
		h, err := sub.Alloc(size)
		if err != nil {
			return fmt.Errorf("bufpool: alloc buffer for peer %d: %w", peer, err)
		}
		p.local[peer] = h
		if err := sub.Publish(ctx, bufKey(p.rank, peer), h); err != nil {
			return fmt.Errorf("bufpool: publish buffer for peer %d: %w", peer, err)
		}
	}
	for peer := 0; peer < p.n; peer++ {
		h, err := sub.Lookup(ctx, peer, bufKey(peer, p.rank))
		if err != nil {
			return fmt.Errorf("bufpool: lookup buffer from peer %d: %w", peer, err)
		}
		p.remote[peer] = h
	}
	return nil
}

// Enqueue appends msg to the outgoing buffer for dest, incrementing
// dest's counter unconditionally. Past capacity M the message is
// dropped but the counter keeps climbing, exactly as spec.md §4.5, §9
// specify: overflow must remain observable, not silently absorbed.
func (p *Pool[TableKey, ItemKey, Msg]) Enqueue(dest int, msg message.Message[TableKey, ItemKey, Msg]) {
	next := p.sendCount[dest].Add(1)
	idx := next - 1
	if idx < int64(p.m) {
		if p.send[dest] == nil {
			p.send[dest] = make([]message.Message[TableKey, ItemKey, Msg], p.m)
		}
		p.send[dest][idx] = msg
	} else {
		p.overflow.Add(1)
	}
}

// OverflowStatus reports the largest send counter observed and
// whether any exceeds capacity M, the check phase 1 (validate) runs
// each cycle.
func (p *Pool[TableKey, ItemKey, Msg]) OverflowStatus() (max int64, overflowed bool) {
	for peer := 0; peer < p.n; peer++ {
		c := p.sendCount[peer].Load()
		if c > max {
			max = c
		}
		if c > int64(p.m) {
			overflowed = true
		}
	}
	return max, overflowed
}

// RecommendedSize rounds a required capacity up to the next multiple
// of 1000 (for capacities up to 1,000,000, with a minimum of 1000) or
// of 1,000,000 (above that).
func RecommendedSize(observedMax int64) int64 {
	switch {
	case observedMax <= 1000:
		return 1000
	case observedMax <= 1_000_000:
		n := observedMax
		return ((n + 999) / 1000) * 1000
	default:
		n := observedMax
		return ((n + 999_999) / 1_000_000) * 1_000_000
	}
}

// Publish serializes each per-peer outgoing buffer into this rank's
// own segment allocation so peers can resolve it, whether by direct
// pointer (co-located) or one-sided read (remote). Called once per
// cycle, at the start of phase 2 (exchange).
func (p *Pool[TableKey, ItemKey, Msg]) Publish() error {
	for peer := 0; peer < p.n; peer++ {
		count := p.sendCount[peer].Load()
		truncated := count
		if truncated > int64(p.m) {
			truncated = int64(p.m)
		}
		var payload bytes.Buffer
		if truncated > 0 {
			if err := gob.NewEncoder(&payload).Encode(p.send[peer][:truncated]); err != nil {
				return fmt.Errorf("bufpool: encode buffer for peer %d: %w", peer, err)
			}
		}
		dst := p.local[peer].Bytes()
		if dst == nil {
			return fmt.Errorf("bufpool: own allocation for peer %d has no local view", peer)
		}
		if counterBytes+payload.Len() > len(dst) {
			return fmt.Errorf("bufpool: encoded buffer for peer %d (%d bytes) exceeds allocation (%d bytes)",
				peer, counterBytes+payload.Len(), len(dst))
		}
		binary.LittleEndian.PutUint64(dst[:counterBytes], uint64(count))
		copy(dst[counterBytes:], payload.Bytes())
	}
	return nil
}

// Drain fetches the messages peer has published for this rank: a
// direct read when the resolved handle is local (the all-local fast
// path spec.md §4.6 describes), a one-sided substrate read otherwise.
// It returns the messages actually delivered (already truncated at M
// by the sender) and whether the sender's counter had exceeded M.
func (p *Pool[TableKey, ItemKey, Msg]) Drain(ctx context.Context, sub substrate.Substrate, peer int) (msgs []message.Message[TableKey, ItemKey, Msg], senderOverflowed bool, err error) {
	h := p.remote[peer]
	size := wireSize[TableKey, ItemKey, Msg](p.m)

	var raw []byte
	if h.IsLocal() {
		raw = h.Bytes()
	} else {
		raw, err = sub.RgetBytes(ctx, h, size)
		if err != nil {
			return nil, false, fmt.Errorf("bufpool: rget buffer from peer %d: %w", peer, err)
		}
	}
	if len(raw) < counterBytes {
		return nil, false, fmt.Errorf("bufpool: buffer from peer %d too short (%d bytes)", peer, len(raw))
	}
	count := binary.LittleEndian.Uint64(raw[:counterBytes])
	senderOverflowed = count > uint64(p.m)
	truncated := count
	if truncated > uint64(p.m) {
		truncated = uint64(p.m)
	}
	if truncated == 0 {
		return nil, senderOverflowed, nil
	}
	var decoded []message.Message[TableKey, ItemKey, Msg]
	if err := gob.NewDecoder(bytes.NewReader(raw[counterBytes:])).Decode(&decoded); err != nil {
		return nil, senderOverflowed, fmt.Errorf("bufpool: decode buffer from peer %d: %w", peer, err)
	}
	if uint64(len(decoded)) > truncated {
		decoded = decoded[:truncated]
	}
	return decoded, senderOverflowed, nil
}

// TruncatedCount reports how many messages peer's outgoing buffer
// actually holds this cycle: min(sendCount[peer], M), the count that
// survives Publish regardless of overflow.
func (p *Pool[TableKey, ItemKey, Msg]) TruncatedCount(peer int) int64 {
	c := p.sendCount[peer].Load()
	if c > int64(p.m) {
		return int64(p.m)
	}
	return c
}

// IsLocal reports whether peer's buffer resolved to a co-located
// handle, i.e. whether Drain(peer) avoids a one-sided read.
func (p *Pool[TableKey, ItemKey, Msg]) IsLocal(peer int) bool { return p.remote[peer].IsLocal() }

// Clear zeroes every send counter and the cycle's overflow tally,
// phase 3 (clear) of the cycle protocol.
func (p *Pool[TableKey, ItemKey, Msg]) Clear() {
	for peer := 0; peer < p.n; peer++ {
		p.sendCount[peer].Store(0)
	}
	p.overflow.Store(0)
}

// OverflowCount reports enqueues dropped past capacity this cycle.
func (p *Pool[TableKey, ItemKey, Msg]) OverflowCount() int64 { return p.overflow.Load() }
