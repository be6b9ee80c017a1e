// Copyright 2024 The Saddlebag Authors.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package substrate specifies the capability surface the cycle engine
// requires of the underlying one-sided communication layer: process
// identity and team discovery, barriers, shared-segment allocation, a
// distributed-object publish/lookup primitive, and one-sided reads.
// spec.md §6 enumerates exactly this list; saddlebag implements only
// what that list requires, not a general-purpose RPC or PGAS runtime.
//
// Two backends are provided: substrate/local, which runs every rank
// as a goroutine sharing one address space (so every Handle is
// always local and the cycle engine always takes its all-local fast
// path), and substrate/rpcnet, which runs one rank per OS process and
// emulates one-sided reads with request/reply RPC over
// github.com/grailbio/bigmachine, the same "vertically integrated
// stack" bigmachine's own package doc describes bigslice as using.
package substrate

import "context"

// Scope selects the set of ranks a Barrier synchronizes.
type Scope int

const (
	// Global synchronizes every rank in the run.
	Global Scope = iota
	// Local synchronizes only the ranks that share this OS process
	// group (this rank's LocalTeam).
	Local
)

// Handle is a globally addressable reference into some rank's shared
// segment. A Handle may be resolved to a local byte slice when it
// refers into the resolver's own address space; Bytes is non-nil
// exactly in that case, giving direct pointer access without an RPC
// round trip — the "all-local fast path" spec.md §4.6 describes.
type Handle struct {
	// Rank is the rank that owns the memory this handle refers to.
	Rank int
	// Bytes returns a direct view of the referenced memory when it is
	// local to the calling process. It is nil for handles owned by a
	// genuinely remote rank.
	Bytes func() []byte
	// Opaque carries backend-specific bookkeeping (e.g. rpcnet's
	// allocation id) needed to satisfy RgetWord/RgetBytes/Publish for
	// a non-local handle. Callers outside the owning backend must
	// treat it as opaque.
	Opaque any
}

// IsLocal reports whether h refers into the calling process's own
// address space, i.e. whether direct pointer access (rather than a
// one-sided read) is available.
func (h Handle) IsLocal() bool { return h.Bytes != nil }

// Substrate is the set of capabilities the worker package requires.
// Implementations need not be safe for concurrent use from multiple
// goroutines representing the *same* rank; the cycle engine drives
// each rank from a single thread of control, exactly as spec.md §5
// specifies.
type Substrate interface {
	// Init performs any one-time setup (e.g., establishing a local
	// team, connecting to peers) and must be called before any other
	// method.
	Init(ctx context.Context) error
	// Finalize releases resources. After Finalize, no other method may
	// be called.
	Finalize() error

	// RankMe returns this process's rank in [0, RankN()).
	RankMe() int
	// RankN returns the total number of ranks in the run.
	RankN() int
	// LocalTeam returns the ranks that share this OS process group
	// with RankMe(), including RankMe() itself.
	LocalTeam() []int

	// Barrier blocks until every rank in scope has called Barrier with
	// the same scope for this generation.
	Barrier(ctx context.Context, scope Scope) error

	// Alloc reserves size bytes in this rank's shared segment and
	// returns a Handle to it. Alloc is only ever called during worker
	// construction, before the first cycle.
	Alloc(size int) (Handle, error)

	// Publish makes a Handle owned by this rank discoverable under key
	// to every other rank, via Lookup.
	Publish(ctx context.Context, key string, h Handle) error
	// Lookup resolves a Handle previously Published by rank under key.
	// It blocks until the publishing rank has called Publish.
	Lookup(ctx context.Context, rank int, key string) (Handle, error)

	// RgetWord one-sidedly reads a single 64-bit word from h.
	RgetWord(ctx context.Context, h Handle) (uint64, error)
	// RgetBytes one-sidedly reads n bytes starting at h.
	RgetBytes(ctx context.Context, h Handle, n int) ([]byte, error)

	// Progress services incoming one-sided operations targeting this
	// rank. The cycle engine calls it periodically during long loops
	// over peers, as spec.md §5 requires.
	Progress()
}
