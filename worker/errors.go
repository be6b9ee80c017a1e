// Copyright 2024 The Saddlebag Authors.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package worker

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// Kind identifies the sticky worker error codes spec.md §7 defines.
// Malformed messages and mis-routed applies are counted but never
// escalate to a Kind: only setup and buffer-capacity failures do.
type Kind int

const (
	// KindOutOfMemory means buffer allocation during construction
	// failed. Fatal: the caller should abort the process after
	// reporting it.
	KindOutOfMemory Kind = iota + 1
	// KindNotEnoughBufferSpace means some peer's send counter exceeded
	// its buffer's capacity M. Sticky but not fatal to the run: cycles
	// continue so peers do not deadlock at the barrier.
	KindNotEnoughBufferSpace
)

func (k Kind) String() string {
	switch k {
	case KindOutOfMemory:
		return "ERROR_OUT_OF_MEMORY"
	case KindNotEnoughBufferSpace:
		return "ERROR_NOT_ENOUGH_BUFFER_SPACE"
	default:
		return "ERROR_UNKNOWN"
	}
}

// Error is the sticky, worker-level error spec.md §7 describes.
// RecommendedNextSize is populated only for KindNotEnoughBufferSpace,
// rounded up to the next 10^3 or 10^6 boundary as the spec requires
// (see bufpool.RecommendedSize).
type Error struct {
	Kind                Kind
	RecommendedNextSize int64
	Cause               error
}

func (e *Error) Error() string {
	if e.RecommendedNextSize > 0 {
		return fmt.Sprintf("%s: %v (recommended next size %d)", e.Kind, e.Cause, e.RecommendedNextSize)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func newOutOfMemoryError(cause error) *Error {
	return &Error{Kind: KindOutOfMemory, Cause: errors.E(errors.Fatal, cause)}
}

func newOverflowError(observedMax, recommendedSize int64) *Error {
	return &Error{
		Kind:                KindNotEnoughBufferSpace,
		RecommendedNextSize: recommendedSize,
		Cause:               errors.E(errors.Fatal, fmt.Sprintf("send buffer overflowed: max observed count %d", observedMax)),
	}
}
