// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package driver

import (
	"github.com/gogpu/gpucontext"
)

// DeviceHandle provides GPU device access from the host application.
//
// Hosts embedding conveyor into a larger GPU application (e.g. a gogpu
// App) implement DeviceHandle and pass it to backend constructors that
// support sharing, so that conveyor uses the host's device and queue
// instead of creating its own.
//
// DeviceHandle is an alias for gpucontext.DeviceProvider, providing a
// conveyor-specific name for the interface while maintaining full
// compatibility with the gpucontext ecosystem.
type DeviceHandle = gpucontext.DeviceProvider

// Device is the root object of a backend.
//
// A Device allocates tensors and staging buffers, creates timelines,
// bakes command lists into reusable subroutines and opens submission
// sequences. All methods are safe for concurrent use unless noted
// otherwise on the implementation.
type Device interface {
	// NewTensor allocates a device tensor of the given size in bytes.
	// If mapped is true the tensor must be host-addressable through
	// Tensor.Memory; backends that cannot map return a tensor whose
	// Mapped method reports false.
	NewTensor(size uint64, mapped bool) (Tensor, error)

	// NewBuffer allocates host-visible staging memory of the given size.
	NewBuffer(size uint64) (Buffer, error)

	// NewTimeline creates a monotonic timeline starting at initial.
	NewTimeline(initial uint64) (Timeline, error)

	// BakeSubroutine turns an ordered command list into an immutable,
	// reusable subroutine. With simultaneous set, the subroutine may be
	// enqueued again before earlier enqueues have finished executing.
	BakeSubroutine(cmds []Command, simultaneous bool) (Subroutine, error)

	// BeginSequence opens a submission builder rooted at the given
	// timeline and start value: the k-th subroutine appended to the
	// builder advances the timeline to start+k+1 on completion. A nil
	// timeline roots the sequence at a fresh device-managed timeline
	// released with the submission.
	BeginSequence(tl Timeline, start uint64) SubmissionBuilder

	// ClearTensor returns a command filling size bytes of dst at offset
	// with the given byte pattern repeated. A size of 0 means the whole
	// tensor starting at offset; an empty pattern clears to zero.
	ClearTensor(dst Tensor, pattern []byte, size, offset uint64) Command

	// RetrieveTensor returns a command copying the tensor's contents
	// into the staging buffer. Sizes must match.
	RetrieveTensor(src Tensor, dst Buffer) Command

	// UpdateTensor returns a command copying the staging buffer's
	// contents into the tensor. Sizes must match.
	UpdateTensor(src Buffer, dst Tensor) Command

	// Destroy releases the device and every resource created from it.
	// In-flight submissions are drained first.
	Destroy()
}

// Tensor is a device-resident block of memory.
type Tensor interface {
	// SizeBytes returns the tensor size in bytes.
	SizeBytes() uint64

	// Mapped reports whether the tensor is host-addressable.
	Mapped() bool

	// Memory returns the host-mapped contents of the tensor.
	// Returns nil if the tensor is not mapped.
	Memory() []byte
}

// Buffer is host-visible staging memory used for tensor transfers.
type Buffer interface {
	// SizeBytes returns the buffer size in bytes.
	SizeBytes() uint64

	// Memory returns the buffer's contents. Never nil.
	Memory() []byte
}

// Command is an opaque recorded device operation. Commands are produced
// by Device command constructors and by backend-specific sources such as
// compute program dispatches, and consumed by BakeSubroutine.
type Command any

// Subroutine is an immutable, prebaked command list. Subroutines are
// baked once and reused across arbitrarily many submissions.
type Subroutine interface {
	// Simultaneous reports whether the subroutine may be enqueued while
	// an earlier enqueue of it is still executing.
	Simultaneous() bool
}
