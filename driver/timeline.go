// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package driver

import "time"

// Timeline is a monotonically increasing 64-bit counter with blocking
// waits.
//
// Timelines are the synchronization primitive of the scheduling layer:
// host workers advance them with SetValue, GPU submissions advance them
// on subroutine completion, and both host and device side can wait on a
// value being reached. Values only ever grow.
type Timeline interface {
	// Value returns the current counter value.
	Value() uint64

	// SetValue advances the counter to v, waking all waiters whose
	// target is now reached. Setting a value below the current one is a
	// backend error; implementations may panic or ignore it.
	SetValue(v uint64)

	// Wait blocks until the counter reaches at least v.
	Wait(v uint64)

	// WaitTimeout blocks until the counter reaches at least v or the
	// timeout elapses. It reports whether the value was reached. A zero
	// timeout polls the current state.
	WaitTimeout(v uint64, timeout time.Duration) bool

	// Destroy releases the timeline. Waiting on a destroyed timeline is
	// undefined.
	Destroy()
}
