// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package driver

import "time"

// SubmissionBuilder accumulates a sequence of timeline waits and
// subroutine executions for a single submission.
//
// A builder is obtained from Device.BeginSequence and is rooted at a
// timeline and start value. Appended operations execute in order: a
// WaitFor blocks the device sequence until the timeline reaches the
// value, a Then runs the subroutine and, on its completion, advances the
// root timeline by one.
//
// Builders are single-use and not safe for concurrent use.
type SubmissionBuilder interface {
	// WaitFor appends a device-side wait until tl reaches value.
	WaitFor(tl Timeline, value uint64) SubmissionBuilder

	// Then appends a subroutine execution.
	Then(sub Subroutine) SubmissionBuilder

	// Submit hands the recorded sequence to the device for execution
	// and invalidates the builder.
	Submit() (Submission, error)
}

// Submission is an in-flight or finished batch of device work.
type Submission interface {
	// Wait blocks until every subroutine of the submission has
	// finished executing.
	Wait() error

	// WaitTimeout blocks until the submission finished or the timeout
	// elapsed, reporting whether it finished.
	WaitTimeout(timeout time.Duration) bool

	// FinalStep returns the value the root timeline reaches when the
	// last subroutine of this submission completes.
	FinalStep() uint64

	// Forgettable reports whether the submission may be dropped without
	// waiting on it, i.e. it holds no resources that must outlive its
	// execution. Schedulers require forgettable submissions.
	Forgettable() bool
}
