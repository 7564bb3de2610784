package cpu

import (
	"fmt"
	"time"

	"github.com/gogpu/conveyor/driver"
)

// opKind discriminates recorded submission operations.
type opKind int

const (
	opWait opKind = iota
	opRun
)

// op is one recorded operation of a submission sequence.
type op struct {
	kind  opKind
	tl    *timeline
	value uint64
	sub   *subroutine
}

// builder accumulates a submission sequence. Builders are single-use.
type builder struct {
	dev   *Device
	tl    *timeline
	start uint64
	ops   []op
	runs  uint64
	err   error
	done  bool
}

// WaitFor appends a wait until tl reaches value.
func (b *builder) WaitFor(tl driver.Timeline, value uint64) driver.SubmissionBuilder {
	root, ok := tl.(*timeline)
	if !ok {
		if b.err == nil {
			b.err = fmt.Errorf("%w: timeline %T", ErrForeignResource, tl)
		}
		return b
	}
	b.ops = append(b.ops, op{kind: opWait, tl: root, value: value})
	return b
}

// Then appends a subroutine execution.
func (b *builder) Then(sub driver.Subroutine) driver.SubmissionBuilder {
	s, ok := sub.(*subroutine)
	if !ok {
		if b.err == nil {
			b.err = fmt.Errorf("%w: subroutine %T", ErrForeignResource, sub)
		}
		return b
	}
	b.ops = append(b.ops, op{kind: opRun, sub: s})
	b.runs++
	return b
}

// Submit hands the sequence to the device executor.
func (b *builder) Submit() (driver.Submission, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.done {
		return nil, fmt.Errorf("cpu: builder already submitted")
	}
	b.done = true

	s := &submission{
		tl:    b.tl,
		ops:   b.ops,
		start: b.start,
		final: b.start + b.runs,
	}
	if err := b.dev.enqueue(s); err != nil {
		return nil, err
	}
	return s, nil
}

// submission is an in-flight or finished recorded sequence.
type submission struct {
	tl    *timeline
	ops   []op
	start uint64
	final uint64
}

// execute runs on the device executor goroutine.
func (s *submission) execute() {
	completed := s.start
	for _, o := range s.ops {
		switch o.kind {
		case opWait:
			o.tl.Wait(o.value)
		case opRun:
			for _, cmd := range o.sub.cmds {
				s.runCommand(cmd)
			}
			completed++
			s.tl.SetValue(completed)
		}
	}
}

// runCommand shields the executor from command failures and panics; a
// dead executor would stall every timeline behind it.
func (s *submission) runCommand(cmd command) {
	defer func() {
		if r := recover(); r != nil {
			slogger().Warn("panic in device command", "panic", r)
		}
	}()
	if err := cmd(); err != nil {
		slogger().Warn("device command failed", "error", err)
	}
}

// Wait blocks until the last subroutine of the submission finished.
func (s *submission) Wait() error {
	s.tl.Wait(s.final)
	return nil
}

// WaitTimeout bounds Wait, reporting whether the submission finished.
func (s *submission) WaitTimeout(timeout time.Duration) bool {
	return s.tl.WaitTimeout(s.final, timeout)
}

// FinalStep returns the root timeline value reached on completion.
func (s *submission) FinalStep() uint64 { return s.final }

// Forgettable reports that the submission holds no resources that must
// outlive its execution. Always true for this backend.
func (s *submission) Forgettable() bool { return true }
