package pipeline

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/gogpu/conveyor/driver"
)

// DynamicTask is an open-ended task: it declares how many batches to
// run initially and may request additional batches each time one
// finishes, e.g. for iterative refinement until statistical
// convergence.
//
// Implementations embed a [TaskBase] (which provides the params and
// bookkeeping) and implement ProcessBatch.
type DynamicTask interface {
	// Params returns the parameters applied to the pipeline for every
	// batch of this task.
	Params() Params

	// ProcessBatch inspects the finished batch's results in the given
	// configuration slot and returns the number of additional batches
	// to queue. It runs on the scheduler's process goroutine.
	ProcessBatch(slot int) int

	// base exposes the embedded bookkeeping. Implemented by TaskBase.
	base() *TaskBase
}

// TaskBase carries the bookkeeping of a DynamicTask. Embed it by
// pointer in concrete task types:
//
//	type refineTask struct {
//	    *pipeline.TaskBase
//	    …
//	}
//
//	task := &refineTask{TaskBase: pipeline.NewTaskBase(params, 4)}
type TaskBase struct {
	params    Params
	remaining int
	finished  chan struct{}
}

// NewTaskBase creates the bookkeeping for a task that issues
// initialBatches batches when scheduled; each finished batch may
// request more.
func NewTaskBase(params Params, initialBatches int) *TaskBase {
	return &TaskBase{
		params:    params,
		remaining: initialBatches,
		finished:  make(chan struct{}),
	}
}

// Params returns the task's parameters.
func (b *TaskBase) Params() Params { return b.params }

// IsFinished reports whether all batches of the task, including
// dynamically added ones, have been processed.
func (b *TaskBase) IsFinished() bool {
	select {
	case <-b.finished:
		return true
	default:
		return false
	}
}

// WaitFinished blocks until the task has fully finished.
func (b *TaskBase) WaitFinished() { <-b.finished }

func (b *TaskBase) base() *TaskBase { return b }

// DynamicTaskScheduler schedules open-ended tasks whose batch counts
// grow in response to their own results.
//
// It wraps a Scheduler whose process callback dispatches to the task's
// ProcessBatch and reissues the requested batches. Because finished
// batches schedule follow-up work from the process goroutine while user
// code schedules new tasks concurrently, all access to the underlying
// scheduler is serialized by a lock.
//
// The underlying task queue is unbounded: a bounded queue could fill
// with batches whose progress depends on the process goroutine, which
// would then deadlock trying to push follow-up batches.
type DynamicTaskScheduler struct {
	sched *Scheduler

	// mu serializes scheduling and the in-flight bookkeeping.
	mu       sync.Mutex
	inflight int
	allDone  *sync.Cond

	// completed collects finished tasks for WaitNext.
	completed     list.List
	completedCond *sync.Cond
}

// NewDynamicTaskScheduler creates a dynamic task scheduler over the
// given pipeline.
func NewDynamicTaskScheduler(dev driver.Device, pipe *Pipeline) (*DynamicTaskScheduler, error) {
	d := &DynamicTaskScheduler{}
	d.allDone = sync.NewCond(&d.mu)
	d.completedCond = sync.NewCond(&d.mu)

	s, err := NewScheduler(dev, pipe, SchedulerConfig{Process: d.processBatch})
	if err != nil {
		return nil, err
	}
	d.sched = s
	return d, nil
}

// Scheduler returns the wrapped scheduler.
func (d *DynamicTaskScheduler) Scheduler() *Scheduler { return d.sched }

// Schedule issues the task's initial batches. The task finishes once
// all batches, including dynamically requested ones, are processed.
func (d *DynamicTaskScheduler) Schedule(task DynamicTask) error {
	return d.ScheduleTasks(task)
}

// ScheduleTasks issues the initial batches of several tasks.
func (d *DynamicTaskScheduler) ScheduleTasks(tasks ...DynamicTask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sched.Destroyed() {
		return ErrSchedulerDestroyed
	}
	for _, task := range tasks {
		b := task.base()
		if b.remaining <= 0 {
			// Nothing to run; complete immediately.
			close(b.finished)
			d.completed.PushBack(task)
			d.completedCond.Signal()
			continue
		}
		d.inflight++
		if err := d.issueLocked(task, b.remaining); err != nil {
			return err
		}
	}
	return nil
}

// issueLocked schedules count identical batches carrying the task as
// payload. The caller must hold d.mu. It loops until every batch is
// accepted so that it stays correct even if the underlying scheduler
// is ever given a bounded queue.
func (d *DynamicTaskScheduler) issueLocked(task DynamicTask, count int) error {
	batch := Task{Params: task.Params(), Args: task}
	for issued := 0; issued < count; {
		tasks := make([]Task, count-issued)
		for i := range tasks {
			tasks[i] = batch
		}
		n, _, err := d.sched.Schedule(tasks)
		if err != nil {
			return fmt.Errorf("pipeline: issuing batches: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("pipeline: issuing batches: no batch accepted")
		}
		issued += n
	}
	return nil
}

// processBatch is the wrapped scheduler's process callback.
func (d *DynamicTaskScheduler) processBatch(slot int, batch uint64, args any) {
	task, ok := args.(DynamicTask)
	if !ok {
		slogger().Warn("dropping batch result", "batch", batch,
			"error", fmt.Errorf("%w: payload %T is no dynamic task", ErrInvalidTask, args))
		return
	}

	// The task's callback is user code; a failure must not break the
	// bookkeeping or the task would never finish.
	extra := func() (extra int) {
		defer func() {
			if r := recover(); r != nil {
				slogger().Warn("panic in ProcessBatch", "batch", batch, "panic", r)
				extra = 0
			}
		}()
		return task.ProcessBatch(slot)
	}()

	d.mu.Lock()
	defer d.mu.Unlock()

	b := task.base()
	b.remaining += extra - 1
	if extra > 0 {
		if err := d.issueLocked(task, extra); err != nil {
			slogger().Warn("issuing follow-up batches failed", "batch", batch, "error", err)
			b.remaining -= extra
		}
	}
	if b.remaining == 0 {
		close(b.finished)
		d.completed.PushBack(task)
		d.completedCond.Signal()
		d.inflight--
		if d.inflight == 0 {
			d.allDone.Broadcast()
		}
	}
}

// WaitNext blocks until some task finishes and returns it. Tasks are
// returned in completion order, each exactly once. Calling WaitNext
// with no task in flight and none completed blocks forever.
func (d *DynamicTaskScheduler) WaitNext() DynamicTask {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.completed.Len() == 0 {
		d.completedCond.Wait()
	}
	front := d.completed.Front()
	d.completed.Remove(front)
	return front.Value.(DynamicTask)
}

// WaitAll blocks until every scheduled task has finished.
func (d *DynamicTaskScheduler) WaitAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.inflight > 0 {
		d.allDone.Wait()
	}
}

// Destroy drains in-flight work and destroys the wrapped scheduler.
func (d *DynamicTaskScheduler) Destroy() {
	d.WaitAll()
	d.sched.Destroy()
}
