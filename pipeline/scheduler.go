package pipeline

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gogpu/conveyor/driver"
)

// Task is one unit of work for a Scheduler: a set of parameters applied
// to a pipeline before running its subroutine once.
type Task struct {
	// Pipeline names the target pipeline. Required by schedulers
	// created with NewMultiScheduler; ignored by NewScheduler.
	Pipeline string

	// Params are applied to the pipeline via SetParams before the task
	// runs.
	Params Params

	// Args is an opaque payload carried verbatim to the process
	// callback.
	Args any
}

// ProcessFunc runs after each finished task. slot is the configuration
// slot the task used, batch the task index (0 for the first task
// scheduled, 1 for the second, …) and args the task's payload. The
// device does not run the next task on the same slot while the
// callback runs; the slot's parameter tensors may already be
// republished for that task. ProcessFunc executes on the scheduler's
// process worker goroutine.
type ProcessFunc func(slot int, batch uint64, args any)

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// QueueSize bounds the task queue. Zero means unbounded.
	QueueSize int

	// Process, if set, runs after every finished task on a dedicated
	// worker goroutine.
	Process ProcessFunc
}

// updateItem is one queued parameter update.
type updateItem struct {
	pipe   *Pipeline
	params Params
}

// Scheduler streams tasks through pipelines and orchestrates the
// processing of their results. Tasks are bundled into single batch
// submissions, making the scheduler more efficient than repeatedly
// calling Run or RunAsync on a pipeline.
//
// Scheduling happens completely in the background: an update worker
// publishes each task's parameters into the slot the task will use, the
// device runs the pipeline's subroutine for that slot, and an optional
// process worker hands finished results to user code. Three timelines
// interlock the actors so that with only two configuration slots the
// host may prepare task n while the device still executes task n-1 and
// user code still reads the results of task n-2.
//
// The scheduler requires exclusive access to both configuration slots
// of its pipelines but may otherwise share them. Concurrent calls to
// Schedule on the same Scheduler are not supported.
type Scheduler struct {
	dev       driver.Device
	pipelines map[string]*Pipeline
	single    *Pipeline

	gpuTL     driver.Timeline
	updateTL  driver.Timeline
	processTL driver.Timeline

	updateWorker  *Worker
	processWorker *Worker

	updateQueue *taskQueue
	argsQueue   *taskQueue

	processFn ProcessFunc

	// totalTasks is written only by the thread calling Schedule and
	// read from accessors.
	totalTasks atomic.Uint64

	destroyed atomic.Bool
}

// NewScheduler creates a scheduler over a single pipeline. Task
// pipeline names are ignored.
func NewScheduler(dev driver.Device, pipe *Pipeline, cfg SchedulerConfig) (*Scheduler, error) {
	s, err := newScheduler(dev, map[string]*Pipeline{"": pipe}, cfg)
	if err != nil {
		return nil, err
	}
	s.single = pipe
	return s, nil
}

// NewMultiScheduler creates a scheduler over several named pipelines.
// Tasks select their pipeline by name; tasks naming an unknown pipeline
// are skipped with a warning.
func NewMultiScheduler(dev driver.Device, pipelines map[string]*Pipeline, cfg SchedulerConfig) (*Scheduler, error) {
	return newScheduler(dev, pipelines, cfg)
}

func newScheduler(dev driver.Device, pipelines map[string]*Pipeline, cfg SchedulerConfig) (*Scheduler, error) {
	if len(pipelines) == 0 {
		return nil, fmt.Errorf("pipeline: scheduler needs at least one pipeline")
	}
	s := &Scheduler{
		dev:         dev,
		pipelines:   pipelines,
		updateQueue: newTaskQueue(cfg.QueueSize),
		processFn:   cfg.Process,
	}

	var err error
	if s.gpuTL, err = dev.NewTimeline(0); err != nil {
		return nil, fmt.Errorf("pipeline: gpu timeline: %w", err)
	}
	if s.updateTL, err = dev.NewTimeline(0); err != nil {
		s.gpuTL.Destroy()
		return nil, fmt.Errorf("pipeline: update timeline: %w", err)
	}
	if cfg.Process != nil {
		if s.processTL, err = dev.NewTimeline(0); err != nil {
			s.gpuTL.Destroy()
			s.updateTL.Destroy()
			return nil, fmt.Errorf("pipeline: process timeline: %w", err)
		}
		s.argsQueue = newTaskQueue(0)
	}

	s.updateWorker = NewWorker(s.update)
	if cfg.Process != nil {
		s.processWorker = NewWorker(s.process)
	}
	return s, nil
}

// Pipeline returns the scheduler's pipeline for the given name. The
// empty name returns the single pipeline of a single-pipeline
// scheduler.
func (s *Scheduler) Pipeline(name string) (*Pipeline, error) {
	if name == "" && s.single != nil {
		return s.single, nil
	}
	p, ok := s.pipelines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPipeline, name)
	}
	return p, nil
}

// QueueSize returns the capacity of the internal task queue. Zero means
// unbounded.
func (s *Scheduler) QueueSize() int { return s.updateQueue.capacity() }

// TotalTasks returns the total number of tasks scheduled so far.
func (s *Scheduler) TotalTasks() uint64 { return s.totalTasks.Load() }

// TasksScheduled returns the approximate number of tasks still queued
// for their parameter update.
func (s *Scheduler) TasksScheduled() int { return s.updateQueue.size() }

// TasksFinished returns the number of fully finished tasks: processed
// tasks when a process callback is configured, device-finished tasks
// otherwise.
func (s *Scheduler) TasksFinished() uint64 {
	return s.effectiveTimeline().Value()
}

// Destroyed reports whether Destroy has been called.
func (s *Scheduler) Destroyed() bool { return s.destroyed.Load() }

// Schedule queues the given tasks to run after all previously scheduled
// ones. It blocks only while the task queue is full.
//
// It returns the number of tasks actually submitted along with the
// device submission covering them, which can be used to wait on the
// batch or query via FinalStep the number of tasks finished once the
// batch is done, a value Wait accepts. The submission is
// nil when nothing was submitted. Fewer tasks than given are submitted
// when the queue stays full or a bounded queue's capacity is reached
// within this call.
func (s *Scheduler) Schedule(tasks []Task) (int, driver.Submission, error) {
	return s.ScheduleTimeout(tasks, -1)
}

// ScheduleTimeout is Schedule with a bounded wait for queue space per
// task. A negative timeout waits indefinitely; zero only accepts tasks
// fitting without waiting.
func (s *Scheduler) ScheduleTimeout(tasks []Task, timeout time.Duration) (int, driver.Submission, error) {
	if s.destroyed.Load() {
		return 0, nil, ErrSchedulerDestroyed
	}

	n := 0
	total := s.totalTasks.Load()
	var builder driver.SubmissionBuilder
	for _, t := range tasks {
		pipe, ok := s.resolve(t)
		if !ok {
			continue
		}

		// A bounded queue accepts at most its capacity per call.
		if capa := s.updateQueue.capacity(); capa > 0 && n >= capa {
			break
		}
		if !s.updateQueue.push(updateItem{pipe: pipe, params: t.Params}, timeout) {
			break
		}
		if s.argsQueue != nil {
			s.argsQueue.push(t.Args, -1)
		}

		if builder == nil {
			builder = s.dev.BeginSequence(s.gpuTL, total)
		}

		// The previous task must have left the device before the
		// pipeline's shared structures advance.
		builder.WaitFor(s.gpuTL, total)
		// Slot total%2 must carry this task's parameters.
		builder.WaitFor(s.updateTL, total+1)
		if s.processTL != nil && total >= 2 {
			// Double buffered: the slot being reused was last occupied
			// by task total-2, whose post-processing must be done
			// before the device overwrites the results it reads.
			builder.WaitFor(s.processTL, total-1)
		}
		builder.Then(pipe.Subroutine(int(total % 2)))

		n++
		total++
	}

	if n == 0 {
		return 0, nil, nil
	}

	sub, err := builder.Submit()
	if err != nil {
		return 0, nil, fmt.Errorf("pipeline: submitting batch: %w", err)
	}
	if !sub.Forgettable() {
		panic("pipeline: device produced a non-forgettable submission")
	}
	s.totalTasks.Store(total)

	s.updateWorker.Advance(uint64(n))
	if s.processWorker != nil {
		s.processWorker.Advance(uint64(n))
	}
	return n, sub, nil
}

// resolve maps a task to its pipeline. On a multi-pipeline scheduler,
// tasks with a missing or unknown name are skipped with a warning.
func (s *Scheduler) resolve(t Task) (*Pipeline, bool) {
	if s.single != nil {
		return s.single, true
	}
	if t.Pipeline == "" {
		slogger().Warn("task names no pipeline, skipping task")
		return nil, false
	}
	p, ok := s.pipelines[t.Pipeline]
	if !ok {
		slogger().Warn("unknown pipeline, skipping task", "pipeline", t.Pipeline)
		return nil, false
	}
	return p, true
}

// Wait blocks until the first task tasks (indices 0 to task-1) have
// fully finished: processed when a process callback is configured,
// device-finished otherwise. Without arguments it waits on the last
// scheduled task. Waiting on a task that was never scheduled may block
// forever.
func (s *Scheduler) Wait(task ...uint64) {
	s.effectiveTimeline().Wait(s.waitTarget(task))
}

// WaitTimeout is Wait bounded by a timeout. It reports whether the task
// finished.
func (s *Scheduler) WaitTimeout(timeout time.Duration, task ...uint64) bool {
	return s.effectiveTimeline().WaitTimeout(s.waitTarget(task), timeout)
}

func (s *Scheduler) waitTarget(task []uint64) uint64 {
	if len(task) > 0 {
		return task[0]
	}
	return s.totalTasks.Load()
}

func (s *Scheduler) effectiveTimeline() driver.Timeline {
	if s.processTL != nil {
		return s.processTL
	}
	return s.gpuTL
}

// Destroy drains all scheduled work, stops the workers and releases the
// timelines. Scheduling after Destroy fails with ErrSchedulerDestroyed.
// Destroy is idempotent.
func (s *Scheduler) Destroy() {
	if s.destroyed.Swap(true) {
		return
	}
	// Device work cannot be cancelled; drain instead.
	s.Wait()
	s.updateWorker.Stop()
	if s.processWorker != nil {
		s.processWorker.Stop()
	}
	s.gpuTL.Destroy()
	s.updateTL.Destroy()
	if s.processTL != nil {
		s.processTL.Destroy()
	}
}

// update is the update worker body for task n. Whatever happens inside,
// the update timeline must advance: a stuck timeline deadlocks every
// future task, which is worse than losing one task's parameters.
func (s *Scheduler) update(n uint64) {
	defer s.updateTL.SetValue(n + 1)

	item, ok := s.updateQueue.tryPop()
	if !ok {
		// Advance guarantees availability; reaching this means the
		// queue was tampered with externally.
		slogger().Warn("update queue empty", "task", n)
		return
	}
	u := item.(updateItem)
	u.pipe.SetParams(u.params)

	// The slot about to be overwritten was last used by task n-2; the
	// device finishing that task advanced the timeline to n-1.
	if n >= 2 {
		s.gpuTL.Wait(n - 1)
	}

	// Publishing runs user hooks; shield the timeline from them.
	func() {
		defer func() {
			if r := recover(); r != nil {
				slogger().Warn("panic while preparing task", "task", n, "panic", r)
			}
		}()
		if err := u.pipe.Publish(int(n % 2)); err != nil {
			slogger().Warn("preparing task failed", "task", n, "error", err)
		}
	}()
}

// process is the process worker body for task n. The process timeline
// advances unconditionally for the same reason as in update.
func (s *Scheduler) process(n uint64) {
	defer s.processTL.SetValue(n + 1)

	args, _ := s.argsQueue.tryPop()

	// Wait for the device to finish task n.
	s.gpuTL.Wait(n + 1)

	func() {
		defer func() {
			if r := recover(); r != nil {
				slogger().Warn("panic while processing task", "task", n, "panic", r)
			}
		}()
		s.processFn(int(n%2), n, args)
	}()
}
