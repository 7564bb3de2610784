package pipeline

import (
	"testing"
	"time"

	"github.com/gogpu/conveyor/backend/cpu"
)

// refineTask runs a fixed refinement schedule: 4 initial batches, two
// more after the first finished batch, three more after the fourth,
// nine in total.
type refineTask struct {
	*TaskBase
	retr    *RetrieveTensorStage
	m, b    int32
	counter int
	failed  bool
}

func newRefineTask(retr *RetrieveTensorStage, m, b int32) *refineTask {
	return &refineTask{
		TaskBase: NewTaskBase(Params{"m": m, "b": b}, 4),
		retr:     retr,
		m:        m,
		b:        b,
	}
}

func (task *refineTask) ProcessBatch(slot int) int {
	task.counter++

	// Check the batch carried this task's coefficients.
	got := task.retr.Int32View(slot)
	want := linearExpect(task.m, task.b)
	for i := range want {
		if got[i] != want[i] {
			task.failed = true
			break
		}
	}

	switch task.counter {
	case 1:
		return 2
	case 4:
		return 3
	default:
		return 0
	}
}

// =============================================================================
// DynamicTaskScheduler Tests
// =============================================================================

func TestDynamicTaskScheduler_RefinementSchedule(t *testing.T) {
	dev := cpu.New()
	defer dev.Destroy()

	comp := newLinearStage(t, dev)
	retr, err := NewRetrieveTensorStage(dev, comp.tensor)
	if err != nil {
		t.Fatalf("NewRetrieveTensorStage() error = %v", err)
	}
	p, err := NewPipeline(dev, comp, retr)
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}

	sched, err := NewDynamicTaskScheduler(dev, p)
	if err != nil {
		t.Fatalf("NewDynamicTaskScheduler() error = %v", err)
	}
	defer sched.Destroy()

	// All tasks share the same coefficients so interleaved batches of
	// different tasks still produce each task's expected results.
	tasks := []*refineTask{
		newRefineTask(retr, 5, 12),
		newRefineTask(retr, 5, 12),
		newRefineTask(retr, 5, 12),
	}
	if err := sched.ScheduleTasks(tasks[0], tasks[1], tasks[2]); err != nil {
		t.Fatalf("ScheduleTasks() error = %v", err)
	}

	first := sched.WaitNext()
	if !first.(*refineTask).IsFinished() {
		t.Error("WaitNext() returned an unfinished task")
	}
	sched.WaitAll()

	for i, task := range tasks {
		if task.failed {
			t.Errorf("task %d observed wrong batch results", i)
		}
		if task.counter != 9 {
			t.Errorf("task %d counter = %d, want 9", i, task.counter)
		}
		if !task.IsFinished() {
			t.Errorf("task %d not finished", i)
		}
	}

	if got := sched.Scheduler().TotalTasks(); got != 27 {
		t.Errorf("TotalTasks() = %d, want 27", got)
	}
}

func TestDynamicTaskScheduler_ZeroInitialBatches(t *testing.T) {
	dev := cpu.New()
	defer dev.Destroy()

	comp := newLinearStage(t, dev)
	retr, _ := NewRetrieveTensorStage(dev, comp.tensor)
	p, _ := NewPipeline(dev, comp, retr)

	sched, err := NewDynamicTaskScheduler(dev, p)
	if err != nil {
		t.Fatalf("NewDynamicTaskScheduler() error = %v", err)
	}
	defer sched.Destroy()

	task := newRefineTask(retr, 1, 1)
	task.TaskBase = NewTaskBase(Params{"m": 1, "b": 1}, 0)

	if err := sched.Schedule(task); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if got := sched.WaitNext(); got != DynamicTask(task) {
		t.Errorf("WaitNext() = %v, want the zero-batch task", got)
	}
	if !task.IsFinished() {
		t.Error("zero-batch task not finished")
	}
	sched.WaitAll()
}

func TestDynamicTaskScheduler_WaitAllIdleReturns(t *testing.T) {
	dev := cpu.New()
	defer dev.Destroy()

	comp := newLinearStage(t, dev)
	p, _ := NewPipeline(dev, comp)
	sched, _ := NewDynamicTaskScheduler(dev, p)
	defer sched.Destroy()

	done := make(chan struct{})
	go func() {
		sched.WaitAll()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitAll() blocked with nothing in flight")
	}
}
