package cpu

import (
	"testing"
	"time"

	"github.com/gogpu/conveyor/driver"
)

// =============================================================================
// Timeline Tests
// =============================================================================

func TestTimeline_SetAndWait(t *testing.T) {
	tl := newTimeline(0)

	if tl.Value() != 0 {
		t.Errorf("Value() = %d, want 0", tl.Value())
	}

	done := make(chan struct{})
	go func() {
		tl.Wait(3)
		close(done)
	}()

	tl.SetValue(1)
	select {
	case <-done:
		t.Fatal("Wait(3) returned at value 1")
	case <-time.After(20 * time.Millisecond):
	}

	tl.SetValue(3)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait(3) did not return at value 3")
	}
}

func TestTimeline_WaitTimeout(t *testing.T) {
	tl := newTimeline(0)

	if tl.WaitTimeout(1, 10*time.Millisecond) {
		t.Error("WaitTimeout() = true before advance")
	}

	tl.SetValue(5)
	if !tl.WaitTimeout(5, 10*time.Millisecond) {
		t.Error("WaitTimeout() = false after advance")
	}
	if !tl.WaitTimeout(1, 0) {
		t.Error("WaitTimeout(1, 0) = false with value 5")
	}
}

func TestTimeline_MonotonicPanic(t *testing.T) {
	tl := newTimeline(4)
	defer func() {
		if recover() == nil {
			t.Error("SetValue backwards did not panic")
		}
	}()
	tl.SetValue(2)
}

// =============================================================================
// Command Tests
// =============================================================================

func TestDevice_ClearRetrieveRoundTrip(t *testing.T) {
	dev := New()
	defer dev.Destroy()

	tensor, err := dev.NewTensor(64*4, true)
	if err != nil {
		t.Fatalf("NewTensor() error = %v", err)
	}
	buf, err := dev.NewBuffer(64 * 4)
	if err != nil {
		t.Fatalf("NewBuffer() error = %v", err)
	}

	pattern := []byte{42, 0, 0, 0}
	sub, err := dev.BakeSubroutine([]driver.Command{
		dev.ClearTensor(tensor, pattern, 0, 0),
		dev.RetrieveTensor(tensor, buf),
	}, false)
	if err != nil {
		t.Fatalf("BakeSubroutine() error = %v", err)
	}

	submission, err := dev.BeginSequence(nil, 0).Then(sub).Submit()
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := submission.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	mem := buf.Memory()
	for i := 0; i < len(mem); i += 4 {
		if mem[i] != 42 || mem[i+1] != 0 {
			t.Fatalf("mem[%d..] = %v, want 42 0 0 0", i, mem[i:i+4])
		}
	}
}

func TestDevice_ClearPartial(t *testing.T) {
	dev := New()
	defer dev.Destroy()

	tensor, _ := dev.NewTensor(16, true)
	sub, _ := dev.BakeSubroutine([]driver.Command{
		dev.ClearTensor(tensor, []byte{7}, 0, 0),
		dev.ClearTensor(tensor, []byte{1}, 4, 8),
	}, false)
	submission, err := dev.BeginSequence(nil, 0).Then(sub).Submit()
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	_ = submission.Wait()

	mem := tensor.Memory()
	for i, want := range []byte{7, 7, 7, 7, 7, 7, 7, 7, 1, 1, 1, 1, 7, 7, 7, 7} {
		if mem[i] != want {
			t.Errorf("mem[%d] = %d, want %d", i, mem[i], want)
		}
	}
}

func TestDevice_UpdateTensor(t *testing.T) {
	dev := New()
	defer dev.Destroy()

	tensor, _ := dev.NewTensor(8, true)
	buf, _ := dev.NewBuffer(8)
	copy(buf.Memory(), []byte{1, 2, 3, 4, 5, 6, 7, 8})

	sub, _ := dev.BakeSubroutine([]driver.Command{dev.UpdateTensor(buf, tensor)}, false)
	submission, _ := dev.BeginSequence(nil, 0).Then(sub).Submit()
	_ = submission.Wait()

	for i, want := range []byte{1, 2, 3, 4, 5, 6, 7, 8} {
		if tensor.Memory()[i] != want {
			t.Errorf("tensor[%d] = %d, want %d", i, tensor.Memory()[i], want)
		}
	}
}

func TestDevice_SizeMismatchFailsAtRun(t *testing.T) {
	dev := New()
	defer dev.Destroy()

	tensor, _ := dev.NewTensor(8, true)
	buf, _ := dev.NewBuffer(4)

	// The mismatch is recorded in the command and surfaces as a warning
	// at execution; the submission still completes.
	sub, err := dev.BakeSubroutine([]driver.Command{dev.RetrieveTensor(tensor, buf)}, false)
	if err != nil {
		t.Fatalf("BakeSubroutine() error = %v", err)
	}
	submission, _ := dev.BeginSequence(nil, 0).Then(sub).Submit()
	if !submission.WaitTimeout(time.Second) {
		t.Error("submission with failing command did not complete")
	}
}

// =============================================================================
// Submission Ordering Tests
// =============================================================================

func TestDevice_SubmissionsRunInOrder(t *testing.T) {
	dev := New()
	defer dev.Destroy()

	var order []int
	record := func(n int) driver.Command {
		return dev.Dispatch(func() { order = append(order, n) })
	}

	for i := 0; i < 5; i++ {
		sub, _ := dev.BakeSubroutine([]driver.Command{record(i)}, false)
		if _, err := dev.BeginSequence(nil, 0).Then(sub).Submit(); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	// A final synchronous submission flushes the queue.
	sub, _ := dev.BakeSubroutine(nil, false)
	submission, _ := dev.BeginSequence(nil, 0).Then(sub).Submit()
	_ = submission.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("order = %v, want ascending", order)
		}
	}
	if len(order) != 5 {
		t.Errorf("len(order) = %d, want 5", len(order))
	}
}

func TestDevice_SequenceWaitsAndAdvances(t *testing.T) {
	dev := New()
	defer dev.Destroy()

	gate, _ := dev.NewTimeline(0)
	root, _ := dev.NewTimeline(0)

	ran := make(chan struct{})
	sub, _ := dev.BakeSubroutine([]driver.Command{dev.Dispatch(func() { close(ran) })}, true)

	submission, err := dev.BeginSequence(root, 0).
		WaitFor(gate, 1).
		Then(sub).
		Submit()
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	select {
	case <-ran:
		t.Fatal("subroutine ran before gate opened")
	case <-time.After(20 * time.Millisecond):
	}

	gate.SetValue(1)
	if !submission.WaitTimeout(time.Second) {
		t.Fatal("submission did not finish after gate opened")
	}
	if root.Value() != 1 {
		t.Errorf("root timeline = %d, want 1", root.Value())
	}
	if submission.FinalStep() != 1 {
		t.Errorf("FinalStep() = %d, want 1", submission.FinalStep())
	}
	if !submission.Forgettable() {
		t.Error("Forgettable() = false, want true")
	}
}

func TestDevice_DestroyDrains(t *testing.T) {
	dev := New()

	var ran bool
	sub, _ := dev.BakeSubroutine([]driver.Command{dev.Dispatch(func() {
		time.Sleep(10 * time.Millisecond)
		ran = true
	})}, false)
	if _, err := dev.BeginSequence(nil, 0).Then(sub).Submit(); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	dev.Destroy()
	if !ran {
		t.Error("Destroy() returned before pending submission ran")
	}

	if _, err := dev.BeginSequence(nil, 0).Then(sub).Submit(); err == nil {
		t.Error("Submit() after Destroy() did not fail")
	}
}
