package pipeline

import (
	"sync"
	"sync/atomic"
)

// Worker is a counter-driven background goroutine: it calls fn(k) for
// k = 0, 1, 2, … as k catches up to a monotonically growing target, and
// suspends when it is caught up.
//
// The suspend handshake is deliberately two-phased. The loop first
// checks the counters without the lock; only if it appears caught up
// does it re-check under the suspend lock before marking itself
// suspending. Advance takes the same lock before signaling the wake
// event. This closes the race where Advance fires between the unsafe
// check and the suspend flag being set, which would otherwise leave the
// worker asleep with work pending.
type Worker struct {
	fn func(n uint64)

	// mu is the suspend lock guarding suspending.
	mu         sync.Mutex
	suspending bool

	// wake carries the wake event. Capacity one gives it set/clear
	// semantics: a pending signal is consumed by the next receive.
	wake chan struct{}

	counter atomic.Uint64
	target  atomic.Uint64

	stopping atomic.Bool
	done     chan struct{}
}

// NewWorker starts a worker running fn. The worker begins suspended and
// only runs once Advance has raised its target.
func NewWorker(fn func(n uint64)) *Worker {
	w := &Worker{
		fn:         fn,
		suspending: true,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	go w.loop()
	return w
}

// Count returns the number of finished iterations.
func (w *Worker) Count() uint64 { return w.counter.Load() }

// Target returns the total number of issued iterations.
func (w *Worker) Target() uint64 { return w.target.Load() }

// Advance raises the iteration target by n and wakes the worker if it
// is suspended.
func (w *Worker) Advance(n uint64) {
	w.target.Add(n)
	w.mu.Lock()
	if w.suspending {
		w.signal()
	}
	w.mu.Unlock()
}

// Stop terminates the worker and waits for its goroutine to exit.
// The current iteration, if any, finishes first.
func (w *Worker) Stop() {
	if w.stopping.Swap(true) {
		<-w.done
		return
	}
	w.signal()
	<-w.done
}

// signal sets the wake event if it is not already set.
func (w *Worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// loop is the worker goroutine body.
func (w *Worker) loop() {
	defer close(w.done)
	for {
		// Suspend if flagged.
		w.mu.Lock()
		susp := w.suspending
		w.mu.Unlock()
		if susp {
			<-w.wake
			w.mu.Lock()
			w.suspending = false
			w.mu.Unlock()
		}

		if w.stopping.Load() {
			return
		}

		// Quick and unsafe check.
		if w.counter.Load() >= w.target.Load() {
			// Might want to suspend. Check again, but safe.
			w.mu.Lock()
			if w.counter.Load() >= w.target.Load() {
				w.suspending = true
				w.mu.Unlock()
				continue
			}
			w.mu.Unlock()
		}

		w.fn(w.counter.Load())
		w.counter.Add(1)
	}
}
