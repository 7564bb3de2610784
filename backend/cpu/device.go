package cpu

import (
	"container/list"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/conveyor/driver"
)

// Device errors.
var (
	// ErrDeviceDestroyed is returned when operating on a destroyed
	// device.
	ErrDeviceDestroyed = errors.New("cpu: device has been destroyed")

	// ErrForeignResource is returned when a resource from another
	// backend is handed to this device.
	ErrForeignResource = errors.New("cpu: resource belongs to a different backend")

	// ErrSizeMismatch is returned when copy commands pair a buffer and
	// tensor of different sizes.
	ErrSizeMismatch = errors.New("cpu: buffer and tensor sizes differ")
)

// Device is the host-side reference device. Create it with New and
// release it with Destroy.
type Device struct {
	mu      sync.Mutex
	pending list.List
	wake    *sync.Cond
	closed  bool
	done    chan struct{}
}

// New creates a device and starts its submission executor.
func New() *Device {
	d := &Device{done: make(chan struct{})}
	d.wake = sync.NewCond(&d.mu)
	go d.run()
	return d
}

// tensor is device memory; for this backend it is host memory and
// always mapped.
type tensor struct {
	data []byte
}

func (t *tensor) SizeBytes() uint64 { return uint64(len(t.data)) }
func (t *tensor) Mapped() bool      { return true }
func (t *tensor) Memory() []byte    { return t.data }

// buffer is host staging memory.
type buffer struct {
	data []byte
}

func (b *buffer) SizeBytes() uint64 { return uint64(len(b.data)) }
func (b *buffer) Memory() []byte    { return b.data }

// NewTensor allocates a tensor. The mapped flag is accepted for
// contract compatibility; tensors of this backend are always mapped.
func (d *Device) NewTensor(size uint64, mapped bool) (driver.Tensor, error) {
	_ = mapped
	return &tensor{data: make([]byte, size)}, nil
}

// NewBuffer allocates staging memory.
func (d *Device) NewBuffer(size uint64) (driver.Buffer, error) {
	return &buffer{data: make([]byte, size)}, nil
}

// NewTimeline creates a monotonic timeline starting at initial.
func (d *Device) NewTimeline(initial uint64) (driver.Timeline, error) {
	return newTimeline(initial), nil
}

// command is one executable device operation.
type command func() error

// ClearTensor returns a command filling size bytes of dst at offset
// with the repeated pattern. Size 0 means the rest of the tensor; an
// empty pattern clears to zero.
func (d *Device) ClearTensor(dst driver.Tensor, pattern []byte, size, offset uint64) driver.Command {
	t, ok := dst.(*tensor)
	if !ok {
		return commandError(fmt.Errorf("%w: %T", ErrForeignResource, dst))
	}
	return command(func() error {
		mem := t.data
		if offset > uint64(len(mem)) {
			return fmt.Errorf("cpu: clear offset %d beyond tensor size %d", offset, len(mem))
		}
		mem = mem[offset:]
		if size > 0 {
			if size > uint64(len(mem)) {
				return fmt.Errorf("cpu: clear size %d beyond tensor size", size)
			}
			mem = mem[:size]
		}
		if len(pattern) == 0 {
			clear(mem)
			return nil
		}
		for i := range mem {
			mem[i] = pattern[i%len(pattern)]
		}
		return nil
	})
}

// RetrieveTensor returns a command copying src into dst.
func (d *Device) RetrieveTensor(src driver.Tensor, dst driver.Buffer) driver.Command {
	t, tok := src.(*tensor)
	b, bok := dst.(*buffer)
	if !tok || !bok {
		return commandError(fmt.Errorf("%w: %T/%T", ErrForeignResource, src, dst))
	}
	if len(t.data) != len(b.data) {
		return commandError(fmt.Errorf("%w: tensor %d, buffer %d", ErrSizeMismatch, len(t.data), len(b.data)))
	}
	return command(func() error {
		copy(b.data, t.data)
		return nil
	})
}

// UpdateTensor returns a command copying src into dst.
func (d *Device) UpdateTensor(src driver.Buffer, dst driver.Tensor) driver.Command {
	b, bok := src.(*buffer)
	t, tok := dst.(*tensor)
	if !tok || !bok {
		return commandError(fmt.Errorf("%w: %T/%T", ErrForeignResource, src, dst))
	}
	if len(t.data) != len(b.data) {
		return commandError(fmt.Errorf("%w: tensor %d, buffer %d", ErrSizeMismatch, len(t.data), len(b.data)))
	}
	return command(func() error {
		copy(t.data, b.data)
		return nil
	})
}

// Dispatch records an arbitrary host function as a command. The
// function runs on the device's executor goroutine, taking the place a
// compute shader dispatch has on GPU backends.
func (d *Device) Dispatch(fn func()) driver.Command {
	return command(func() error {
		fn()
		return nil
	})
}

// commandError is a command that fails when executed, carrying a
// recording error to a place it can be reported.
func commandError(err error) driver.Command {
	return command(func() error { return err })
}

// subroutine is an immutable baked command list.
type subroutine struct {
	cmds         []command
	simultaneous bool
}

func (s *subroutine) Simultaneous() bool { return s.simultaneous }

// BakeSubroutine turns the command list into a reusable subroutine.
func (d *Device) BakeSubroutine(cmds []driver.Command, simultaneous bool) (driver.Subroutine, error) {
	baked := make([]command, len(cmds))
	for i, c := range cmds {
		fn, ok := c.(command)
		if !ok {
			return nil, fmt.Errorf("%w: command %T", ErrForeignResource, c)
		}
		baked[i] = fn
	}
	return &subroutine{cmds: baked, simultaneous: simultaneous}, nil
}

// BeginSequence opens a submission builder rooted at tl and start. A
// nil timeline roots the sequence at a fresh internal timeline.
func (d *Device) BeginSequence(tl driver.Timeline, start uint64) driver.SubmissionBuilder {
	b := &builder{dev: d, start: start}
	if tl == nil {
		b.tl = newTimeline(start)
	} else {
		root, ok := tl.(*timeline)
		if !ok {
			b.err = fmt.Errorf("%w: timeline %T", ErrForeignResource, tl)
		} else {
			b.tl = root
		}
	}
	return b
}

// Destroy drains pending submissions and stops the executor.
func (d *Device) Destroy() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	d.wake.Broadcast()
	d.mu.Unlock()
	<-d.done
}

// enqueue appends a submission for execution.
func (d *Device) enqueue(s *submission) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDeviceDestroyed
	}
	d.pending.PushBack(s)
	d.wake.Signal()
	return nil
}

// run is the executor goroutine: submissions execute in FIFO order,
// each honoring its recorded waits and advancing its root timeline by
// one per finished subroutine.
func (d *Device) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for d.pending.Len() == 0 && !d.closed {
			d.wake.Wait()
		}
		if d.pending.Len() == 0 && d.closed {
			d.mu.Unlock()
			return
		}
		front := d.pending.Front()
		d.pending.Remove(front)
		d.mu.Unlock()

		front.Value.(*submission).execute()
	}
}
