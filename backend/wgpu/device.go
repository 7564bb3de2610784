package wgpu

import (
	"container/list"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/conveyor/driver"
)

// Device errors.
var (
	// ErrNilDevice is returned when constructing without a hal device.
	ErrNilDevice = errors.New("wgpu: device is nil")

	// ErrNilQueue is returned when constructing without a hal queue.
	ErrNilQueue = errors.New("wgpu: queue is nil")

	// ErrDeviceDestroyed is returned when operating on a destroyed
	// device.
	ErrDeviceDestroyed = errors.New("wgpu: device has been destroyed")

	// ErrForeignResource is returned when a resource from another
	// backend is handed to this device.
	ErrForeignResource = errors.New("wgpu: resource belongs to a different backend")

	// ErrSizeMismatch is returned when copy commands pair a buffer and
	// tensor of different sizes.
	ErrSizeMismatch = errors.New("wgpu: buffer and tensor sizes differ")
)

// Device drives real GPUs through gogpu/wgpu. It is created over a hal
// device and queue owned by the host.
//
// Submissions execute on a dedicated goroutine in FIFO order; each
// finished subroutine advances the submission's root timeline by one.
// Buffer traffic flows through the hal queue; compute dispatches run
// their program's recorded kernels (see Program).
type Device struct {
	device hal.Device
	queue  hal.Queue

	mu      sync.Mutex
	pending list.List
	wake    *sync.Cond
	closed  bool
	done    chan struct{}
}

// New creates a device over the host's hal device and queue.
func New(device hal.Device, queue hal.Queue) (*Device, error) {
	if device == nil {
		return nil, ErrNilDevice
	}
	if queue == nil {
		return nil, ErrNilQueue
	}
	d := &Device{device: device, queue: queue, done: make(chan struct{})}
	d.wake = sync.NewCond(&d.mu)
	go d.run()
	return d, nil
}

// tensor is a GPU storage buffer shadowed by host memory. The shadow
// is the mapped view conveyor stages publish into; flush and fetch
// move it through the hal queue.
type tensor struct {
	dev    *Device
	buf    hal.Buffer
	shadow []byte
}

func (t *tensor) SizeBytes() uint64 { return uint64(len(t.shadow)) }
func (t *tensor) Mapped() bool      { return true }
func (t *tensor) Memory() []byte    { return t.shadow }

// flush uploads the host shadow into the GPU buffer.
func (t *tensor) flush() {
	t.dev.queue.WriteBuffer(t.buf, 0, t.shadow)
}

// fetch downloads the GPU buffer into the host shadow.
func (t *tensor) fetch() error {
	return t.dev.queue.ReadBuffer(t.buf, 0, t.shadow)
}

// buffer is host staging memory.
type buffer struct {
	data []byte
}

func (b *buffer) SizeBytes() uint64 { return uint64(len(b.data)) }
func (b *buffer) Memory() []byte    { return b.data }

// NewTensor allocates a storage buffer with a host shadow. All tensors
// of this backend are host-addressable through the shadow, regardless
// of the mapped flag.
func (d *Device) NewTensor(size uint64, mapped bool) (driver.Tensor, error) {
	_ = mapped
	if d.isClosed() {
		return nil, ErrDeviceDestroyed
	}
	// Align to copy granularity, as all queue traffic is whole-buffer.
	const copyBufferAlignment = 4
	alignedSize := (size + copyBufferAlignment - 1) &^ (copyBufferAlignment - 1)

	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "conveyor-tensor",
		Size:  alignedSize,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: tensor creation failed: %w", err)
	}
	return &tensor{dev: d, buf: buf, shadow: make([]byte, alignedSize)}, nil
}

// NewBuffer allocates host staging memory.
func (d *Device) NewBuffer(size uint64) (driver.Buffer, error) {
	if d.isClosed() {
		return nil, ErrDeviceDestroyed
	}
	return &buffer{data: make([]byte, size)}, nil
}

// NewTimeline creates a monotonic timeline starting at initial.
func (d *Device) NewTimeline(initial uint64) (driver.Timeline, error) {
	return newTimeline(initial), nil
}

// command is one executable device operation.
type command func() error

// ClearTensor returns a command filling size bytes of dst at offset
// with the repeated pattern, then uploading the result.
func (d *Device) ClearTensor(dst driver.Tensor, pattern []byte, size, offset uint64) driver.Command {
	t, ok := dst.(*tensor)
	if !ok {
		return commandError(fmt.Errorf("%w: %T", ErrForeignResource, dst))
	}
	return command(func() error {
		mem := t.shadow
		if offset > uint64(len(mem)) {
			return fmt.Errorf("wgpu: clear offset %d beyond tensor size %d", offset, len(mem))
		}
		mem = mem[offset:]
		if size > 0 {
			if size > uint64(len(mem)) {
				return fmt.Errorf("wgpu: clear size %d beyond tensor size", size)
			}
			mem = mem[:size]
		}
		if len(pattern) == 0 {
			clear(mem)
		} else {
			for i := range mem {
				mem[i] = pattern[i%len(pattern)]
			}
		}
		t.flush()
		return nil
	})
}

// RetrieveTensor returns a command downloading src into dst.
func (d *Device) RetrieveTensor(src driver.Tensor, dst driver.Buffer) driver.Command {
	t, tok := src.(*tensor)
	b, bok := dst.(*buffer)
	if !tok || !bok {
		return commandError(fmt.Errorf("%w: %T/%T", ErrForeignResource, src, dst))
	}
	if len(t.shadow) < len(b.data) {
		return commandError(fmt.Errorf("%w: tensor %d, buffer %d", ErrSizeMismatch, len(t.shadow), len(b.data)))
	}
	return command(func() error {
		if err := t.fetch(); err != nil {
			return fmt.Errorf("wgpu: tensor readback failed: %w", err)
		}
		copy(b.data, t.shadow)
		return nil
	})
}

// UpdateTensor returns a command uploading src into dst.
func (d *Device) UpdateTensor(src driver.Buffer, dst driver.Tensor) driver.Command {
	b, bok := src.(*buffer)
	t, tok := dst.(*tensor)
	if !tok || !bok {
		return commandError(fmt.Errorf("%w: %T/%T", ErrForeignResource, src, dst))
	}
	if len(t.shadow) < len(b.data) {
		return commandError(fmt.Errorf("%w: tensor %d, buffer %d", ErrSizeMismatch, len(t.shadow), len(b.data)))
	}
	return command(func() error {
		copy(t.shadow, b.data)
		t.flush()
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

// Destroy drains pending submissions and stops the executor. The hal
// device and queue stay with the host.
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

func (d *Device) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
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

// run is the executor goroutine body.
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
