package queueview

import (
	"fmt"

	"github.com/gogpu/conveyor/driver"
	"github.com/gogpu/conveyor/param"
)

// Buffer allocates host staging memory large enough to hold a queue
// and exposes a view over it.
type Buffer struct {
	buf  driver.Buffer
	view *View
}

// NewBuffer allocates a host queue buffer on the device.
func NewBuffer(dev driver.Device, item *param.Block, capacity int, opts Options) (*Buffer, error) {
	buf, err := dev.NewBuffer(uint64(Size(item, capacity, opts)))
	if err != nil {
		return nil, fmt.Errorf("queueview: allocating buffer: %w", err)
	}
	view, err := NewView(buf.Memory(), item, capacity, opts)
	if err != nil {
		return nil, err
	}
	return &Buffer{buf: buf, view: view}, nil
}

// Raw returns the underlying staging buffer, e.g. for tensor copy
// commands.
func (b *Buffer) Raw() driver.Buffer { return b.buf }

// View returns the structured view of the queue memory.
func (b *Buffer) View() *View { return b.view }

// Capacity returns the queue capacity.
func (b *Buffer) Capacity() int { return b.view.Capacity() }

// Count returns the current item count.
func (b *Buffer) Count() int { return b.view.Count() }

// Item returns the block describing a single queue item.
func (b *Buffer) Item() *param.Block { return b.view.Item() }

// Tensor allocates device memory large enough to hold a queue.
type Tensor struct {
	tensor   driver.Tensor
	item     *param.Block
	capacity int
	opts     Options
}

// NewTensor allocates a device queue tensor.
func NewTensor(dev driver.Device, item *param.Block, capacity int, opts Options) (*Tensor, error) {
	t, err := dev.NewTensor(uint64(Size(item, capacity, opts)), true)
	if err != nil {
		return nil, fmt.Errorf("queueview: allocating tensor: %w", err)
	}
	return &Tensor{tensor: t, item: item, capacity: capacity, opts: opts}, nil
}

// Raw returns the underlying device tensor.
func (t *Tensor) Raw() driver.Tensor { return t.tensor }

// Item returns the block describing a single queue item.
func (t *Tensor) Item() *param.Block { return t.item }

// Capacity returns the queue capacity.
func (t *Tensor) Capacity() int { return t.capacity }

// HasCounter reports whether the queue layout carries a counter.
func (t *Tensor) HasCounter() bool { return !t.opts.SkipCounter }

// View returns a structured view of the tensor's mapped memory.
// Fails when the tensor is not host-mapped.
func (t *Tensor) View() (*View, error) {
	mem := t.tensor.Memory()
	if mem == nil {
		return nil, fmt.Errorf("queueview: tensor is not mapped")
	}
	return NewView(mem, t.item, t.capacity, t.opts)
}

// ClearCommand returns a command resetting the queue's counter, marking
// all data inside it as garbage.
func (t *Tensor) ClearCommand(dev driver.Device) (driver.Command, error) {
	if t.opts.SkipCounter {
		return nil, ErrNoCounter
	}
	offset := uint64(0)
	if t.opts.Header != nil {
		offset = uint64(t.opts.Header.Size())
	}
	return dev.ClearTensor(t.tensor, nil, counterSize, offset), nil
}

// AsView interprets an existing staging buffer as a queue, deriving the
// capacity from the buffer size. The size must match a whole number of
// items after subtracting header and counter.
func AsView(buf driver.Buffer, item *param.Block, opts Options) (*View, error) {
	size := int(buf.SizeBytes())
	if opts.Header != nil {
		size -= opts.Header.Size()
	}
	if !opts.SkipCounter {
		size -= counterSize
	}
	itemSize := itemStride(item)
	if size < 0 || itemSize == 0 || size%itemSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes over item stride %d", ErrSizeMismatch, size, itemSize)
	}
	return NewView(buf.Memory(), item, size/itemSize, opts)
}

// itemStride returns the per-item byte contribution to the SoA region.
func itemStride(item *param.Block) int {
	stride := 0
	for _, f := range item.Fields() {
		stride += f.Kind.Size() * elemCount(f)
	}
	return stride
}
