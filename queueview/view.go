// Package queueview provides structured access to record queues stored
// in flat memory.
//
// A queue starts with an optional header and an optional counter
// describing how much data it holds, followed by the records laid out
// as a structure of arrays for coalesced GPU memory access:
//
//	struct { A a; B b; … }  →  struct { A a[N]; B b[N]; … }
//
// where N is the queue capacity. Views address this memory both
// column-wise and per element without copying.
package queueview

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gogpu/conveyor/param"
)

// View errors.
var (
	// ErrUnknownField is returned when addressing a field the item does
	// not declare.
	ErrUnknownField = errors.New("queueview: unknown field")

	// ErrNoCounter is returned when setting the count of a counterless
	// queue.
	ErrNoCounter = errors.New("queueview: queue has no counter")

	// ErrSizeMismatch is returned when memory does not match any queue
	// layout of the item type.
	ErrSizeMismatch = errors.New("queueview: memory does not match queue layout")

	// ErrIndexRange is returned when an element index is out of range.
	ErrIndexRange = errors.New("queueview: index out of range")
)

// counterSize is the byte size of the queue counter.
const counterSize = 4

// Options controls the queue memory layout.
type Options struct {
	// SkipCounter omits the item counter; such a queue always holds
	// exactly its capacity.
	SkipCounter bool

	// Header is an optional block prefixing the queue.
	Header *param.Block
}

// Size returns the bytes required to store a queue of the given item
// type and capacity.
func Size(item *param.Block, capacity int, opts Options) int {
	size := soaSize(item, capacity)
	if opts.Header != nil {
		size += opts.Header.Size()
	}
	if !opts.SkipCounter {
		size += counterSize
	}
	return size
}

// soaSize returns the size of the structure-of-arrays region.
func soaSize(item *param.Block, capacity int) int {
	size := 0
	for _, f := range item.Fields() {
		elem := f.Kind.Size()
		size = param.AlignUp(size, elem)
		size += elem * elemCount(f) * capacity
	}
	return size
}

func elemCount(f param.Field) int {
	if f.Count < 1 {
		return 1
	}
	return f.Count
}

// View provides structured access to queue memory.
//
// Manipulating data through a view does not update the counter, which
// is whatever the memory holds (zero right after initialization).
type View struct {
	item     *param.Block
	capacity int
	header   []byte
	counter  []byte
	columns  map[string][]byte
	kinds    map[string]param.Field
}

// NewView interprets mem as a queue of the given item type and
// capacity.
func NewView(mem []byte, item *param.Block, capacity int, opts Options) (*View, error) {
	need := Size(item, capacity, opts)
	if len(mem) < need {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrSizeMismatch, len(mem), need)
	}
	v := &View{
		item:     item,
		capacity: capacity,
		columns:  make(map[string][]byte),
		kinds:    make(map[string]param.Field),
	}
	if opts.Header != nil {
		v.header = mem[:opts.Header.Size()]
		mem = mem[opts.Header.Size():]
	}
	if !opts.SkipCounter {
		v.counter = mem[:counterSize]
		mem = mem[counterSize:]
	}
	offset := 0
	for _, f := range item.Fields() {
		elem := f.Kind.Size()
		offset = param.AlignUp(offset, elem)
		width := elem * elemCount(f) * capacity
		v.columns[f.Name] = mem[offset : offset+width]
		v.kinds[f.Name] = f
		offset += width
	}
	return v, nil
}

// Item returns the block describing a single queue item.
func (v *View) Item() *param.Block { return v.item }

// Capacity returns the maximum number of items the queue can hold.
func (v *View) Capacity() int { return v.capacity }

// Fields returns the field names of the item type.
func (v *View) Fields() []string {
	out := make([]string, 0, len(v.columns))
	for _, f := range v.item.Fields() {
		out = append(out, f.Name)
	}
	return out
}

// Has reports whether the item declares the named field.
func (v *View) Has(name string) bool {
	_, ok := v.columns[name]
	return ok
}

// HasCounter reports whether the queue carries an item counter.
func (v *View) HasCounter() bool { return v.counter != nil }

// Count returns the number of items in the queue. Counterless queues
// report their capacity.
func (v *View) Count() int {
	if v.counter == nil {
		return v.capacity
	}
	return int(binary.LittleEndian.Uint32(v.counter))
}

// SetCount stores the item count.
func (v *View) SetCount(n int) error {
	if v.counter == nil {
		return ErrNoCounter
	}
	binary.LittleEndian.PutUint32(v.counter, uint32(n)) //nolint:gosec // counts are small
	return nil
}

// Header returns the header memory, nil when the queue has none.
func (v *View) Header() []byte { return v.header }

// Column returns the raw column memory of the named field.
func (v *View) Column(name string) ([]byte, error) {
	col, ok := v.columns[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return col, nil
}

// Float32Column interprets the named column as float32 values without
// copying.
func (v *View) Float32Column(name string) ([]float32, error) {
	col, err := v.Column(name)
	if err != nil {
		return nil, err
	}
	return param.Float32View(col), nil
}

// Int32Column interprets the named column as int32 values without
// copying.
func (v *View) Int32Column(name string) ([]int32, error) {
	col, err := v.Column(name)
	if err != nil {
		return nil, err
	}
	return param.Int32View(col), nil
}

// Uint32Column interprets the named column as uint32 values without
// copying.
func (v *View) Uint32Column(name string) ([]uint32, error) {
	col, err := v.Column(name)
	if err != nil {
		return nil, err
	}
	return param.Uint32View(col), nil
}

// Get returns element i of the named field (element 0 of array
// fields).
func (v *View) Get(name string, i int) (any, error) {
	f, col, err := v.at(name, i)
	if err != nil {
		return nil, err
	}
	return param.ReadValue(col, f.Kind), nil
}

// Set stores value as element i of the named field.
func (v *View) Set(name string, i int, value any) error {
	f, col, err := v.at(name, i)
	if err != nil {
		return err
	}
	if !param.WriteValue(col, f.Kind, value) {
		return fmt.Errorf("queueview: value %T does not fit %s field %q", value, f.Kind, name)
	}
	return nil
}

func (v *View) at(name string, i int) (param.Field, []byte, error) {
	f, ok := v.kinds[name]
	if !ok {
		return f, nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	if i < 0 || i >= v.capacity {
		return f, nil, fmt.Errorf("%w: %d of %d", ErrIndexRange, i, v.capacity)
	}
	stride := f.Kind.Size() * elemCount(f)
	return f, v.columns[name][i*stride:], nil
}

// Dump copies every field's data up to the current count into a map.
func Dump(v *View) map[string][]byte {
	out := make(map[string][]byte, len(v.columns))
	for _, f := range v.item.Fields() {
		col := v.columns[f.Name]
		n := v.Count() * f.Kind.Size() * elemCount(f)
		if n > len(col) {
			n = len(col)
		}
		cp := make([]byte, n)
		copy(cp, col[:n])
		out[f.Name] = cp
	}
	return out
}

// Update fills the queue's columns from the given per-field data,
// matching keys with field names. Unknown fields are skipped with a
// warning; so is data exceeding the queue capacity, which is
// truncated. With updateCount set the counter is updated to the
// smallest item count seen (ignored on counterless queues).
func Update(v *View, data map[string][]byte, updateCount bool) {
	counts := make([]int, 0, len(data))
	for name, raw := range data {
		f, ok := v.kinds[name]
		if !ok {
			slogger().Warn("skipping unknown field", "field", name)
			continue
		}
		col := v.columns[name]
		stride := f.Kind.Size() * elemCount(f)
		if len(raw) > len(col) {
			slogger().Warn("field truncated to queue capacity", "field", name)
			raw = raw[:len(col)]
		}
		copy(col, raw)
		counts = append(counts, len(raw)/stride)
	}
	for _, c := range counts {
		if c != counts[0] {
			slogger().Warn("not all fields have the same length")
			break
		}
	}
	if updateCount && v.HasCounter() && len(counts) > 0 {
		minCount := counts[0]
		for _, c := range counts[1:] {
			if c < minCount {
				minCount = c
			}
		}
		_ = v.SetCount(minCount)
	}
}
