// Package param describes fixed-layout GPU parameter blocks.
//
// A Block pairs a byte size with named field descriptors so that host
// code can read and write individual fields of an opaque byte blob whose
// layout matches GPU expectations. No runtime reflection is involved:
// every access dispatches through the precomputed (offset, kind) of the
// field descriptor.
package param

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Layout errors.
var (
	// ErrUnknownField is returned when accessing a field the block does
	// not declare.
	ErrUnknownField = errors.New("param: unknown field")

	// ErrBadValue is returned when a value cannot be converted to the
	// field's kind.
	ErrBadValue = errors.New("param: value does not fit field kind")

	// ErrShortBuffer is returned when a buffer is smaller than the block
	// layout requires.
	ErrShortBuffer = errors.New("param: buffer shorter than block size")

	// ErrDuplicateField is returned when a block declares a field name
	// twice.
	ErrDuplicateField = errors.New("param: duplicate field name")
)

// Kind identifies the scalar type of a field.
type Kind int

const (
	// Int32 is a signed 32-bit integer field.
	Int32 Kind = iota
	// Uint32 is an unsigned 32-bit integer field.
	Uint32
	// Float32 is a 32-bit float field.
	Float32
	// Int64 is a signed 64-bit integer field.
	Int64
	// Uint64 is an unsigned 64-bit integer field.
	Uint64
	// Float64 is a 64-bit float field.
	Float64
)

// Size returns the byte size of the kind.
func (k Kind) Size() int {
	switch k {
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	default:
		return 0
	}
}

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case Int32:
		return "int32"
	case Uint32:
		return "uint32"
	case Float32:
		return "float32"
	case Int64:
		return "int64"
	case Uint64:
		return "uint64"
	case Float64:
		return "float64"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Field describes one member of a parameter block.
type Field struct {
	// Name is the field name. Names starting with an underscore are
	// treated as private by the pipeline layer.
	Name string

	// Kind is the scalar type of the field (or of its elements).
	Kind Kind

	// Offset is the byte offset of the field within the block.
	Offset int

	// Count is the element count for fixed-size array fields.
	// Zero and one both mean a scalar field.
	Count int
}

// elems returns the effective element count.
func (f Field) elems() int {
	if f.Count < 1 {
		return 1
	}
	return f.Count
}

// Block is the layout descriptor of a parameter block: a total byte size
// plus named field descriptors.
type Block struct {
	name   string
	size   int
	fields []Field
	index  map[string]int
}

// NewBlock builds a block layout from the given fields, computing
// offsets in declaration order with natural alignment: each field is
// aligned to its kind's size and the total size is padded to the widest
// alignment. Matches the layout of a tightly declared std430 struct of
// scalars.
func NewBlock(name string, fields ...Field) (*Block, error) {
	offset := 0
	maxAlign := 4
	laid := make([]Field, len(fields))
	for i, f := range fields {
		align := f.Kind.Size()
		if align == 0 {
			return nil, fmt.Errorf("param: field %q has invalid kind", f.Name)
		}
		if align > maxAlign {
			maxAlign = align
		}
		offset = alignUp(offset, align)
		f.Offset = offset
		offset += align * f.elems()
		laid[i] = f
	}
	size := alignUp(offset, maxAlign)
	return NewExplicitBlock(name, size, laid...)
}

// NewExplicitBlock builds a block from fields whose offsets are already
// assigned, for layouts that need manual padding control.
func NewExplicitBlock(name string, size int, fields ...Field) (*Block, error) {
	b := &Block{
		name:   name,
		size:   size,
		fields: fields,
		index:  make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if _, ok := b.index[f.Name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateField, f.Name)
		}
		if end := f.Offset + f.Kind.Size()*f.elems(); end > size {
			return nil, fmt.Errorf("param: field %q [%d,%d) exceeds block size %d",
				f.Name, f.Offset, end, size)
		}
		b.index[f.Name] = i
	}
	return b, nil
}

// MustBlock is like NewBlock but panics on error. Intended for
// package-level layout declarations.
func MustBlock(name string, fields ...Field) *Block {
	b, err := NewBlock(name, fields...)
	if err != nil {
		panic(err)
	}
	return b
}

// Name returns the block name.
func (b *Block) Name() string { return b.name }

// Size returns the total block size in bytes.
func (b *Block) Size() int { return b.size }

// Fields returns the field descriptors in declaration order.
// The returned slice is a copy.
func (b *Block) Fields() []Field {
	out := make([]Field, len(b.fields))
	copy(out, b.fields)
	return out
}

// Field looks up a field descriptor by name.
func (b *Block) Field(name string) (Field, bool) {
	i, ok := b.index[name]
	if !ok {
		return Field{}, false
	}
	return b.fields[i], true
}

// Has reports whether the block declares the named field.
func (b *Block) Has(name string) bool {
	_, ok := b.index[name]
	return ok
}

// Read returns the value of the named scalar field (element 0 for array
// fields) from buf. The returned value is typed per the field kind:
// int32, uint32, float32, int64, uint64 or float64.
func (b *Block) Read(buf []byte, name string) (any, error) {
	f, ok := b.Field(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	if len(buf) < b.size {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrShortBuffer, len(buf), b.size)
	}
	return readKind(buf[f.Offset:], f.Kind), nil
}

// Write stores value into the named scalar field (element 0 for array
// fields) in buf. Integers and floats are converted to the field kind;
// incompatible values return ErrBadValue.
func (b *Block) Write(buf []byte, name string, value any) error {
	f, ok := b.Field(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	if len(buf) < b.size {
		return fmt.Errorf("%w: have %d, need %d", ErrShortBuffer, len(buf), b.size)
	}
	if !writeKind(buf[f.Offset:], f.Kind, value) {
		return fmt.Errorf("%w: %T into %s field %q", ErrBadValue, value, f.Kind, name)
	}
	return nil
}

// ReadValue decodes one scalar of the given kind from the start of buf.
// The returned value is typed per the kind.
func ReadValue(buf []byte, k Kind) any { return readKind(buf, k) }

// WriteValue encodes value as one scalar of the given kind at the start
// of buf, reporting whether the value was convertible.
func WriteValue(buf []byte, k Kind, value any) bool { return writeKind(buf, k, value) }

// AlignUp rounds v up to the next multiple of align, which must be a
// power of two.
func AlignUp(v, align int) int {
	return (v + align - 1) &^ (align - 1)
}

func alignUp(v, align int) int {
	return AlignUp(v, align)
}

func readKind(buf []byte, k Kind) any {
	switch k {
	case Int32:
		return int32(binary.LittleEndian.Uint32(buf)) //nolint:gosec // bit-cast
	case Uint32:
		return binary.LittleEndian.Uint32(buf)
	case Float32:
		return math.Float32frombits(binary.LittleEndian.Uint32(buf))
	case Int64:
		return int64(binary.LittleEndian.Uint64(buf)) //nolint:gosec // bit-cast
	case Uint64:
		return binary.LittleEndian.Uint64(buf)
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(buf))
	default:
		return nil
	}
}

func writeKind(buf []byte, k Kind, value any) bool {
	switch k {
	case Int32, Int64:
		i, ok := toInt64(value)
		if !ok {
			return false
		}
		if k == Int32 {
			binary.LittleEndian.PutUint32(buf, uint32(int32(i))) //nolint:gosec // bit-cast
		} else {
			binary.LittleEndian.PutUint64(buf, uint64(i)) //nolint:gosec // bit-cast
		}
	case Uint32, Uint64:
		u, ok := toUint64(value)
		if !ok {
			return false
		}
		if k == Uint32 {
			binary.LittleEndian.PutUint32(buf, uint32(u)) //nolint:gosec // truncating store
		} else {
			binary.LittleEndian.PutUint64(buf, u)
		}
	case Float32:
		fv, ok := toFloat64(value)
		if !ok {
			return false
		}
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(fv)))
	case Float64:
		fv, ok := toFloat64(value)
		if !ok {
			return false
		}
		binary.LittleEndian.PutUint64(buf, math.Float64bits(fv))
	default:
		return false
	}
	return true
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), true //nolint:gosec // caller-owned range
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return int64(x), true //nolint:gosec // caller-owned range
	case float32:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func toUint64(v any) (uint64, bool) {
	switch x := v.(type) {
	case int:
		return uint64(x), true //nolint:gosec // caller-owned range
	case int8:
		return uint64(x), true //nolint:gosec // caller-owned range
	case int16:
		return uint64(x), true //nolint:gosec // caller-owned range
	case int32:
		return uint64(x), true //nolint:gosec // caller-owned range
	case int64:
		return uint64(x), true //nolint:gosec // caller-owned range
	case uint:
		return uint64(x), true
	case uint8:
		return uint64(x), true
	case uint16:
		return uint64(x), true
	case uint32:
		return uint64(x), true
	case uint64:
		return x, true
	case float32:
		return uint64(x), true //nolint:gosec // caller-owned range
	case float64:
		return uint64(x), true //nolint:gosec // caller-owned range
	default:
		return 0, false
	}
}

func toFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	default:
		i, ok := toInt64(v)
		if !ok {
			return 0, false
		}
		return float64(i), true
	}
}
