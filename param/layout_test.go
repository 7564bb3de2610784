package param

import (
	"errors"
	"testing"
)

// =============================================================================
// Block Layout Tests
// =============================================================================

func TestNewBlock_Offsets(t *testing.T) {
	blk, err := NewBlock("Params",
		Field{Name: "m", Kind: Int32},
		Field{Name: "b", Kind: Int32},
		Field{Name: "_dummy", Kind: Int32},
	)
	if err != nil {
		t.Fatalf("NewBlock() error = %v", err)
	}

	if blk.Size() != 12 {
		t.Errorf("Size() = %d, want 12", blk.Size())
	}

	wantOffsets := map[string]int{"m": 0, "b": 4, "_dummy": 8}
	for name, want := range wantOffsets {
		f, ok := blk.Field(name)
		if !ok {
			t.Fatalf("Field(%q) missing", name)
		}
		if f.Offset != want {
			t.Errorf("Field(%q).Offset = %d, want %d", name, f.Offset, want)
		}
	}
}

func TestNewBlock_MixedAlignment(t *testing.T) {
	blk, err := NewBlock("Mixed",
		Field{Name: "a", Kind: Int32},
		Field{Name: "b", Kind: Float64},
		Field{Name: "c", Kind: Uint32},
	)
	if err != nil {
		t.Fatalf("NewBlock() error = %v", err)
	}

	// a at 0, b aligned to 8, c at 16, size padded to 24.
	fa, _ := blk.Field("a")
	fb, _ := blk.Field("b")
	fc, _ := blk.Field("c")
	if fa.Offset != 0 || fb.Offset != 8 || fc.Offset != 16 {
		t.Errorf("offsets = %d/%d/%d, want 0/8/16", fa.Offset, fb.Offset, fc.Offset)
	}
	if blk.Size() != 24 {
		t.Errorf("Size() = %d, want 24", blk.Size())
	}
}

func TestNewBlock_ArrayField(t *testing.T) {
	blk, err := NewBlock("Arr",
		Field{Name: "values", Kind: Float32, Count: 4},
		Field{Name: "count", Kind: Uint32},
	)
	if err != nil {
		t.Fatalf("NewBlock() error = %v", err)
	}
	fc, _ := blk.Field("count")
	if fc.Offset != 16 {
		t.Errorf("count offset = %d, want 16", fc.Offset)
	}
	if blk.Size() != 20 {
		t.Errorf("Size() = %d, want 20", blk.Size())
	}
}

func TestNewBlock_DuplicateField(t *testing.T) {
	_, err := NewBlock("Dup",
		Field{Name: "x", Kind: Int32},
		Field{Name: "x", Kind: Float32},
	)
	if !errors.Is(err, ErrDuplicateField) {
		t.Errorf("NewBlock() error = %v, want ErrDuplicateField", err)
	}
}

func TestNewExplicitBlock_OutOfBounds(t *testing.T) {
	_, err := NewExplicitBlock("Bad", 8,
		Field{Name: "x", Kind: Float64, Offset: 4},
	)
	if err == nil {
		t.Error("NewExplicitBlock() error = nil, want out-of-bounds error")
	}
}

// =============================================================================
// Read/Write Tests
// =============================================================================

func TestBlock_ReadWrite(t *testing.T) {
	blk := MustBlock("Params",
		Field{Name: "m", Kind: Int32},
		Field{Name: "gain", Kind: Float32},
		Field{Name: "seed", Kind: Uint64},
	)
	buf := make([]byte, blk.Size())

	if err := blk.Write(buf, "m", -7); err != nil {
		t.Fatalf("Write(m) error = %v", err)
	}
	if err := blk.Write(buf, "gain", 2.5); err != nil {
		t.Fatalf("Write(gain) error = %v", err)
	}
	if err := blk.Write(buf, "seed", uint64(0xC0FFEE)); err != nil {
		t.Fatalf("Write(seed) error = %v", err)
	}

	if v, _ := blk.Read(buf, "m"); v != int32(-7) {
		t.Errorf("Read(m) = %v, want int32(-7)", v)
	}
	if v, _ := blk.Read(buf, "gain"); v != float32(2.5) {
		t.Errorf("Read(gain) = %v, want float32(2.5)", v)
	}
	if v, _ := blk.Read(buf, "seed"); v != uint64(0xC0FFEE) {
		t.Errorf("Read(seed) = %v, want 0xC0FFEE", v)
	}
}

func TestBlock_ReadUnknownField(t *testing.T) {
	blk := MustBlock("Params", Field{Name: "m", Kind: Int32})
	buf := make([]byte, blk.Size())

	_, err := blk.Read(buf, "nope")
	if !errors.Is(err, ErrUnknownField) {
		t.Errorf("Read() error = %v, want ErrUnknownField", err)
	}
}

func TestBlock_WriteBadValue(t *testing.T) {
	blk := MustBlock("Params", Field{Name: "m", Kind: Int32})
	buf := make([]byte, blk.Size())

	err := blk.Write(buf, "m", "not a number")
	if !errors.Is(err, ErrBadValue) {
		t.Errorf("Write() error = %v, want ErrBadValue", err)
	}
}

func TestBlock_ShortBuffer(t *testing.T) {
	blk := MustBlock("Params", Field{Name: "m", Kind: Int64})
	buf := make([]byte, 4)

	if _, err := blk.Read(buf, "m"); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("Read() error = %v, want ErrShortBuffer", err)
	}
	if err := blk.Write(buf, "m", 1); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("Write() error = %v, want ErrShortBuffer", err)
	}
}

func TestBlock_IntCoercion(t *testing.T) {
	blk := MustBlock("Params", Field{Name: "m", Kind: Int32})
	buf := make([]byte, blk.Size())

	for _, v := range []any{int(9), int8(9), int16(9), int32(9), int64(9), uint8(9), float64(9)} {
		if err := blk.Write(buf, "m", v); err != nil {
			t.Errorf("Write(%T) error = %v", v, err)
		}
		if got, _ := blk.Read(buf, "m"); got != int32(9) {
			t.Errorf("Read() after %T write = %v, want int32(9)", v, got)
		}
	}
}

// =============================================================================
// View Tests
// =============================================================================

func TestViews_ZeroCopy(t *testing.T) {
	buf := make([]byte, 32)

	f := Float32View(buf)
	if len(f) != 8 {
		t.Fatalf("Float32View len = %d, want 8", len(f))
	}
	f[0] = 1.5
	if got := Float32View(buf)[0]; got != 1.5 {
		t.Errorf("view write not visible, got %v", got)
	}

	i := Int32View(buf)
	i[7] = -3
	if got := Int32View(buf)[7]; got != -3 {
		t.Errorf("int view write not visible, got %v", got)
	}
}

func TestViews_Empty(t *testing.T) {
	if v := Float32View(nil); v != nil {
		t.Errorf("Float32View(nil) = %v, want nil", v)
	}
	if v := Int32View(make([]byte, 3)); v != nil {
		t.Errorf("Int32View(3 bytes) = %v, want nil", v)
	}
}

func TestCopyHelpers(t *testing.T) {
	buf := make([]byte, 12)
	CopyInt32(buf, []int32{1, -2, 3})
	got := Int32View(buf)
	for i, want := range []int32{1, -2, 3} {
		if got[i] != want {
			t.Errorf("got[%d] = %d, want %d", i, got[i], want)
		}
	}
}
