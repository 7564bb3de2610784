package pipeline

import (
	"errors"
	"testing"

	"github.com/gogpu/conveyor/backend/cpu"
	"github.com/gogpu/conveyor/driver"
	"github.com/gogpu/conveyor/param"
)

// =============================================================================
// Stage Base Tests
// =============================================================================

func TestBase_FieldsExcludePrivate(t *testing.T) {
	dev := cpu.New()
	defer dev.Destroy()

	s := newLinearStage(t, dev)

	fields := s.Fields()
	if len(fields) != 2 || fields[0] != "b" || fields[1] != "m" {
		t.Errorf("Fields() = %v, want [b m]", fields)
	}
}

func TestBase_PrivateFieldStillSettable(t *testing.T) {
	dev := cpu.New()
	defer dev.Destroy()

	s := newLinearStage(t, dev)
	s.SetParam("_dummy", 99)

	v, err := s.Param("_dummy")
	if err != nil {
		t.Fatalf("Param(_dummy) error = %v", err)
	}
	if v != int32(99) {
		t.Errorf("Param(_dummy) = %v, want 99", v)
	}
}

func TestBase_UnknownParam(t *testing.T) {
	dev := cpu.New()
	defer dev.Destroy()

	s := newLinearStage(t, dev)

	if _, err := s.Param("nope"); !errors.Is(err, ErrUnknownParam) {
		t.Errorf("Param() error = %v, want ErrUnknownParam", err)
	}

	// Unknown names are silently ignored on set.
	s.SetParam("nope", 1)
}

func TestBase_ExtraTakesPrecedence(t *testing.T) {
	dev := cpu.New()
	defer dev.Destroy()

	var stored any
	base, err := NewBase(dev, BaseConfig{
		Name:   "extra",
		Blocks: []*param.Block{linearParams},
		Extra: []ExtraParam{{
			Name: "m",
			Get:  func() any { return "shadowed" },
			Set:  func(v any) error { stored = v; return nil },
		}},
	})
	if err != nil {
		t.Fatalf("NewBase() error = %v", err)
	}

	base.SetParam("m", 5)
	if stored != 5 {
		t.Errorf("extra setter got %v, want 5", stored)
	}
	if v, _ := base.Param("m"); v != "shadowed" {
		t.Errorf("Param(m) = %v, want extra getter value", v)
	}
}

func TestBase_PublishCopiesToSlot(t *testing.T) {
	dev := cpu.New()
	defer dev.Destroy()

	s := newLinearStage(t, dev)
	s.SetParam("m", 3)
	s.SetParam("b", 7)

	if err := s.Publish(1); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	got := param.Int32View(s.BindingTensor("Params", 1).Memory())
	if got[0] != 3 || got[1] != 7 {
		t.Errorf("slot 1 = %v/%v, want 3/7", got[0], got[1])
	}

	// Slot 0 must stay untouched.
	other := param.Int32View(s.BindingTensor("Params", 0).Memory())
	if other[0] != 0 || other[1] != 0 {
		t.Errorf("slot 0 = %v/%v, want 0/0", other[0], other[1])
	}
}

func TestBase_FinalizeRunsBeforeCopy(t *testing.T) {
	dev := cpu.New()
	defer dev.Destroy()

	var b *Base
	base, err := NewBase(dev, BaseConfig{
		Name:   "derived",
		Blocks: []*param.Block{linearParams},
		Finalize: func(slot int) error {
			b.SetParam("_dummy", int32(slot+40))
			return nil
		},
	})
	if err != nil {
		t.Fatalf("NewBase() error = %v", err)
	}
	b = base

	if err := base.Publish(1); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	got := param.Int32View(base.BindingTensor("Params", 1).Memory())
	if got[2] != 41 {
		t.Errorf("_dummy on device = %d, want 41", got[2])
	}
}

func TestBase_FinalizeErrorAbortsPublish(t *testing.T) {
	dev := cpu.New()
	defer dev.Destroy()

	fail := errors.New("derive failed")
	base, err := NewBase(dev, BaseConfig{
		Name:     "failing",
		Blocks:   []*param.Block{linearParams},
		Finalize: func(int) error { return fail },
	})
	if err != nil {
		t.Fatalf("NewBase() error = %v", err)
	}

	base.SetParam("m", 9)
	if err := base.Publish(0); !errors.Is(err, fail) {
		t.Fatalf("Publish() error = %v, want finalize error", err)
	}
	got := param.Int32View(base.BindingTensor("Params", 0).Memory())
	if got[0] != 0 {
		t.Errorf("device updated despite finalize failure: m = %d", got[0])
	}
}

func TestBase_ParamMap(t *testing.T) {
	dev := cpu.New()
	defer dev.Destroy()

	s := newLinearStage(t, dev)
	s.SetParam("m", 2)
	s.SetParam("b", 15)

	got := s.ParamMap()
	if len(got) != 2 || got["m"] != int32(2) || got["b"] != int32(15) {
		t.Errorf("ParamMap() = %v, want m:2 b:15", got)
	}
}

// =============================================================================
// Tensor Stage Tests
// =============================================================================

func TestRetrieveTensorStage_PerSlotBuffers(t *testing.T) {
	dev := cpu.New()
	defer dev.Destroy()

	tensor, _ := dev.NewTensor(64*4, true)
	retr, err := NewRetrieveTensorStage(dev, tensor)
	if err != nil {
		t.Fatalf("NewRetrieveTensorStage() error = %v", err)
	}

	// Fill the tensor, retrieve into slot 0; change it, retrieve into
	// slot 1. Both snapshots must survive independently.
	if err := RunStages(dev, []Stage{clearStage(dev, tensor, 42)}, 0, true); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := RunStage(dev, retr, 0, true); err != nil {
		t.Fatalf("RunStage(0) error = %v", err)
	}

	if err := RunStages(dev, []Stage{clearStage(dev, tensor, 23)}, 0, true); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := RunStage(dev, retr, 1, true); err != nil {
		t.Fatalf("RunStage(1) error = %v", err)
	}

	for i, v := range retr.Bytes(0) {
		if i%4 == 0 && v != 42 {
			t.Fatalf("slot 0 byte %d = %d, want 42", i, v)
		}
	}
	for i, v := range retr.Bytes(1) {
		if i%4 == 0 && v != 23 {
			t.Fatalf("slot 1 byte %d = %d, want 23", i, v)
		}
	}
}

func TestUpdateRetrieveRoundTrip(t *testing.T) {
	dev := cpu.New()
	defer dev.Destroy()

	tensor, _ := dev.NewTensor(64*4, true)
	upd, err := NewUpdateTensorStage(dev, tensor)
	if err != nil {
		t.Fatalf("NewUpdateTensorStage() error = %v", err)
	}
	retr, err := NewRetrieveTensorStage(dev, tensor)
	if err != nil {
		t.Fatalf("NewRetrieveTensorStage() error = %v", err)
	}

	fill := func(dst []int32, seed int32) {
		for i := range dst {
			dst[i] = seed*31 + int32(i)*7
		}
	}
	fill(upd.Int32View(0), 1)
	fill(upd.Int32View(1), 2)

	for slot := 0; slot < 2; slot++ {
		if err := RunStages(dev, []Stage{upd, retr}, slot, true); err != nil {
			t.Fatalf("RunStages(%d) error = %v", slot, err)
		}
	}

	for slot := 0; slot < 2; slot++ {
		want := make([]int32, 64)
		fill(want, int32(slot+1))
		got := retr.Int32View(slot)
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("slot %d got[%d] = %d, want %d", slot, i, got[i], want[i])
			}
		}
	}
}

// clearValueStage wraps a ClearTensor command as a stage for test
// setup.
type clearValueStage struct {
	*Base
	dev    *cpu.Device
	tensor driver.Tensor
	value  byte
}

func clearStage(dev *cpu.Device, tensor driver.Tensor, value byte) Stage {
	base, _ := NewBase(dev, BaseConfig{Name: "clear"})
	return &clearValueStage{Base: base, dev: dev, tensor: tensor, value: value}
}

func (s *clearValueStage) BuildCommands(int) ([]driver.Command, error) {
	return []driver.Command{s.dev.ClearTensor(s.tensor, []byte{s.value, 0, 0, 0}, 0, 0)}, nil
}
