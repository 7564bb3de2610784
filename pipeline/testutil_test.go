package pipeline

import (
	"testing"

	"github.com/gogpu/conveyor/backend/cpu"
	"github.com/gogpu/conveyor/driver"
	"github.com/gogpu/conveyor/param"
)

// linearParams is the parameter layout shared by the compute test
// stages: out[i] = m*i + b over a 256-element int32 tensor.
var linearParams = param.MustBlock("Params",
	param.Field{Name: "m", Kind: param.Int32},
	param.Field{Name: "b", Kind: param.Int32},
	param.Field{Name: "_dummy", Kind: param.Int32},
)

const linearElems = 256

// linearStage evaluates out[i] = m*i + b on the device executor,
// reading its coefficients from the slot's parameter tensor exactly
// like a compute shader would.
type linearStage struct {
	*Base
	dev    *cpu.Device
	tensor driver.Tensor
}

func newLinearStage(t *testing.T, dev *cpu.Device) *linearStage {
	t.Helper()
	base, err := NewBase(dev, BaseConfig{
		Name:   "linear",
		Blocks: []*param.Block{linearParams},
	})
	if err != nil {
		t.Fatalf("NewBase() error = %v", err)
	}
	tensor, err := dev.NewTensor(linearElems*4, true)
	if err != nil {
		t.Fatalf("NewTensor() error = %v", err)
	}
	return &linearStage{Base: base, dev: dev, tensor: tensor}
}

func (s *linearStage) BuildCommands(slot int) ([]driver.Command, error) {
	params := s.BindingTensor("Params", slot)
	return []driver.Command{s.dev.Dispatch(func() {
		coeff := param.Int32View(params.Memory())
		out := param.Int32View(s.tensor.Memory())
		m, b := coeff[0], coeff[1]
		for i := range out {
			out[i] = m*int32(i) + b
		}
	})}, nil
}

// linearExpect returns the expected tensor contents for the given
// coefficients.
func linearExpect(m, b int32) []int32 {
	out := make([]int32, linearElems)
	for i := range out {
		out[i] = m*int32(i) + b
	}
	return out
}

// checkLinear compares got against out[i] = m*i + b.
func checkLinear(t *testing.T, got []int32, m, b int32) {
	t.Helper()
	want := linearExpect(m, b)
	if len(got) != len(want) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %d, want %d (m=%d b=%d)", i, got[i], want[i], m, b)
		}
	}
}
