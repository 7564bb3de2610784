package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gogpu/conveyor/driver"
	"github.com/gogpu/conveyor/param"
)

// Params is a set of named parameter values, as accepted by stages,
// pipelines and scheduled tasks.
type Params map[string]any

// Stage is one atomic unit of GPU work with its own double-buffered
// parameter state.
//
// A stage declares parameter blocks which are allocated once on the
// host (the working copy mutated through SetParam) and twice on the
// device, one tensor per configuration slot. BuildCommands is invoked
// exactly twice over a stage's lifetime, once per slot, when a Pipeline
// bakes its subroutines; the returned command lists are immutable.
//
// Publish is unsynchronized with respect to device consumption of the
// same slot: callers must guarantee the slot is not concurrently read.
// The Scheduler's timeline waits provide that guarantee.
type Stage interface {
	// Name returns the stage's default name within a pipeline.
	Name() string

	// Fields returns the public parameter names of the stage.
	Fields() []string

	// Param returns the current value of the named parameter from the
	// host-side working copy.
	Param(name string) (any, error)

	// SetParam updates the host-side working copy. Names the stage does
	// not declare are silently ignored.
	SetParam(name string, value any)

	// Publish derives computed parameters and copies the working copies
	// into the slot's device tensors.
	Publish(slot int) error

	// BuildCommands returns the ordered command list running the stage
	// with the slot's configuration.
	BuildCommands(slot int) ([]driver.Command, error)
}

// ExtraParam exposes a computed property through the stage parameter
// surface. Extras take precedence over block fields of the same name.
type ExtraParam struct {
	// Name is the parameter name.
	Name string

	// Get returns the current value.
	Get func() any

	// Set updates the value. A nil Set makes the extra read-only;
	// attempts to set it are ignored with a warning.
	Set func(value any) error
}

// BaseConfig configures a stage Base.
type BaseConfig struct {
	// Name is the stage's default name. Empty means "stage".
	Name string

	// Blocks are the parameter block layouts. For each block the Base
	// allocates one host working copy and two mapped device tensors.
	Blocks []*param.Block

	// Extra are additional properties reachable through the parameter
	// surface.
	Extra []ExtraParam

	// Finalize, if set, runs at the start of every Publish to derive
	// private or computed fields before the copy to device memory.
	Finalize func(slot int) error
}

// Base implements the parameter bookkeeping shared by all stages:
// double-buffered device tensors, a host working copy per block and the
// name-based get/set surface. Concrete stages embed *Base and implement
// BuildCommands.
type Base struct {
	name     string
	blocks   []*param.Block
	local    map[string][]byte
	device   [2]map[string]driver.Tensor
	owner    map[string]*param.Block
	extra    map[string]*ExtraParam
	public   []string
	finalize func(slot int) error
}

// NewBase allocates the device and host state for the given
// configuration. It fails with ErrUnmappedTensors if the device cannot
// host-map parameter tensors.
func NewBase(dev driver.Device, cfg BaseConfig) (*Base, error) {
	name := cfg.Name
	if name == "" {
		name = "stage"
	}
	b := &Base{
		name:     name,
		blocks:   cfg.Blocks,
		local:    make(map[string][]byte, len(cfg.Blocks)),
		owner:    make(map[string]*param.Block),
		extra:    make(map[string]*ExtraParam, len(cfg.Extra)),
		finalize: cfg.Finalize,
	}
	for slot := range b.device {
		b.device[slot] = make(map[string]driver.Tensor, len(cfg.Blocks))
	}

	for _, blk := range cfg.Blocks {
		b.local[blk.Name()] = make([]byte, blk.Size())
		for slot := range b.device {
			t, err := dev.NewTensor(uint64(blk.Size()), true)
			if err != nil {
				return nil, fmt.Errorf("pipeline: allocating %q slot %d: %w", blk.Name(), slot, err)
			}
			if !t.Mapped() {
				return nil, ErrUnmappedTensors
			}
			b.device[slot][blk.Name()] = t
		}
		// Later blocks win on field name collisions.
		for _, f := range blk.Fields() {
			b.owner[f.Name] = blk
		}
	}

	for i := range cfg.Extra {
		e := cfg.Extra[i]
		b.extra[e.Name] = &e
	}

	seen := make(map[string]struct{})
	for name := range b.owner {
		if !strings.HasPrefix(name, "_") {
			seen[name] = struct{}{}
		}
	}
	for name := range b.extra {
		if !strings.HasPrefix(name, "_") {
			seen[name] = struct{}{}
		}
	}
	b.public = make([]string, 0, len(seen))
	for name := range seen {
		b.public = append(b.public, name)
	}
	sort.Strings(b.public)

	return b, nil
}

// Name returns the stage's default name.
func (b *Base) Name() string { return b.name }

// Fields returns the public parameter names, sorted. Names prefixed
// with an underscore are private: excluded here but still settable.
func (b *Base) Fields() []string {
	out := make([]string, len(b.public))
	copy(out, b.public)
	return out
}

// Param returns the named parameter from the working copy. Private
// fields are readable. Unknown names return ErrUnknownParam.
func (b *Base) Param(name string) (any, error) {
	if e, ok := b.extra[name]; ok {
		return e.Get(), nil
	}
	if blk, ok := b.owner[name]; ok {
		return blk.Read(b.local[blk.Name()], name)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownParam, name)
}

// SetParam updates the named parameter in the working copy. Unknown
// names are silently ignored; values that do not fit the field kind are
// dropped with a warning.
func (b *Base) SetParam(name string, value any) {
	if e, ok := b.extra[name]; ok {
		if e.Set == nil {
			slogger().Warn("ignoring read-only parameter", "stage", b.name, "param", name)
			return
		}
		if err := e.Set(value); err != nil {
			slogger().Warn("setting parameter failed", "stage", b.name, "param", name, "error", err)
		}
		return
	}
	if blk, ok := b.owner[name]; ok {
		if err := blk.Write(b.local[blk.Name()], name, value); err != nil {
			slogger().Warn("setting parameter failed", "stage", b.name, "param", name, "error", err)
		}
	}
}

// SetParams applies every entry of p via SetParam.
func (b *Base) SetParams(p Params) {
	for name, value := range p {
		b.SetParam(name, value)
	}
}

// ParamMap collects all public parameters into a Params map.
func (b *Base) ParamMap() Params {
	out := make(Params, len(b.public))
	for _, name := range b.public {
		v, err := b.Param(name)
		if err != nil {
			continue
		}
		out[name] = v
	}
	return out
}

// BindingTensor returns the slot's device tensor for the named block,
// for binding into compute programs. Returns nil for unknown blocks.
func (b *Base) BindingTensor(block string, slot int) driver.Tensor {
	return b.device[slot][block]
}

// BlockNames returns the names of the declared parameter blocks.
func (b *Base) BlockNames() []string {
	out := make([]string, 0, len(b.blocks))
	for _, blk := range b.blocks {
		out = append(out, blk.Name())
	}
	return out
}

// Publish runs the finalize hook, then copies every block's working
// copy into the slot's device tensor. The caller must guarantee the
// slot is not concurrently read by the device.
func (b *Base) Publish(slot int) error {
	if b.finalize != nil {
		if err := b.finalize(slot); err != nil {
			return fmt.Errorf("pipeline: finalizing %q slot %d: %w", b.name, slot, err)
		}
	}
	for name, local := range b.local {
		copy(b.device[slot][name].Memory(), local)
	}
	return nil
}
