package wgpu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/types"

	"github.com/gogpu/conveyor/driver"
)

// Program errors.
var (
	// ErrProgramDestroyed is returned when using a destroyed program.
	ErrProgramDestroyed = errors.New("wgpu: program has been destroyed")

	// ErrUnknownBinding is returned when binding a name the program
	// does not declare.
	ErrUnknownBinding = errors.New("wgpu: unknown binding name")
)

// BindingDecl declares one buffer binding of a compute program.
type BindingDecl struct {
	// Name is the binding name stages resolve against.
	Name string

	// Binding is the shader binding index within group 0.
	Binding uint32

	// ReadOnly marks the binding as read-only storage.
	ReadOnly bool

	// Uniform marks the binding as a uniform buffer instead of
	// storage.
	Uniform bool

	// MinBindingSize is the minimum buffer size the shader requires,
	// zero for unconstrained.
	MinBindingSize uint64
}

// ProgramConfig configures a compute program.
type ProgramConfig struct {
	// Label is the debug label used for all created GPU objects.
	Label string

	// Source is the WGSL source of the compute shader.
	Source string

	// EntryPoint is the compute entry point name. Empty means "main".
	EntryPoint string

	// Bindings declare the buffer bindings of group 0.
	Bindings []BindingDecl

	// HostKernel, if set, mirrors the shader on the host and runs in
	// place of the GPU dispatch until full command-encoder integration
	// lands in the hal. It receives the bound tensors' shadow memory by
	// binding name and the workgroup counts of the dispatch.
	HostKernel func(binds map[string][]byte, workgroups [3]uint32)
}

// Program is a baked compute program: WGSL compiled to SPIR-V through
// naga, a shader module, bind group layout and compute pipeline.
//
// Stages bind tensors by name and record dispatches; binding names are
// resolved against the declared bindings when commands are built, and
// unresolved names surface as warnings there rather than at run time.
type Program struct {
	mu sync.Mutex

	dev   *Device
	label string
	entry string

	bindings map[string]BindingDecl
	bound    map[string]*tensor

	shaderModule hal.ShaderModule
	bindLayout   hal.BindGroupLayout
	pipeLayout   hal.PipelineLayout
	pipeline     hal.ComputePipeline

	spirvCode []uint32

	hostKernel func(binds map[string][]byte, workgroups [3]uint32)

	destroyed bool
}

// NewProgram compiles the WGSL source and creates the compute pipeline.
func NewProgram(dev *Device, cfg ProgramConfig) (*Program, error) {
	if dev == nil {
		return nil, ErrNilDevice
	}
	entry := cfg.EntryPoint
	if entry == "" {
		entry = "main"
	}
	p := &Program{
		dev:        dev,
		label:      cfg.Label,
		entry:      entry,
		bindings:   make(map[string]BindingDecl, len(cfg.Bindings)),
		bound:      make(map[string]*tensor, len(cfg.Bindings)),
		hostKernel: cfg.HostKernel,
	}
	for _, b := range cfg.Bindings {
		p.bindings[b.Name] = b
	}

	if err := p.init(cfg); err != nil {
		p.Destroy()
		return nil, err
	}
	return p, nil
}

// init compiles the shader and creates pipeline objects.
func (p *Program) init(cfg ProgramConfig) error {
	// Compile WGSL to SPIR-V.
	spirvBytes, err := naga.Compile(cfg.Source)
	if err != nil {
		return fmt.Errorf("wgpu: failed to compile shader: %w", err)
	}

	// Convert bytes to uint32 slice for SPIR-V.
	p.spirvCode = make([]uint32, len(spirvBytes)/4)
	for i := range p.spirvCode {
		p.spirvCode[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}

	shaderModule, err := p.dev.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label: p.label,
		Source: hal.ShaderSource{
			SPIRV: p.spirvCode,
		},
	})
	if err != nil {
		return fmt.Errorf("wgpu: failed to create shader module: %w", err)
	}
	p.shaderModule = shaderModule

	entries := make([]types.BindGroupLayoutEntry, 0, len(cfg.Bindings))
	for _, b := range cfg.Bindings {
		bindingType := types.BufferBindingTypeStorage
		switch {
		case b.Uniform:
			bindingType = types.BufferBindingTypeUniform
		case b.ReadOnly:
			bindingType = types.BufferBindingTypeReadOnlyStorage
		}
		entries = append(entries, types.BindGroupLayoutEntry{
			Binding:    b.Binding,
			Visibility: types.ShaderStageCompute,
			Buffer: &types.BufferBindingLayout{
				Type:           bindingType,
				MinBindingSize: b.MinBindingSize,
			},
		})
	}

	bindLayout, err := p.dev.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   p.label,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("wgpu: failed to create bind group layout: %w", err)
	}
	p.bindLayout = bindLayout

	pipeLayout, err := p.dev.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            p.label,
		BindGroupLayouts: []hal.BindGroupLayout{p.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("wgpu: failed to create pipeline layout: %w", err)
	}
	p.pipeLayout = pipeLayout

	pipeline, err := p.dev.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  p.label,
		Layout: p.pipeLayout,
		Compute: hal.ComputeState{
			Module:     p.shaderModule,
			EntryPoint: p.entry,
		},
	})
	if err != nil {
		return fmt.Errorf("wgpu: failed to create compute pipeline: %w", err)
	}
	p.pipeline = pipeline

	return nil
}

// Bind associates a tensor with a binding name for subsequent Dispatch
// commands.
func (p *Program) Bind(name string, t driver.Tensor) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return ErrProgramDestroyed
	}
	if _, ok := p.bindings[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownBinding, name)
	}
	tt, ok := t.(*tensor)
	if !ok {
		return fmt.Errorf("%w: tensor %T", ErrForeignResource, t)
	}
	p.bound[name] = tt
	return nil
}

// Dispatch records a compute dispatch over the current bindings. The
// binding set is snapshotted: later Bind calls do not affect commands
// already built. Each unresolved binding name produces a warning and
// is left out of the snapshot; the command still runs with the
// bindings that are resolved.
//
// Until full command-encoder integration lands in the hal, execution
// runs the program's HostKernel against the bound shadows and flushes
// the results, keeping data flow identical to the GPU path.
func (p *Program) Dispatch(x, y, z uint32) driver.Command {
	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := make(map[string]*tensor, len(p.bound))
	for name := range p.bindings {
		t, ok := p.bound[name]
		if !ok {
			slogger().Warn("unresolved binding", "program", p.label, "binding", name)
			continue
		}
		snapshot[name] = t
	}
	kernel := p.hostKernel

	return command(func() error {
		if kernel == nil {
			slogger().Debug("dispatch without host kernel", "program", p.label)
			return nil
		}
		binds := make(map[string][]byte, len(snapshot))
		for name, t := range snapshot {
			if err := t.fetch(); err != nil {
				return fmt.Errorf("wgpu: fetching %q: %w", name, err)
			}
			binds[name] = t.shadow
		}
		kernel(binds, [3]uint32{x, y, z})
		for _, t := range snapshot {
			t.flush()
		}
		return nil
	})
}

// SPIRVCode returns the compiled SPIR-V code.
func (p *Program) SPIRVCode() []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spirvCode
}

// Bindings returns the declared binding names.
func (p *Program) Bindings() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.bindings))
	for name := range p.bindings {
		out = append(out, name)
	}
	return out
}

// Destroy releases all GPU resources of the program.
func (p *Program) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return
	}
	p.destroyed = true

	dev := p.dev.device
	if p.pipeline != nil {
		dev.DestroyComputePipeline(p.pipeline)
		p.pipeline = nil
	}
	if p.pipeLayout != nil {
		dev.DestroyPipelineLayout(p.pipeLayout)
		p.pipeLayout = nil
	}
	if p.bindLayout != nil {
		dev.DestroyBindGroupLayout(p.bindLayout)
		p.bindLayout = nil
	}
	if p.shaderModule != nil {
		dev.DestroyShaderModule(p.shaderModule)
		p.shaderModule = nil
	}
}
