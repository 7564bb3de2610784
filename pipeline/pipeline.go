package pipeline

import (
	"fmt"
	"strings"

	"github.com/gogpu/conveyor/driver"
)

// NamedStage pairs a stage with the name it carries inside a pipeline.
type NamedStage struct {
	Name  string
	Stage Stage
}

// named wraps a stage with an explicit pipeline name.
type named struct {
	Stage
	name string
}

func (n named) Name() string { return n.name }

// Named overrides the name a stage registers under when handed to
// NewPipeline.
func Named(name string, s Stage) Stage {
	return named{Stage: s, name: name}
}

// Pipeline is an ordered, named sequence of stages baked into two
// reusable subroutines, one per configuration slot.
//
// Stage names default to Stage.Name and are made unique by suffixing a
// counter on collision ("stage", "stage2", "stage3", …). Both
// subroutines are baked at construction; BuildCommands is never called
// again afterwards.
type Pipeline struct {
	dev    driver.Device
	stages []NamedStage
	byName map[string]Stage
	subs   [2]driver.Subroutine
}

// NewPipeline builds a pipeline over the given stages and bakes its two
// subroutines. A failing BuildCommands aborts construction; no partial
// pipeline is observable.
func NewPipeline(dev driver.Device, stages ...Stage) (*Pipeline, error) {
	if len(stages) == 0 {
		return nil, ErrNoStages
	}
	p := &Pipeline{
		dev:    dev,
		stages: make([]NamedStage, 0, len(stages)),
		byName: make(map[string]Stage, len(stages)),
	}

	counts := make(map[string]int, len(stages))
	for _, s := range stages {
		name := s.Name()
		counts[name]++
		if counts[name] > 1 {
			name = fmt.Sprintf("%s%d", name, counts[name])
		}
		p.stages = append(p.stages, NamedStage{Name: name, Stage: s})
		p.byName[name] = s
	}

	for slot := range p.subs {
		var cmds []driver.Command
		for _, ns := range p.stages {
			stageCmds, err := ns.Stage.BuildCommands(slot)
			if err != nil {
				return nil, fmt.Errorf("pipeline: building %q slot %d: %w", ns.Name, slot, err)
			}
			cmds = append(cmds, stageCmds...)
		}
		sub, err := dev.BakeSubroutine(cmds, true)
		if err != nil {
			return nil, fmt.Errorf("pipeline: baking slot %d: %w", slot, err)
		}
		p.subs[slot] = sub
	}

	return p, nil
}

// Subroutine returns the baked subroutine running the pipeline with the
// slot's configuration.
func (p *Pipeline) Subroutine(slot int) driver.Subroutine { return p.subs[slot] }

// Stages returns the named stage sequence. The returned slice is a
// copy.
func (p *Pipeline) Stages() []NamedStage {
	out := make([]NamedStage, len(p.stages))
	copy(out, p.stages)
	return out
}

// Stage looks up a stage by its pipeline name.
func (p *Pipeline) Stage(name string) (Stage, bool) {
	s, ok := p.byName[name]
	return s, ok
}

// Publish publishes every stage for the slot. Note that this does not
// check whether the slot is currently in use by the device.
func (p *Pipeline) Publish(slot int) error {
	for _, ns := range p.stages {
		if err := ns.Stage.Publish(slot); err != nil {
			return err
		}
	}
	return nil
}

// Params collects the public parameters of all stages into a flat map
// keyed "{stage}__{field}".
func (p *Pipeline) Params() Params {
	out := make(Params)
	for _, ns := range p.stages {
		for _, field := range ns.Stage.Fields() {
			v, err := ns.Stage.Param(field)
			if err != nil {
				continue
			}
			out[ns.Name+"__"+field] = v
		}
	}
	return out
}

// SetParams routes parameter updates to the stages. A key containing
// "__" addresses one stage ("{stage}__{field}"); addressing an unknown
// stage logs a warning and skips the entry. A bare key is applied to
// every stage that accepts it.
func (p *Pipeline) SetParams(params Params) {
	for key, value := range params {
		if stageName, field, ok := strings.Cut(key, "__"); ok {
			s, exists := p.byName[stageName]
			if !exists {
				slogger().Warn("no such stage in pipeline", "stage", stageName, "param", field)
				continue
			}
			s.SetParam(field, value)
			continue
		}
		for _, ns := range p.stages {
			ns.Stage.SetParam(key, value)
		}
	}
}

// RunAsync runs the pipeline with the slot's configuration and returns
// a submission to wait on. With publish set, all stages publish their
// current state first. Note that this does not check whether the slot
// is currently in use and results in undefined behavior if so.
func (p *Pipeline) RunAsync(slot int, publish bool) (driver.Submission, error) {
	if publish {
		if err := p.Publish(slot); err != nil {
			return nil, err
		}
	}
	return p.dev.BeginSequence(nil, 0).Then(p.subs[slot]).Submit()
}

// Run runs the pipeline with the slot's configuration and waits for it
// to finish.
func (p *Pipeline) Run(slot int, publish bool) error {
	sub, err := p.RunAsync(slot, publish)
	if err != nil {
		return err
	}
	return sub.Wait()
}

// RunStage runs a single stage's slot configuration outside a pipeline
// and waits for it to finish. With publish set, the stage publishes its
// current state first.
func RunStage(dev driver.Device, s Stage, slot int, publish bool) error {
	return RunStages(dev, []Stage{s}, slot, publish)
}

// RunStages runs the given stages as if they made up a pipeline, in
// order, and waits for completion. Repeated use is better served by a
// Pipeline, which bakes the command lists once.
func RunStages(dev driver.Device, stages []Stage, slot int, publish bool) error {
	var cmds []driver.Command
	for _, s := range stages {
		if publish {
			if err := s.Publish(slot); err != nil {
				return err
			}
		}
		stageCmds, err := s.BuildCommands(slot)
		if err != nil {
			return err
		}
		cmds = append(cmds, stageCmds...)
	}
	sub, err := dev.BakeSubroutine(cmds, false)
	if err != nil {
		return err
	}
	submission, err := dev.BeginSequence(nil, 0).Then(sub).Submit()
	if err != nil {
		return err
	}
	return submission.Wait()
}
