package pipeline

import (
	"fmt"

	"github.com/gogpu/conveyor/driver"
	"github.com/gogpu/conveyor/param"
)

// RetrieveTensorStage is a utility stage copying a tensor into a
// host-side staging buffer, with an independent buffer per slot so that
// results of consecutive tasks do not overwrite each other.
type RetrieveTensorStage struct {
	*Base
	dev  driver.Device
	src  driver.Tensor
	bufs [2]driver.Buffer
}

// NewRetrieveTensorStage creates a retrieve stage reading src.
func NewRetrieveTensorStage(dev driver.Device, src driver.Tensor) (*RetrieveTensorStage, error) {
	base, err := NewBase(dev, BaseConfig{Name: "retrieve"})
	if err != nil {
		return nil, err
	}
	s := &RetrieveTensorStage{Base: base, dev: dev, src: src}
	for i := range s.bufs {
		buf, err := dev.NewBuffer(src.SizeBytes())
		if err != nil {
			return nil, fmt.Errorf("pipeline: retrieve buffer %d: %w", i, err)
		}
		s.bufs[i] = buf
	}
	return s, nil
}

// Src returns the source tensor.
func (s *RetrieveTensorStage) Src() driver.Tensor { return s.src }

// Buffer returns the slot's staging buffer.
func (s *RetrieveTensorStage) Buffer(slot int) driver.Buffer { return s.bufs[slot] }

// Bytes returns the slot's retrieved contents.
func (s *RetrieveTensorStage) Bytes(slot int) []byte { return s.bufs[slot].Memory() }

// Float32View interprets the slot's contents as float32 values without
// copying.
func (s *RetrieveTensorStage) Float32View(slot int) []float32 {
	return param.Float32View(s.bufs[slot].Memory())
}

// Int32View interprets the slot's contents as int32 values without
// copying.
func (s *RetrieveTensorStage) Int32View(slot int) []int32 {
	return param.Int32View(s.bufs[slot].Memory())
}

// BuildCommands returns the copy command for the slot.
func (s *RetrieveTensorStage) BuildCommands(slot int) ([]driver.Command, error) {
	return []driver.Command{s.dev.RetrieveTensor(s.src, s.bufs[slot])}, nil
}

// UpdateTensorStage is a utility stage copying a host-side staging
// buffer into a tensor. It keeps an independent source buffer per slot
// to allow concurrent pipeline reading and buffer writing.
//
// To make buffer preparation part of the pipeline, populate the slot's
// buffer from a Finalize hook of a wrapping stage.
type UpdateTensorStage struct {
	*Base
	dev  driver.Device
	dst  driver.Tensor
	bufs [2]driver.Buffer
}

// NewUpdateTensorStage creates an update stage writing dst.
func NewUpdateTensorStage(dev driver.Device, dst driver.Tensor) (*UpdateTensorStage, error) {
	base, err := NewBase(dev, BaseConfig{Name: "update"})
	if err != nil {
		return nil, err
	}
	s := &UpdateTensorStage{Base: base, dev: dev, dst: dst}
	for i := range s.bufs {
		buf, err := dev.NewBuffer(dst.SizeBytes())
		if err != nil {
			return nil, fmt.Errorf("pipeline: update buffer %d: %w", i, err)
		}
		s.bufs[i] = buf
	}
	return s, nil
}

// Dst returns the target tensor.
func (s *UpdateTensorStage) Dst() driver.Tensor { return s.dst }

// Buffer returns the slot's staging buffer.
func (s *UpdateTensorStage) Buffer(slot int) driver.Buffer { return s.bufs[slot] }

// Bytes returns the slot's staging contents for writing.
func (s *UpdateTensorStage) Bytes(slot int) []byte { return s.bufs[slot].Memory() }

// Float32View interprets the slot's staging buffer as float32 values
// without copying.
func (s *UpdateTensorStage) Float32View(slot int) []float32 {
	return param.Float32View(s.bufs[slot].Memory())
}

// Int32View interprets the slot's staging buffer as int32 values
// without copying.
func (s *UpdateTensorStage) Int32View(slot int) []int32 {
	return param.Int32View(s.bufs[slot].Memory())
}

// BuildCommands returns the copy command for the slot.
func (s *UpdateTensorStage) BuildCommands(slot int) ([]driver.Command, error) {
	return []driver.Command{s.dev.UpdateTensor(s.bufs[slot], s.dst)}, nil
}
