package pipeline

import "errors"

// Pipeline errors.
var (
	// ErrUnmappedTensors is returned when stage construction finds that
	// the device cannot map parameter tensors into host memory.
	ErrUnmappedTensors = errors.New("pipeline: device does not support mapped tensors")

	// ErrUnknownParam is returned when reading a parameter a stage does
	// not declare.
	ErrUnknownParam = errors.New("pipeline: unknown parameter")

	// ErrSchedulerDestroyed is returned when scheduling onto a destroyed
	// scheduler.
	ErrSchedulerDestroyed = errors.New("pipeline: scheduler has been destroyed")

	// ErrInvalidTask is logged when a scheduled payload does not have a
	// usable task shape; the affected batch is dropped.
	ErrInvalidTask = errors.New("pipeline: invalid task")

	// ErrUnknownPipeline is returned when looking up a pipeline name the
	// scheduler does not hold. During scheduling the condition is a
	// non-fatal warning instead; the affected task is skipped.
	ErrUnknownPipeline = errors.New("pipeline: unknown pipeline")

	// ErrNoStages is returned when constructing a pipeline without
	// stages.
	ErrNoStages = errors.New("pipeline: pipeline needs at least one stage")
)
