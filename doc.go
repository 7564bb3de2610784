// Package conveyor provides GPU compute pipeline scheduling for Go.
//
// # Overview
//
// conveyor streams parameterized compute work through fixed graphs of GPU
// stages at high throughput. It is built for the GoGPU ecosystem and keeps
// the GPU busy by double buffering stage configurations: while the GPU
// consumes one configuration slot, the CPU already prepares the other.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/conveyor/backend/cpu"
//	    "github.com/gogpu/conveyor/pipeline"
//	)
//
//	dev := cpu.New()
//	defer dev.Destroy()
//
//	stage := newMyStage(dev)                     // embeds pipeline.Base
//	pipe, _ := pipeline.NewPipeline(dev, stage)
//	sched, _ := pipeline.NewScheduler(dev, pipe, pipeline.SchedulerConfig{})
//	defer sched.Destroy()
//
//	sched.Schedule([]pipeline.Task{
//	    {Params: pipeline.Params{"gain": 2, "bias": 15}},
//	})
//	sched.Wait()
//
// # Architecture
//
// The library is organized into:
//   - driver: the downward contract a GPU backend must implement
//     (mapped tensors, monotonic timelines, submission builders)
//   - param: fixed-layout parameter block descriptors and typed views
//   - pipeline: stages, pipelines, the scheduler and dynamic tasks
//   - queueview: structure-of-arrays views over record queues
//   - backend/cpu: host-side reference backend
//   - backend/wgpu: GPU backend via gogpu/wgpu
//
// # Scheduling Model
//
// A Scheduler coordinates three actors over two rotating configuration
// slots: an update worker publishing parameters, the GPU timeline running
// prebaked subroutines, and an optional process worker running user code
// on finished results. Task n uses slot n%2; timeline waits guarantee a
// slot is never written while the GPU or user code still reads it.
package conveyor
