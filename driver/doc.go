// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package driver defines the contract conveyor requires from a GPU
// backend.
//
// The pipeline layer never talks to a GPU API directly. Instead it
// consumes the small set of primitives declared here: host-mappable
// tensors, monotonic timelines, prebaked subroutines and a submission
// builder that chains timeline waits with subroutine execution.
//
// Backends implement these interfaces: backend/cpu provides a host-side
// reference implementation, backend/wgpu drives real GPUs through
// gogpu/wgpu. Hosts that already own a GPU device can hand it over via
// [DeviceHandle].
package driver
