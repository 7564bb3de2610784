// Package wgpu implements the conveyor driver contract on top of
// gogpu/wgpu.
//
// The package receives its hal device and queue from the host, it
// never creates one, so conveyor pipelines share GPU resources with
// the embedding application. Tensors are storage buffers shadowed by
// host memory: the shadow is what Tensor.Memory exposes, and transfer
// commands flush it through the hal queue.
//
// Compute stages compile WGSL through naga into SPIR-V and bake
// compute pipelines with bind-by-name resolution; unresolved binding
// names surface as warnings when a pipeline is baked, not at run time.
package wgpu
