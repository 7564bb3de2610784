// Package cpu provides a host-side reference implementation of the
// conveyor driver contract.
//
// The device executes submissions on a single goroutine that plays the
// role of the GPU timeline: submissions run in FIFO order, honor their
// timeline waits, and advance their root timeline by one per finished
// subroutine. Tensors are plain byte slices and always mapped.
//
// Compute work is expressed through [Device.Dispatch], which records an
// arbitrary host function as a command. This makes the package a
// fully functional backend for tests, prototyping and machines without
// a GPU, with scheduling semantics identical to the GPU backends.
package cpu
