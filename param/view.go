package param

import (
	"math"
	"unsafe"
)

// Typed views reinterpret raw byte memory without copying. They are the
// host-side counterpart of a shader reading the same memory as an array
// of scalars. The byte slice must stay alive and unmoved for the
// lifetime of the view; all slices returned by driver tensors and
// buffers satisfy this.

// Float32View reinterprets buf as a []float32. Trailing bytes that do
// not fill a full element are dropped.
func Float32View(buf []byte) []float32 {
	n := len(buf) / 4
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&buf[0])), n)
}

// Int32View reinterprets buf as a []int32.
func Int32View(buf []byte) []int32 {
	n := len(buf) / 4
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&buf[0])), n)
}

// Uint32View reinterprets buf as a []uint32.
func Uint32View(buf []byte) []uint32 {
	n := len(buf) / 4
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&buf[0])), n)
}

// Float64View reinterprets buf as a []float64.
func Float64View(buf []byte) []float64 {
	n := len(buf) / 8
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*float64)(unsafe.Pointer(&buf[0])), n)
}

// CopyFloat32 copies src into buf as little-endian float32 values,
// for code that prefers an explicit serialization step over a view.
func CopyFloat32(buf []byte, src []float32) {
	for i, v := range src {
		putUint32(buf[i*4:], math.Float32bits(v))
	}
}

// CopyInt32 copies src into buf as little-endian int32 values.
func CopyInt32(buf []byte, src []int32) {
	for i, v := range src {
		putUint32(buf[i*4:], uint32(v)) //nolint:gosec // bit-cast
	}
}

func putUint32(buf []byte, val uint32) {
	buf[0] = byte(val)
	buf[1] = byte(val >> 8)
	buf[2] = byte(val >> 16)
	buf[3] = byte(val >> 24)
}
