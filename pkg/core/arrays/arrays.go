// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package arrays defines View, a non-owning description of a strided array living in a device buffer.
//
// A View doesn't own its Buffer: finalizing the buffer is up to whoever allocated it. Views are small
// and passed by value.
package arrays

import (
	"fmt"

	"github.com/gomlx/kernelcache/backends"
	"github.com/gomlx/kernelcache/pkg/core/kerrors"
	"github.com/gomlx/kernelcache/pkg/core/shapes"
)

// View of an array: its shape, plus where its elements are in Buffer.
// Strides and Offset are given in elements, not bytes.
type View struct {
	shapes.Shape
	Strides [shapes.MaxRank]int
	Offset  int
	Buffer  backends.Buffer
}

// Contiguous returns a View over the whole buffer, with its shape and column-major contiguous strides.
func Contiguous(buf backends.Buffer) View {
	shape := buf.Shape()
	return View{Shape: shape, Strides: shape.Strides(), Buffer: buf}
}

// Alloc allocates a new buffer on the device and returns a contiguous View over it.
// The caller owns the buffer.
func Alloc(backend backends.Backend, dev backends.DeviceID, shape shapes.Shape) (View, error) {
	if err := shape.Check(); err != nil {
		return View{}, err
	}
	buf, err := backend.Alloc(dev, shape)
	if err != nil {
		return View{}, err
	}
	return Contiguous(buf), nil
}

// Info returns the kernel descriptor of the view.
func (v View) Info() backends.KParam {
	return backends.KParam{Dims: v.Dimensions, Strides: v.Strides, Offset: v.Offset}
}

// Device where the view's buffer lives.
func (v View) Device() backends.DeviceID {
	return v.Buffer.Device()
}

// IsContiguous returns whether the view's strides are the contiguous ones for its shape.
// Axes of extent 1 are ignored, since their stride is never used.
func (v View) IsContiguous() bool {
	want := v.Shape.Strides()
	for axis, dim := range v.Dimensions {
		if dim != 1 && v.Strides[axis] != want[axis] {
			return false
		}
	}
	return true
}

// Check validates the view: shape extents must be positive, its element type must match the buffer,
// and the furthest element addressed must be inside the buffer.
func (v View) Check() error {
	if err := v.Shape.Check(); err != nil {
		return err
	}
	if v.Buffer == nil {
		return kerrors.Errorf(kerrors.InvalidShape, "array view %s has no buffer", v.Shape)
	}
	bufShape := v.Buffer.Shape()
	if bufShape.DType != v.DType {
		return kerrors.Errorf(kerrors.InvalidShape, "array view of %s over buffer of %s", v.DType, bufShape.DType)
	}
	last := v.Offset
	for axis, dim := range v.Dimensions {
		if v.Strides[axis] < 0 {
			return kerrors.Errorf(kerrors.InvalidShape, "array view %s has negative stride on axis %d", v.Shape, axis)
		}
		last += (dim - 1) * v.Strides[axis]
	}
	if v.Offset < 0 || last >= bufShape.Size() {
		return kerrors.Errorf(kerrors.InvalidShape, "array view %s (strides=%v, offset=%d) out of its buffer bounds (%d elements)",
			v.Shape, v.Strides, v.Offset, bufShape.Size())
	}
	return nil
}

// String implements fmt.Stringer.
func (v View) String() string {
	return fmt.Sprintf("%s{strides=%v, offset=%d}", v.Shape, v.Strides, v.Offset)
}
