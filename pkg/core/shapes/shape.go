// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape, the element type and 4-dimensional extent of an array.
//
// The engine works on a fixed 4-D array model: every array has 4 axes, and arrays of lower
// rank simply have extent 1 on the trailing axes. Axis 0 is the fastest varying one (the
// memory layout is "column-major" in that sense), so contiguous strides are (1, d0, d0*d1, d0*d1*d2).
//
// ## Glossary
//
//   - Rank: number of declared axes, between 0 and 4. Axes above the rank have extent 1.
//   - Axis: index of a dimension, 0 to 3.
//   - Dimension (or extent): size of an axis.
//   - DType: the element type, see github.com/gomlx/gopjrt/dtypes.
//   - Scalar: a shape with rank 0.
//
// Example: `shapes.Make(dtypes.Float32, 2, 3)` is a rank-2 shape with dimensions [2 3 1 1].
package shapes

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/kernelcache/pkg/core/kerrors"
)

// MaxRank is the number of axes of the array model.
const MaxRank = 4

// Shape of an array: element type and the 4 axis extents.
//
// Use Make to create a new shape.
type Shape struct {
	DType      dtypes.DType
	Dimensions [MaxRank]int
	rank       int
}

// Make returns a Shape with the given dtype and dimensions. Missing trailing axes get extent 1.
//
// It panics if more than MaxRank dimensions are given or if any dimension is <= 0: use New
// when the dimensions come from user input.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s, err := New(dtype, dimensions...)
	if err != nil {
		exceptions.Panicf("shapes.Make(%s, %v): %v", dtype, dimensions, err)
	}
	return s
}

// New is like Make, but returns an InvalidShape error instead of panicking.
func New(dtype dtypes.DType, dimensions ...int) (Shape, error) {
	if len(dimensions) > MaxRank {
		return Shape{}, kerrors.Errorf(kerrors.InvalidShape, "rank %d larger than max rank %d", len(dimensions), MaxRank)
	}
	s := Shape{DType: dtype, Dimensions: [MaxRank]int{1, 1, 1, 1}, rank: len(dimensions)}
	copy(s.Dimensions[:], dimensions)
	if err := s.Check(); err != nil {
		return Shape{}, err
	}
	return s, nil
}

// FromDims returns a shape with the given rank and dimensions as is, without validation.
//
// It is meant for describing arrays created elsewhere. Use Check to validate it.
func FromDims(dtype dtypes.DType, rank int, dimensions [MaxRank]int) Shape {
	return Shape{DType: dtype, Dimensions: dimensions, rank: rank}
}

// Scalar returns a rank-0 shape for the given dtype.
func Scalar(dtype dtypes.DType) Shape {
	return Shape{DType: dtype, Dimensions: [MaxRank]int{1, 1, 1, 1}}
}

// Ok returns whether this is a valid Shape. A "zero" Shape{} is invalid.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank of the shape: the number of declared axes.
func (s Shape) Rank() int { return s.rank }

// IsScalar returns whether the shape has rank 0.
func (s Shape) IsScalar() bool { return s.rank == 0 }

// Dim returns the extent of the given axis, 0 to 3.
func (s Shape) Dim(axis int) int {
	if axis < 0 || axis >= MaxRank {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for shape %s", axis, s)
	}
	return s.Dimensions[axis]
}

// Size returns the number of elements: the product of all dimensions.
func (s Shape) Size() (size int) {
	size = 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return
}

// Memory returns the number of bytes used by a contiguous array of this shape.
func (s Shape) Memory() uintptr {
	return s.DType.Memory() * uintptr(s.Size())
}

// Strides returns the contiguous strides, in elements, with axis 0 the fastest varying.
func (s Shape) Strides() (strides [MaxRank]int) {
	stride := 1
	for axis, dim := range s.Dimensions {
		strides[axis] = stride
		stride *= dim
	}
	return
}

// Check returns an InvalidShape error if the shape has an invalid rank or a non-positive extent.
func (s Shape) Check() error {
	if s.rank < 0 || s.rank > MaxRank {
		return kerrors.Errorf(kerrors.InvalidShape, "shape %s has invalid rank %d", s, s.rank)
	}
	for axis, dim := range s.Dimensions {
		if dim <= 0 {
			return kerrors.Errorf(kerrors.InvalidShape, "shape %s has extent %d on axis %d, extents must be > 0", s, dim, axis)
		}
	}
	return nil
}

// WithDimensions returns a copy of the shape with new dimensions. The rank is raised to cover the
// last axis with extent != 1, but never lowered.
func (s Shape) WithDimensions(dimensions [MaxRank]int) Shape {
	s.Dimensions = dimensions
	for axis := MaxRank - 1; axis >= s.rank; axis-- {
		if dimensions[axis] != 1 {
			s.rank = axis + 1
			break
		}
	}
	return s
}

// Equal compares dtype, rank and dimensions.
func (s Shape) Equal(s2 Shape) bool {
	return s.DType == s2.DType && s.rank == s2.rank && s.Dimensions == s2.Dimensions
}

// String implements stringer, pretty-prints the shape.
func (s Shape) String() string {
	if s.rank == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	return fmt.Sprintf("(%s)%v", s.DType, s.Dimensions[:s.rank])
}
