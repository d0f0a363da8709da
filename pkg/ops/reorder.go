// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"github.com/gomlx/kernelcache/backends"
	"github.com/gomlx/kernelcache/pkg/core/arrays"
	"github.com/gomlx/kernelcache/pkg/core/kerrors"
	"github.com/gomlx/kernelcache/pkg/core/shapes"
	"github.com/gomlx/kernelcache/pkg/kernels/geometry"
	"github.com/gomlx/kernelcache/pkg/kernels/launch"
	"github.com/gomlx/kernelcache/pkg/kernels/source"
)

// ReorderShape returns the shape of in with its axes permuted: output axis i is input axis perm[i].
func ReorderShape(in shapes.Shape, perm [shapes.MaxRank]int) (shapes.Shape, error) {
	if err := in.Check(); err != nil {
		return shapes.Shape{}, err
	}
	var seen [shapes.MaxRank]bool
	var dims [shapes.MaxRank]int
	for axis, from := range perm {
		if from < 0 || from >= shapes.MaxRank || seen[from] {
			return shapes.Shape{}, kerrors.Errorf(kerrors.InvalidShape, "reorder of %s: %v is not a permutation of the axes 0 to 3", in, perm)
		}
		seen[from] = true
		dims[axis] = in.Dimensions[from]
	}
	return in.WithDimensions(dims), nil
}

// Reorder permutes the axes of in: output axis i is input axis perm[i]. The result is always
// materialized in a new contiguous array, except for rank-0 inputs which are returned as is.
func (e *Engine) Reorder(in arrays.View, perm [shapes.MaxRank]int) (arrays.View, error) {
	if in.IsScalar() {
		return in, nil
	}
	outShape, err := ReorderShape(in.Shape, perm)
	if err != nil {
		return arrays.View{}, err
	}
	return e.materialize(kernelCall{
		source: source.Reorder,
		dtype:  in.DType,
		inputs: []arrays.View{in},
		output: outShape,
		config: geometry.Copy2D,
		args: func(out arrays.View, geom geometry.Geometry) []backends.KernelArg {
			return launch.Args(
				launch.Buffer(out), launch.Buffer(in), launch.Info(out), launch.Info(in),
				launch.Ints(perm[0], perm[1], perm[2], perm[3], geom.GroupsX, geom.GroupsY))
		},
	})
}
