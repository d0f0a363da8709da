// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"fmt"

	"k8s.io/klog/v2"

	"github.com/gomlx/kernelcache/backends"
	"github.com/gomlx/kernelcache/pkg/core/arrays"
	"github.com/gomlx/kernelcache/pkg/core/kerrors"
	"github.com/gomlx/kernelcache/pkg/core/shapes"
	"github.com/gomlx/kernelcache/pkg/kernels/geometry"
	"github.com/gomlx/kernelcache/pkg/kernels/launch"
	"github.com/gomlx/kernelcache/pkg/kernels/source"
)

// Path is the execution path chosen for an operation.
type Path int

const (
	// PathPassthrough returns the input itself: rank-0 inputs.
	PathPassthrough Path = iota

	// PathFusion hands the operation to the fusion evaluator, no device work.
	PathFusion

	// PathKernel runs a compiled kernel.
	PathKernel
)

// String implements fmt.Stringer.
func (p Path) String() string {
	switch p {
	case PathPassthrough:
		return "passthrough"
	case PathFusion:
		return "fusion"
	case PathKernel:
		return "kernel"
	}
	return fmt.Sprintf("Path(%d)", int(p))
}

// TileShape returns the output shape of tiling in by reps: the per-axis product of extents and factors.
func TileShape(in shapes.Shape, reps [shapes.MaxRank]int) (shapes.Shape, error) {
	if err := in.Check(); err != nil {
		return shapes.Shape{}, err
	}
	var dims [shapes.MaxRank]int
	for axis, rep := range reps {
		if rep <= 0 {
			return shapes.Shape{}, kerrors.Errorf(kerrors.InvalidShape, "tile of %s: replication factor %d on axis %d, it must be > 0", in, rep, axis)
		}
		dims[axis] = in.Dimensions[axis] * rep
	}
	return in.WithDimensions(dims), nil
}

// TilePath decides how tiling in by reps executes, without doing any work.
//
// Rank-0 inputs pass through. Otherwise tiling can be fused iff on every axis either the input extent
// or the replication factor is 1: every output element then aliases one input element, and the result
// is a broadcast. Anything else requires replicating data with the tile kernel.
func TilePath(in shapes.Shape, reps [shapes.MaxRank]int) (Path, error) {
	if in.IsScalar() {
		return PathPassthrough, nil
	}
	if _, err := TileShape(in, reps); err != nil {
		return PathKernel, err
	}
	for axis, rep := range reps {
		if in.Dimensions[axis] != 1 && rep != 1 {
			return PathKernel, nil
		}
	}
	return PathFusion, nil
}

// Tile replicates in reps[i] times along each axis i.
//
// The result is the input itself for rank-0 inputs, a fused broadcast view when no data needs to be
// replicated (see TilePath), or a new array filled by the tile kernel.
func (e *Engine) Tile(in arrays.View, reps [shapes.MaxRank]int) (arrays.View, error) {
	path, err := TilePath(in.Shape, reps)
	if err != nil {
		return arrays.View{}, err
	}
	if path == PathPassthrough {
		klog.V(2).Infof("tile %s: rank 0, passthrough", in.Shape)
		return in, nil
	}
	if _, err := e.lookupSource(source.Tile, in.DType); err != nil {
		return arrays.View{}, err
	}
	if err := in.Check(); err != nil {
		return arrays.View{}, err
	}
	outShape, err := TileShape(in.Shape, reps)
	if err != nil {
		return arrays.View{}, err
	}
	klog.V(2).Infof("tile %s by %v -> %s: %s path", in.Shape, reps, outShape, path)
	if path == PathFusion {
		return e.fuser.Broadcast(in, outShape)
	}
	return e.materialize(kernelCall{
		source: source.Tile,
		dtype:  in.DType,
		inputs: []arrays.View{in},
		output: outShape,
		config: geometry.Copy2D,
		args: func(out arrays.View, geom geometry.Geometry) []backends.KernelArg {
			return launch.Args(
				launch.Buffer(out), launch.Buffer(in), launch.Info(out), launch.Info(in),
				launch.Ints(geom.GroupsX, geom.GroupsY))
		},
	})
}

// TileXYZW is Tile with the replication factors given individually.
func (e *Engine) TileXYZW(in arrays.View, x, y, z, w int) (arrays.View, error) {
	return e.Tile(in, [shapes.MaxRank]int{x, y, z, w})
}
