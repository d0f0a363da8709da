// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"github.com/gomlx/kernelcache/backends"
	"github.com/gomlx/kernelcache/pkg/core/arrays"
	"github.com/gomlx/kernelcache/pkg/core/kerrors"
	"github.com/gomlx/kernelcache/pkg/core/shapes"
	"github.com/gomlx/kernelcache/pkg/kernels/geometry"
	"github.com/gomlx/kernelcache/pkg/kernels/launch"
	"github.com/gomlx/kernelcache/pkg/kernels/signature"
	"github.com/gomlx/kernelcache/pkg/kernels/source"
)

// WrapParams are the parameters of Wrap, for the x (axis 0) and y (axis 1) axes.
type WrapParams struct {
	// OutX, OutY are the extents of the output image.
	OutX, OutY int

	// WindowX, WindowY are the window extents.
	WindowX, WindowY int

	// StrideX, StrideY are the distances between consecutive windows.
	StrideX, StrideY int

	// PadX, PadY is the padding on each side of the image, smaller than the window.
	PadX, PadY int

	// DilationX, DilationY are the distances between window taps. 0 is taken as 1 (no dilation).
	DilationX, DilationY int

	// IsColumn indicates each window is a column of the input (axis 0 indexes inside the window),
	// otherwise a row.
	IsColumn bool
}

// dilation returns the dilation, with the 0 default taken as 1.
func (p WrapParams) dilation() (dx, dy int) {
	dx, dy = p.DilationX, p.DilationY
	if dx == 0 {
		dx = 1
	}
	if dy == 0 {
		dy = 1
	}
	return
}

// Windows returns the number of windows along x and y, and an InvalidShape error if the parameters
// are invalid.
func (p WrapParams) Windows() (nx, ny int, err error) {
	dx, dy := p.dilation()
	switch {
	case p.OutX <= 0 || p.OutY <= 0:
		err = kerrors.Errorf(kerrors.InvalidShape, "wrap: output extents (%d, %d) must be > 0", p.OutX, p.OutY)
	case p.WindowX <= 0 || p.WindowY <= 0:
		err = kerrors.Errorf(kerrors.InvalidShape, "wrap: window extents (%d, %d) must be > 0", p.WindowX, p.WindowY)
	case p.StrideX <= 0 || p.StrideY <= 0:
		err = kerrors.Errorf(kerrors.InvalidShape, "wrap: strides (%d, %d) must be > 0", p.StrideX, p.StrideY)
	case p.PadX < 0 || p.PadX >= p.WindowX || p.PadY < 0 || p.PadY >= p.WindowY:
		err = kerrors.Errorf(kerrors.InvalidShape, "wrap: padding (%d, %d) must be >= 0 and smaller than the window (%d, %d)",
			p.PadX, p.PadY, p.WindowX, p.WindowY)
	case dx < 0 || dy < 0:
		err = kerrors.Errorf(kerrors.InvalidShape, "wrap: dilation (%d, %d) must be > 0", p.DilationX, p.DilationY)
	}
	if err != nil {
		return
	}
	effX, effY := (p.WindowX-1)*dx+1, (p.WindowY-1)*dy+1
	spanX, spanY := p.OutX+2*p.PadX-effX, p.OutY+2*p.PadY-effY
	if spanX < 0 || spanY < 0 {
		err = kerrors.Errorf(kerrors.InvalidShape, "wrap: window (%d, %d) with dilation (%d, %d) doesn't fit in the padded output (%d, %d)",
			p.WindowX, p.WindowY, dx, dy, p.OutX+2*p.PadX, p.OutY+2*p.PadY)
		return
	}
	return 1 + spanX/p.StrideX, 1 + spanY/p.StrideY, nil
}

// Wrap folds the windows of in back into an image: the inverse of unwrapping an image into sliding
// windows (col2im). Output elements covered by several windows get the sum of their contributions.
//
// For IsColumn, in must have extents (WindowX*WindowY, nx*ny) on its first two axes, and each column
// is a window; otherwise the first two axes are swapped. Axes 2 and 3 are batch axes. The output has
// extents (OutX, OutY, in.d2, in.d3).
func (e *Engine) Wrap(in arrays.View, p WrapParams) (arrays.View, error) {
	if err := in.Shape.Check(); err != nil {
		return arrays.View{}, err
	}
	nx, ny, err := p.Windows()
	if err != nil {
		return arrays.View{}, err
	}
	windowSize, numWindows := p.WindowX*p.WindowY, nx*ny
	want := [2]int{windowSize, numWindows}
	if !p.IsColumn {
		want = [2]int{numWindows, windowSize}
	}
	if in.Dimensions[0] != want[0] || in.Dimensions[1] != want[1] {
		return arrays.View{}, kerrors.Errorf(kerrors.InvalidShape, "wrap: input %s must have extents %v on its first 2 axes, for %d windows of %dx%d (column=%v)",
			in.Shape, want, numWindows, p.WindowX, p.WindowY, p.IsColumn)
	}

	dx, dy := p.dilation()
	name := source.Wrap
	if dx != 1 || dy != 1 {
		name = source.WrapDilated
	}
	outShape := in.Shape.WithDimensions([shapes.MaxRank]int{p.OutX, p.OutY, in.Dimensions[2], in.Dimensions[3]})
	return e.materialize(kernelCall{
		source: name,
		dtype:  in.DType,
		inputs: []arrays.View{in},
		flags:  signature.Flags{source.IsColumnFlag: signature.Bool(p.IsColumn)},
		output: outShape,
		config: geometry.Window2D,
		args: func(out arrays.View, geom geometry.Geometry) []backends.KernelArg {
			args := launch.Args(
				launch.Buffer(out), launch.Info(out), launch.Buffer(in), launch.Info(in),
				launch.Ints(p.WindowX, p.WindowY, p.StrideX, p.StrideY, p.PadX, p.PadY))
			if name == source.WrapDilated {
				args = append(args, launch.Ints(dx, dy)...)
			}
			return append(args, launch.Ints(nx, ny, geom.GroupsX, geom.GroupsY)...)
		},
	})
}
