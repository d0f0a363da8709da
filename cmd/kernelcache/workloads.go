// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/pkg/errors"

	"github.com/gomlx/kernelcache/pkg/core/arrays"
	"github.com/gomlx/kernelcache/pkg/ops"
)

// element types the run command knows how to generate and verify.
type element interface {
	float32 | float64 | complex64 | complex128 | int32 | int64
}

// fromInt converts v to T. Complex values get an imaginary part too.
func fromInt[T element](v int) T {
	var x T
	switch p := any(&x).(type) {
	case *float32:
		*p = float32(v)
	case *float64:
		*p = float64(v)
	case *complex64:
		*p = complex(float32(v), float32(v%3))
	case *complex128:
		*p = complex(float64(v), float64(v%3))
	case *int32:
		*p = int32(v)
	case *int64:
		*p = int64(v)
	}
	return x
}

// workload is one operation over a fixed input, with its expected result.
type workload[T element] struct {
	dims  [4]int
	input []T
	want  []T
	run   func(e *ops.Engine, in arrays.View) (arrays.View, error)
}

var (
	tileReps    = [4]int{4, 3, 1, 2}
	reorderPerm = [4]int{1, 2, 0, 3}
	wrapParams  = ops.WrapParams{
		OutX: 37, OutY: 21, WindowX: 5, WindowY: 4, StrideX: 2, StrideY: 3, PadX: 2, PadY: 1,
		DilationX: 1, DilationY: 1, IsColumn: true,
	}
)

// Operations supported by newWorkload.
var workloadOps = []string{"tile", "reorder", "wrap"}

func newWorkload[T element](op string) (*workload[T], error) {
	w := &workload[T]{}
	switch op {
	case "tile":
		w.dims = [4]int{3, 5, 2, 1}
		w.fill()
		w.want = referenceTile(w.input, w.dims, tileReps)
		w.run = func(e *ops.Engine, in arrays.View) (arrays.View, error) { return e.Tile(in, tileReps) }
	case "reorder":
		w.dims = [4]int{37, 70, 3, 1}
		w.fill()
		w.want = referenceReorder(w.input, w.dims, reorderPerm)
		w.run = func(e *ops.Engine, in arrays.View) (arrays.View, error) { return e.Reorder(in, reorderPerm) }
	case "wrap":
		nx, ny, err := wrapParams.Windows()
		if err != nil {
			return nil, err
		}
		w.dims = [4]int{wrapParams.WindowX * wrapParams.WindowY, nx * ny, 2, 1}
		w.fill()
		w.want = referenceWrap(w.input, w.dims, wrapParams, nx, ny)
		w.run = func(e *ops.Engine, in arrays.View) (arrays.View, error) { return e.Wrap(in, wrapParams) }
	default:
		return nil, errors.Errorf("unknown operation %q, valid values are %v", op, workloadOps)
	}
	return w, nil
}

func (w *workload[T]) fill() {
	w.input = make([]T, w.dims[0]*w.dims[1]*w.dims[2]*w.dims[3])
	for i := range w.input {
		w.input[i] = fromInt[T](i%101 + 1)
	}
}

func referenceTile[T element](flat []T, in, reps [4]int) []T {
	var out [4]int
	for axis := range out {
		out[axis] = in[axis] * reps[axis]
	}
	result := make([]T, 0, out[0]*out[1]*out[2]*out[3])
	for w := range out[3] {
		for z := range out[2] {
			for y := range out[1] {
				for x := range out[0] {
					ix, iy, iz, iw := x%in[0], y%in[1], z%in[2], w%in[3]
					result = append(result, flat[ix+in[0]*(iy+in[1]*(iz+in[2]*iw))])
				}
			}
		}
	}
	return result
}

func referenceReorder[T element](flat []T, in, perm [4]int) []T {
	var out [4]int
	for axis, from := range perm {
		out[axis] = in[from]
	}
	result := make([]T, 0, len(flat))
	var o, ids [4]int
	for o[3] = 0; o[3] < out[3]; o[3]++ {
		for o[2] = 0; o[2] < out[2]; o[2]++ {
			for o[1] = 0; o[1] < out[1]; o[1]++ {
				for o[0] = 0; o[0] < out[0]; o[0]++ {
					for axis, from := range perm {
						ids[from] = o[axis]
					}
					result = append(result, flat[ids[0]+in[0]*(ids[1]+in[1]*(ids[2]+in[2]*ids[3]))])
				}
			}
		}
	}
	return result
}

// referenceWrap adds every window element to the output pixel it came from, skipping the padding.
// Only column windows are supported.
func referenceWrap[T element](flat []T, in [4]int, p ops.WrapParams, nx, ny int) []T {
	dx, dy := max(p.DilationX, 1), max(p.DilationY, 1)
	out := make([]T, p.OutX*p.OutY*in[2]*in[3])
	for b := range in[2] * in[3] {
		inBase, outBase := b*in[0]*in[1], b*p.OutX*p.OutY
		for wy := range ny {
			for wx := range nx {
				for yo := range p.WindowY {
					for xo := range p.WindowX {
						ox := wx*p.StrideX + xo*dx - p.PadX
						oy := wy*p.StrideY + yo*dy - p.PadY
						if ox < 0 || ox >= p.OutX || oy < 0 || oy >= p.OutY {
							continue
						}
						out[outBase+ox+oy*p.OutX] += flat[inBase+yo*p.WindowX+xo+(wy*nx+wx)*in[0]]
					}
				}
			}
		}
	}
	return out
}
