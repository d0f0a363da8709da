// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"fmt"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/kernelcache/backends/hostgo"
	"github.com/gomlx/kernelcache/pkg/core/kerrors"
	"github.com/gomlx/kernelcache/pkg/kernels/signature"
	"github.com/gomlx/kernelcache/pkg/kernels/source"
)

type number interface {
	float32 | float64 | complex64 | complex128
}

// referenceWrap folds the windows the straightforward way: each window element is added to the output
// pixel it came from, skipping the padding.
func referenceWrap[T number](flat []T, inDims [4]int, p WrapParams) []T {
	nx, ny := must.M2(p.Windows())
	dx, dy := p.dilation()
	outDims := [4]int{p.OutX, p.OutY, inDims[2], inDims[3]}
	out := make([]T, outDims[0]*outDims[1]*outDims[2]*outDims[3])
	for b := range inDims[2] * inDims[3] {
		inBase, outBase := b*inDims[0]*inDims[1], b*p.OutX*p.OutY
		for wy := range ny {
			for wx := range nx {
				wnd := wy*nx + wx
				for yo := range p.WindowY {
					for xo := range p.WindowX {
						ox := wx*p.StrideX + xo*dx - p.PadX
						oy := wy*p.StrideY + yo*dy - p.PadY
						if ox < 0 || ox >= p.OutX || oy < 0 || oy >= p.OutY {
							continue
						}
						win := yo*p.WindowX + xo
						idx := win + wnd*inDims[0]
						if !p.IsColumn {
							idx = wnd + win*inDims[0]
						}
						out[outBase+ox+oy*p.OutX] += flat[inBase+idx]
					}
				}
			}
		}
	}
	return out
}

// wrapInput returns the flat input values and extents for the parameters, with batch extents b2, b3.
func wrapInput[T number](p WrapParams, b2, b3 int) ([]T, [4]int) {
	nx, ny := must.M2(p.Windows())
	dims := [4]int{p.WindowX * p.WindowY, nx * ny, b2, b3}
	if !p.IsColumn {
		dims[0], dims[1] = dims[1], dims[0]
	}
	flat := make([]T, dims[0]*dims[1]*dims[2]*dims[3])
	for i := range flat {
		flat[i] = fromInt[T](i%97 + 1)
	}
	return flat, dims
}

// fromInt converts v to T. Complex values get an imaginary part too.
func fromInt[T number](v int) T {
	var x T
	switch p := any(&x).(type) {
	case *float32:
		*p = float32(v)
	case *float64:
		*p = float64(v)
	case *complex64:
		*p = complex(float32(v), float32(-v%5))
	case *complex128:
		*p = complex(float64(v), float64(-v%5))
	}
	return x
}

func checkWrap[T number](t *testing.T, backend *hostgo.Backend, e *Engine, p WrapParams, b2, b3 int) {
	t.Helper()
	flat, dims := wrapInput[T](p, b2, b3)
	in := fromFlat(t, backend, flat, dims[:]...)
	out, err := e.Wrap(in, p)
	require.NoErrorf(t, err, "wrap of %s with %+v", in.Shape, p)
	assert.Equal(t, [4]int{p.OutX, p.OutY, b2, b3}, out.Dimensions)
	assert.Equalf(t, referenceWrap(flat, dims, p), gather[T](t, e, out), "wrap of %s with %+v", in.Shape, p)
	out.Buffer.Finalize()
}

func TestWrapParams_Windows(t *testing.T) {
	p := WrapParams{OutX: 6, OutY: 5, WindowX: 3, WindowY: 2, StrideX: 1, StrideY: 1}
	nx, ny, err := p.Windows()
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4}, []int{nx, ny})

	p = WrapParams{OutX: 7, OutY: 7, WindowX: 3, WindowY: 3, StrideX: 2, StrideY: 3, PadX: 1, PadY: 2}
	nx, ny = must.M2(p.Windows())
	assert.Equal(t, []int{4, 3}, []int{nx, ny})

	// Dilation 2 on a 3-wide window spans 5 pixels.
	p = WrapParams{OutX: 8, OutY: 8, WindowX: 3, WindowY: 3, StrideX: 1, StrideY: 2, DilationX: 2, DilationY: 1}
	nx, ny = must.M2(p.Windows())
	assert.Equal(t, []int{4, 3}, []int{nx, ny})

	for _, bad := range []WrapParams{
		{OutX: 0, OutY: 4, WindowX: 2, WindowY: 2, StrideX: 1, StrideY: 1},
		{OutX: 4, OutY: 4, WindowX: 0, WindowY: 2, StrideX: 1, StrideY: 1},
		{OutX: 4, OutY: 4, WindowX: 2, WindowY: 2, StrideX: 0, StrideY: 1},
		{OutX: 4, OutY: 4, WindowX: 2, WindowY: 2, StrideX: 1, StrideY: 1, PadX: 2},
		{OutX: 4, OutY: 4, WindowX: 2, WindowY: 2, StrideX: 1, StrideY: 1, PadY: -1},
		{OutX: 4, OutY: 4, WindowX: 2, WindowY: 2, StrideX: 1, StrideY: 1, DilationX: -1},
		{OutX: 4, OutY: 4, WindowX: 5, WindowY: 2, StrideX: 1, StrideY: 1},
		{OutX: 4, OutY: 4, WindowX: 3, WindowY: 2, StrideX: 1, StrideY: 1, DilationX: 2},
	} {
		_, _, err := bad.Windows()
		assert.Truef(t, kerrors.Is(err, kerrors.InvalidShape), "params %+v", bad)
	}
}

func TestWrap(t *testing.T) {
	backend, e := setup(t, "")
	testCases := []WrapParams{
		{OutX: 4, OutY: 4, WindowX: 2, WindowY: 2, StrideX: 2, StrideY: 2},
		{OutX: 5, OutY: 4, WindowX: 3, WindowY: 2, StrideX: 1, StrideY: 1},
		{OutX: 7, OutY: 6, WindowX: 3, WindowY: 3, StrideX: 2, StrideY: 1, PadX: 1, PadY: 2},
		{OutX: 20, OutY: 17, WindowX: 4, WindowY: 3, StrideX: 3, StrideY: 2, PadX: 2, PadY: 1},
		{OutX: 9, OutY: 9, WindowX: 3, WindowY: 3, StrideX: 1, StrideY: 2, DilationX: 2, DilationY: 3},
		{OutX: 10, OutY: 8, WindowX: 2, WindowY: 3, StrideX: 2, StrideY: 1, PadX: 1, PadY: 1, DilationX: 3, DilationY: 2},
	}
	for _, p := range testCases {
		for _, isColumn := range []bool{true, false} {
			p.IsColumn = isColumn
			t.Run(fmt.Sprintf("%+v", p), func(t *testing.T) {
				checkWrap[float32](t, backend, e, p, 1, 1)
				checkWrap[float64](t, backend, e, p, 2, 3)
			})
		}
	}
}

func TestWrap_Complex(t *testing.T) {
	backend, e := setup(t, "")
	p := WrapParams{OutX: 6, OutY: 5, WindowX: 3, WindowY: 2, StrideX: 1, StrideY: 2, PadX: 1, PadY: 1, IsColumn: true}
	checkWrap[complex64](t, backend, e, p, 2, 1)
	checkWrap[complex128](t, backend, e, p, 1, 2)
	p.DilationX = 2
	checkWrap[complex64](t, backend, e, p, 1, 1)
}

// TestWrap_Large uses an output larger than one 16x16 work-group, with several batches.
func TestWrap_Large(t *testing.T) {
	backend, e := setup(t, "")
	p := WrapParams{OutX: 37, OutY: 21, WindowX: 5, WindowY: 4, StrideX: 2, StrideY: 3, PadX: 2, PadY: 1, IsColumn: true}
	checkWrap[float32](t, backend, e, p, 3, 2)
}

func TestWrap_Overlap(t *testing.T) {
	// All-ones 2x2 windows with stride 1 over a 3x3 image: each pixel counts the windows covering it.
	backend, e := setup(t, "")
	p := WrapParams{OutX: 3, OutY: 3, WindowX: 2, WindowY: 2, StrideX: 1, StrideY: 1, IsColumn: true}
	ones := make([]float32, 4*4)
	for i := range ones {
		ones[i] = 1
	}
	out := must.M1(e.Wrap(fromFlat(t, backend, ones, 4, 4), p))
	assert.Equal(t, []float32{1, 2, 1, 2, 4, 2, 1, 2, 1}, gather[float32](t, e, out))
}

func TestWrap_Programs(t *testing.T) {
	backend, e := setup(t, "")
	p := WrapParams{OutX: 4, OutY: 4, WindowX: 2, WindowY: 2, StrideX: 2, StrideY: 2, IsColumn: true}
	checkWrap[float32](t, backend, e, p, 1, 1)
	checkWrap[float32](t, backend, e, p, 1, 1)
	p.IsColumn = false
	checkWrap[float32](t, backend, e, p, 1, 1)

	// is_column=1 and is_column=0 are distinct programs.
	assert.Equal(t, int64(2), activeDevice(backend).Builds())
	for _, isColumn := range []bool{true, false} {
		sig := must.M1(signature.Make(source.Wrap, dtypes.Float32, signature.Flags{source.IsColumnFlag: signature.Bool(isColumn)}))
		_, found := e.Cache().Lookup(activeDevice(backend).ID(), sig)
		assert.Truef(t, found, "signature %q not cached", sig)
	}

	// Dilation 1 uses the plain wrap kernel, anything else the dilated one.
	p.DilationX, p.DilationY = 1, 1
	checkWrap[float32](t, backend, e, p, 1, 1)
	assert.Equal(t, int64(2), activeDevice(backend).Builds())
	p.DilationY = 2
	p.OutY = 6
	checkWrap[float32](t, backend, e, p, 1, 1)
	assert.Equal(t, int64(3), activeDevice(backend).Builds())
}

func TestWrap_Errors(t *testing.T) {
	backend, e := setup(t, "")
	p := WrapParams{OutX: 4, OutY: 4, WindowX: 2, WindowY: 2, StrideX: 2, StrideY: 2, IsColumn: true}

	// Wrong input extents: 4 windows of 4 elements are needed.
	in := fromFlat(t, backend, seq[float32](12), 4, 3)
	_, err := e.Wrap(in, p)
	assert.True(t, kerrors.Is(err, kerrors.InvalidShape))

	bad := p
	bad.StrideY = 0
	_, err = e.Wrap(fromFlat(t, backend, seq[float32](16), 4, 4), bad)
	assert.True(t, kerrors.Is(err, kerrors.InvalidShape))

	// Wrap is only defined for floating point types.
	_, err = e.Wrap(fromFlat(t, backend, seq[int32](16), 4, 4), p)
	assert.True(t, kerrors.Is(err, kerrors.UnsupportedElementType))
	assert.Equal(t, int64(0), activeDevice(backend).Builds())
	assert.Equal(t, int64(0), activeDevice(backend).Launches())

	_, err = e.Wrap(fromFlat(t, backend, seq[float32](16), 4, 4), p)
	require.NoError(t, err)
}
