// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/gomlx/kernelcache/backends/hostgo"
	"github.com/gomlx/kernelcache/pkg/core/arrays"
	"github.com/gomlx/kernelcache/pkg/core/kerrors"
	"github.com/gomlx/kernelcache/pkg/core/shapes"
)

func TestTilePath(t *testing.T) {
	testCases := []struct {
		dims []int
		reps [4]int
		want Path
	}{
		{[]int{1, 3}, [4]int{4, 1, 1, 1}, PathFusion},
		{[]int{2, 3}, [4]int{4, 1, 1, 1}, PathKernel},
		{[]int{2, 3}, [4]int{1, 1, 1, 1}, PathFusion},
		{[]int{2, 3}, [4]int{1, 1, 5, 7}, PathFusion},
		{[]int{2, 1, 3}, [4]int{1, 2, 1, 1}, PathFusion},
		{[]int{2, 1, 3}, [4]int{1, 2, 2, 1}, PathKernel},
		{[]int{1, 1, 1, 2}, [4]int{3, 3, 3, 1}, PathFusion},
		{[]int{1, 1, 1, 2}, [4]int{1, 1, 1, 2}, PathKernel},
	}
	for _, tc := range testCases {
		in := shapes.Make(dtypes.Float32, tc.dims...)
		got, err := TilePath(in, tc.reps)
		require.NoError(t, err)
		assert.Equalf(t, tc.want, got, "TilePath(%s, %v)", in, tc.reps)
	}

	got, err := TilePath(shapes.Scalar(dtypes.Float32), [4]int{4, 4, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, PathPassthrough, got)
	assert.Equal(t, "passthrough", got.String())
	assert.Equal(t, "kernel", PathKernel.String())

	_, err = TilePath(shapes.Make(dtypes.Float32, 2), [4]int{0, 1, 1, 1})
	assert.True(t, kerrors.Is(err, kerrors.InvalidShape))
	_, err = TilePath(shapes.FromDims(dtypes.Float32, 2, [4]int{2, 0, 1, 1}), [4]int{1, 1, 1, 1})
	assert.True(t, kerrors.Is(err, kerrors.InvalidShape))

	out := must.M1(TileShape(shapes.Make(dtypes.Float32, 2, 3), [4]int{4, 1, 2, 1}))
	assert.Equal(t, [4]int{8, 3, 2, 1}, out.Dimensions)
	assert.Equal(t, 3, out.Rank())
}

func TestTile_Dispatch(t *testing.T) {
	backend, e := setup(t, "")
	dev := activeDevice(backend)

	// (1,3,1,1) by (4,1,1,1): fused, no device work.
	in := fromFlat(t, backend, []float32{1, 2, 3}, 1, 3)
	out, err := e.Tile(in, [4]int{4, 1, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, [4]int{4, 3, 1, 1}, out.Dimensions)
	assert.Same(t, in.Buffer, out.Buffer)
	assert.Equal(t, int64(0), dev.Builds())
	assert.Equal(t, int64(0), dev.Launches())
	assert.Equal(t, int64(0), e.Cache().Stats().Compiles)
	assert.Equal(t, []float32{1, 1, 1, 1, 2, 2, 2, 2, 3, 3, 3, 3}, gather[float32](t, e, out))

	// (2,3,1,1) by (2,1,1,1): tile kernel, output (4,3,1,1).
	in = fromFlat(t, backend, seq[float32](6), 2, 3)
	out, err = e.TileXYZW(in, 2, 1, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, [4]int{4, 3, 1, 1}, out.Dimensions)
	assert.NotSame(t, in.Buffer, out.Buffer)
	assert.Equal(t, int64(1), dev.Builds())
	assert.Equal(t, int64(1), dev.Launches())
	assert.Equal(t, []float32{1, 2, 1, 2, 3, 4, 3, 4, 5, 6, 5, 6}, gather[float32](t, e, out))

	// (2,3,1,1) by (4,1,1,1): same kernel, reused from the cache.
	out, err = e.Tile(in, [4]int{4, 1, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, [4]int{8, 3, 1, 1}, out.Dimensions)
	assert.Equal(t, []float32{
		1, 2, 1, 2, 1, 2, 1, 2,
		3, 4, 3, 4, 3, 4, 3, 4,
		5, 6, 5, 6, 5, 6, 5, 6,
	}, gather[float32](t, e, out))
	assert.Equal(t, int64(1), dev.Builds())
	assert.Equal(t, int64(2), dev.Launches())
	stats := e.Cache().Stats()
	assert.Equal(t, int64(1), stats.Compiles)
	assert.Equal(t, int64(1), stats.Hits)
}

func TestTile_Passthrough(t *testing.T) {
	backend, e := setup(t, "")
	dev := activeDevice(backend)
	v := fromFlat(t, backend, []float32{3}, 1)
	v.Shape = shapes.Scalar(dtypes.Float32)
	for _, reps := range [][4]int{{1, 1, 1, 1}, {4, 1, 1, 1}, {2, 3, 4, 5}, {0, -1, 1, 1}} {
		out, err := e.Tile(v, reps)
		require.NoError(t, err)
		assert.Equal(t, v, out)
	}
	out := must.M1(e.Reorder(v, [4]int{3, 2, 1, 0}))
	assert.Same(t, v.Buffer, out.Buffer)
	assert.Equal(t, int64(0), dev.Builds())
	assert.Equal(t, int64(0), dev.Launches())
	assert.Equal(t, int64(0), e.Cache().Stats().Compiles)
}

func TestTile_Errors(t *testing.T) {
	backend, e := setup(t, "")
	in := fromFlat(t, backend, seq[float32](6), 2, 3)
	_, err := e.Tile(in, [4]int{2, -1, 1, 1})
	assert.True(t, kerrors.Is(err, kerrors.InvalidShape))

	// Int8 has no kernel support: rejected on both paths, before any device work.
	int8View := arrays.View{Shape: shapes.Make(dtypes.Int8, 2, 3)}
	_, err = e.Tile(int8View, [4]int{2, 1, 1, 1})
	assert.True(t, kerrors.Is(err, kerrors.UnsupportedElementType))
	_, err = e.Tile(int8View, [4]int{1, 1, 2, 1})
	assert.True(t, kerrors.Is(err, kerrors.UnsupportedElementType))

	// View addressing elements out of its buffer.
	bad := in
	bad.Offset = 1
	_, err = e.Tile(bad, [4]int{2, 1, 1, 1})
	assert.True(t, kerrors.Is(err, kerrors.InvalidShape))
	out, err := e.Tile(bad, [4]int{1, 1, 2, 1})
	assert.True(t, kerrors.Is(err, kerrors.InvalidShape), "fusion path got %v, %s", err, out)

	// View with no buffer, on both paths.
	noBuffer := in
	noBuffer.Buffer = nil
	_, err = e.Tile(noBuffer, [4]int{4, 1, 1, 1})
	assert.True(t, kerrors.Is(err, kerrors.InvalidShape))
	_, err = e.Tile(noBuffer, [4]int{1, 1, 2, 1})
	assert.True(t, kerrors.Is(err, kerrors.InvalidShape))
	assert.Equal(t, int64(0), activeDevice(backend).Builds())
	assert.Equal(t, int64(0), activeDevice(backend).Launches())
}

// referenceTile tiles the flat elements of an input with extents in, into an output with extents out.
func referenceTile[T any](flat []T, in, out [4]int) []T {
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

func TestTile_Large(t *testing.T) {
	// Output larger than the 512x32 elements handled by a group on x, with partial tiles on the borders.
	backend, e := setup(t, "")
	inDims := [4]int{3, 5, 2, 2}
	flat := seq[int32](3 * 5 * 2 * 2)
	in := fromFlat(t, backend, flat, inDims[:]...)
	out := must.M1(e.Tile(in, [4]int{400, 9, 1, 2}))
	outDims := [4]int{1200, 45, 2, 4}
	assert.Equal(t, outDims, out.Dimensions)
	require.Equal(t, referenceTile(flat, inDims, outDims), gather[int32](t, e, out))

	// Strided input: the first two axes swapped.
	swapped := in
	swapped.Shape = shapes.Make(dtypes.Int32, 5, 3, 4)
	swapped.Strides = [4]int{3, 1, 15, 60}
	swappedFlat := must.M1(hostgo.Gather[int32](swapped))
	out = must.M1(e.Tile(swapped, [4]int{3, 2, 1, 1}))
	assert.Equal(t, referenceTile(swappedFlat, [4]int{5, 3, 4, 1}, [4]int{15, 6, 4, 1}), gather[int32](t, e, out))
}

// checkTileType tiles a (2,3,1,2) array of the given values by (2,1,3,1) and compares it to the reference.
func checkTileType[T any](t *testing.T, backend *hostgo.Backend, e *Engine, flat []T) {
	t.Helper()
	inDims := [4]int{2, 3, 1, 2}
	in := fromFlat(t, backend, flat, inDims[:]...)
	out, err := e.Tile(in, [4]int{2, 1, 3, 1})
	require.NoErrorf(t, err, "tile of %s", in.DType)
	assert.Equalf(t, referenceTile(flat, inDims, [4]int{4, 3, 3, 2}), gather[T](t, e, out), "tile of %s", in.DType)
}

func TestTile_AllTypes(t *testing.T) {
	backend, e := setup(t, "")
	checkTileType(t, backend, e, seq[float32](12))
	checkTileType(t, backend, e, seq[float64](12))
	checkTileType(t, backend, e, seq[int32](12))
	checkTileType(t, backend, e, []complex64{1 + 1i, 2, 3, 4i, 5, 6, 7, 8, 9, 10, 11, 12 - 3i})
	checkTileType(t, backend, e, []complex128{1 + 1i, 2, 3, 4i, 5, 6, 7, 8, 9, 10, 11, 12 - 3i})
	checkTileType(t, backend, e, []bool{true, false, false, true, true, true, false, false, true, false, true, false})
	checkTileType(t, backend, e, []uint32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 1 << 31})
	checkTileType(t, backend, e, []int64{-1, 2, -3, 4, 5, 6, 7, 8, 9, 10, 11, 1 << 40})
	checkTileType(t, backend, e, []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 1 << 63})
	checkTileType(t, backend, e, []int16{-1, 2, -3, 4, 5, 6, 7, 8, 9, 10, 11, -12})
	checkTileType(t, backend, e, []uint16{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 65535})
	checkTileType(t, backend, e, []uint8{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 255})
	halves := make([]float16.Float16, 12)
	for i := range halves {
		halves[i] = float16.Fromfloat32(float32(i) / 4)
	}
	checkTileType(t, backend, e, halves)

	// One program per element type.
	assert.Equal(t, int64(13), activeDevice(backend).Builds())
	assert.Equal(t, 13, e.Cache().Stats().Entries)
}

func TestTile_DebugSync(t *testing.T) {
	backend, e := setup(t, "", WithDebugSync(true))
	in := fromFlat(t, backend, seq[float64](4), 2, 2)
	out := must.M1(e.Tile(in, [4]int{2, 1, 1, 1}))
	// The launch already finished: reading back without Sync.
	got := must.M1(hostgo.Gather[float64](out))
	assert.Equal(t, []float64{1, 2, 1, 2, 3, 4, 3, 4}, got)
}
