// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hostgo

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"

	"github.com/gomlx/kernelcache/backends"
)

// workItem identifies one work-item of a launch: its group, its position within the group and the
// group size, as get_group_id, get_local_id and get_local_size would return.
type workItem struct {
	group, local, size [3]int
}

// itemFunc executes one work-item of a launch with its arguments already bound.
type itemFunc func(it workItem)

// binder binds the launch arguments to the kernel implementation for one element type.
// Arguments were validated against the kernel declaration before binding.
type binder func(k *Kernel, args []backends.KernelArg) itemFunc

const maxDTypes = 32

// dtypeDispatcher maps a dtype to the binder of its generic instance.
type dtypeDispatcher struct {
	name  string
	fnMap [maxDTypes]binder
}

func (d *dtypeDispatcher) register(dtype dtypes.DType, fn binder) {
	if dtype >= maxDTypes {
		exceptions.Panicf("dtype %s not supported by %s", dtype, d.name)
	}
	d.fnMap[dtype] = fn
}

// get returns nil if dtype is not supported.
func (d *dtypeDispatcher) get(dtype dtypes.DType) binder {
	if dtype >= maxDTypes {
		return nil
	}
	return d.fnMap[dtype]
}

// kernelImpl is the Go implementation of an entry point.
type kernelImpl struct {
	params    []backends.ParamKind
	flags     []string
	needsZero bool
	dispatch  *dtypeDispatcher
}

const isColumnFlag = "is_column"

var (
	pBuf  = backends.ParamBuffer
	pInfo = backends.ParamInfo
	pInt  = backends.ParamInt

	tileImpl = &kernelImpl{
		params:   []backends.ParamKind{pBuf, pBuf, pInfo, pInfo, pInt, pInt},
		dispatch: &dtypeDispatcher{name: "tile_kernel"},
	}
	reorderImpl = &kernelImpl{
		params:   []backends.ParamKind{pBuf, pBuf, pInfo, pInfo, pInt, pInt, pInt, pInt, pInt, pInt},
		dispatch: &dtypeDispatcher{name: "reorder_kernel"},
	}
	wrapImpl = &kernelImpl{
		params: []backends.ParamKind{pBuf, pInfo, pBuf, pInfo,
			pInt, pInt, pInt, pInt, pInt, pInt, pInt, pInt, pInt, pInt},
		flags:     []string{isColumnFlag},
		needsZero: true,
		dispatch:  &dtypeDispatcher{name: "wrap_kernel"},
	}
	wrapDilatedImpl = &kernelImpl{
		params: []backends.ParamKind{pBuf, pInfo, pBuf, pInfo,
			pInt, pInt, pInt, pInt, pInt, pInt, pInt, pInt, pInt, pInt, pInt, pInt},
		flags:     []string{isColumnFlag},
		needsZero: true,
		dispatch:  &dtypeDispatcher{name: "wrap_dilated_kernel"},
	}

	// kernelImpls maps entry point names to their implementations.
	kernelImpls = map[string]*kernelImpl{
		"tile_kernel":         tileImpl,
		"reorder_kernel":      reorderImpl,
		"wrap_kernel":         wrapImpl,
		"wrap_dilated_kernel": wrapDilatedImpl,
	}
)

func init() {
	registerCopyKernels[float32](dtypes.Float32)
	registerCopyKernels[complex64](dtypes.Complex64)
	registerCopyKernels[float64](dtypes.Float64)
	registerCopyKernels[complex128](dtypes.Complex128)
	registerCopyKernels[bool](dtypes.Bool)
	registerCopyKernels[int32](dtypes.Int32)
	registerCopyKernels[uint32](dtypes.Uint32)
	registerCopyKernels[int64](dtypes.Int64)
	registerCopyKernels[uint64](dtypes.Uint64)
	registerCopyKernels[int16](dtypes.Int16)
	registerCopyKernels[uint16](dtypes.Uint16)
	registerCopyKernels[uint8](dtypes.Uint8)
	registerCopyKernels[float16.Float16](dtypes.Float16)

	registerWrapKernels[float32](dtypes.Float32)
	registerWrapKernels[complex64](dtypes.Complex64)
	registerWrapKernels[float64](dtypes.Float64)
	registerWrapKernels[complex128](dtypes.Complex128)
}

func registerCopyKernels[T any](dtype dtypes.DType) {
	tileImpl.dispatch.register(dtype, bindTile[T])
	reorderImpl.dispatch.register(dtype, bindReorder[T])
}

// summable are the types the window kernels accumulate.
type summable interface {
	constraints.Float | constraints.Complex
}

func registerWrapKernels[T summable](dtype dtypes.DType) {
	wrapImpl.dispatch.register(dtype, bindWrap[T])
	wrapDilatedImpl.dispatch.register(dtype, bindWrapDilated[T])
}

func flatOf[T any](arg backends.KernelArg) []T {
	return arg.Buffer.(*Buffer).flat.([]T)
}

// tileCoords are the coordinates shared by the tiled copy kernels: the output slice (oz, ow) handled by the
// group, the first element (xx, yy) of the work-item, and the increments between its elements.
type tileCoords struct {
	oz, ow, xx, yy, incx, incy int
}

// copyTileCoords returns false if the work-item has nothing to do.
func copyTileCoords(it workItem, op backends.KParam, blocksPerMatX, blocksPerMatY int) (c tileCoords, ok bool) {
	c.oz = it.group[0] / blocksPerMatX
	c.ow = it.group[1] / blocksPerMatY
	blockX := it.group[0] - c.oz*blocksPerMatX
	blockY := it.group[1] - c.ow*blocksPerMatY
	c.xx = it.local[0] + blockX*it.size[0]
	c.yy = it.local[1] + blockY*it.size[1]
	if c.xx >= op.Dims[0] || c.yy >= op.Dims[1] || c.oz >= op.Dims[2] || c.ow >= op.Dims[3] {
		return c, false
	}
	c.incx = blocksPerMatX * it.size[0]
	c.incy = blocksPerMatY * it.size[1]
	return c, true
}

// bindTile: tile_kernel(out, in, op, ip, blocksPerMatX, blocksPerMatY).
func bindTile[T any](_ *Kernel, args []backends.KernelArg) itemFunc {
	out, in := flatOf[T](args[0]), flatOf[T](args[1])
	op, ip := args[2].Info, args[3].Info
	blocksPerMatX, blocksPerMatY := args[4].Int, args[5].Int
	return func(it workItem) {
		c, ok := copyTileCoords(it, op, blocksPerMatX, blocksPerMatY)
		if !ok {
			return
		}
		iz, iw := c.oz%ip.Dims[2], c.ow%ip.Dims[3]
		izw := iw*ip.Strides[3] + iz*ip.Strides[2] + ip.Offset
		ozw := c.ow*op.Strides[3] + c.oz*op.Strides[2] + op.Offset
		for oy := c.yy; oy < op.Dims[1]; oy += c.incy {
			iy := oy % ip.Dims[1]
			for ox := c.xx; ox < op.Dims[0]; ox += c.incx {
				ix := ox % ip.Dims[0]
				out[ozw+oy*op.Strides[1]+ox*op.Strides[0]] = in[izw+iy*ip.Strides[1]+ix*ip.Strides[0]]
			}
		}
	}
}

// bindReorder: reorder_kernel(out, in, op, ip, d0, d1, d2, d3, blocksPerMatX, blocksPerMatY).
func bindReorder[T any](_ *Kernel, args []backends.KernelArg) itemFunc {
	out, in := flatOf[T](args[0]), flatOf[T](args[1])
	op, ip := args[2].Info, args[3].Info
	rdims := [4]int{args[4].Int, args[5].Int, args[6].Int, args[7].Int}
	blocksPerMatX, blocksPerMatY := args[8].Int, args[9].Int
	return func(it workItem) {
		c, ok := copyTileCoords(it, op, blocksPerMatX, blocksPerMatY)
		if !ok {
			return
		}
		oOff := c.ow*op.Strides[3] + c.oz*op.Strides[2] + op.Offset
		var ids [4]int
		ids[rdims[3]] = c.ow
		ids[rdims[2]] = c.oz
		for oy := c.yy; oy < op.Dims[1]; oy += c.incy {
			ids[rdims[1]] = oy
			for ox := c.xx; ox < op.Dims[0]; ox += c.incx {
				ids[rdims[0]] = ox
				iIdx := ids[3]*ip.Strides[3] + ids[2]*ip.Strides[2] + ids[1]*ip.Strides[1] + ids[0]*ip.Strides[0] + ip.Offset
				out[oOff+oy*op.Strides[1]+ox*op.Strides[0]] = in[iIdx]
			}
		}
	}
}

// windowItem is the position of a window kernel work-item: the output element (oidx0, oidx1) and the
// offsets of its 2-D slice in the output and input.
type windowItem struct {
	oidx0, oidx1 int
	oOff, iOff   int
}

func windowCoords(it workItem, out, in backends.KParam, groupsX, groupsY int) (w windowItem, ok bool) {
	idx2 := it.group[0] / groupsX
	idx3 := it.group[1] / groupsY
	groupIDX := it.group[0] - idx2*groupsX
	groupIDY := it.group[1] - idx3*groupsY
	w.oidx0 = it.local[0] + it.size[0]*groupIDX
	w.oidx1 = it.local[1] + it.size[1]*groupIDY
	w.oOff = idx2*out.Strides[2] + idx3*out.Strides[3] + out.Offset
	w.iOff = idx2*in.Strides[2] + idx3*in.Strides[3] + in.Offset
	return w, w.oidx0 < out.Dims[0] && w.oidx1 < out.Dims[1]
}

// windowIndex returns the input index of the element of window wnd at position win inside the window.
func windowIndex(in backends.KParam, isColumn bool, wnd, win int) int {
	if isColumn {
		return wnd*in.Strides[1] + win*in.Strides[0]
	}
	return wnd*in.Strides[0] + win*in.Strides[1]
}

// bindWrap: wrap_kernel(optr, out, iptr, in, wx, wy, sx, sy, px, py, nx, ny, groups_x, groups_y).
//
// Each work-item computes one output element, adding the contribution of every window covering it.
func bindWrap[T summable](k *Kernel, args []backends.KernelArg) itemFunc {
	optr, out := flatOf[T](args[0]), args[1].Info
	iptr, in := flatOf[T](args[2]), args[3].Info
	wx, wy, sx, sy := args[4].Int, args[5].Int, args[6].Int, args[7].Int
	px, py, nx, ny := args[8].Int, args[9].Int, args[10].Int, args[11].Int
	groupsX, groupsY := args[12].Int, args[13].Int
	isColumn := k.flags[isColumnFlag] != 0
	zero := k.program.zero.(T)
	return func(it workItem) {
		w, ok := windowCoords(it, out, in, groupsX, groupsY)
		if !ok {
			return
		}
		pidx0, pidx1 := w.oidx0+px, w.oidx1+py

		// The last window containing the pixel is at padded_index / stride, each previous window is
		// "stride" further away inside its own window.
		xEnd, yEnd := min(pidx0/sx, nx-1), min(pidx1/sy, ny-1)
		xOff, yOff := pidx0-sx*xEnd, pidx1-sy*yEnd

		val := zero
		for y, yo := yEnd, yOff; y >= 0 && yo < wy; y, yo = y-1, yo+sy {
			for x, xo := xEnd, xOff; x >= 0 && xo < wx; x, xo = x-1, xo+sx {
				val += iptr[w.iOff+windowIndex(in, isColumn, y*nx+x, yo*wx+xo)]
			}
		}
		optr[w.oOff+w.oidx1*out.Strides[1]+w.oidx0*out.Strides[0]] = val
	}
}

// bindWrapDilated: wrap_dilated_kernel(optr, out, iptr, in, wx, wy, sx, sy, px, py, dx, dy, nx, ny, groups_x, groups_y).
func bindWrapDilated[T summable](k *Kernel, args []backends.KernelArg) itemFunc {
	optr, out := flatOf[T](args[0]), args[1].Info
	iptr, in := flatOf[T](args[2]), args[3].Info
	wx, wy, sx, sy := args[4].Int, args[5].Int, args[6].Int, args[7].Int
	px, py, dx, dy := args[8].Int, args[9].Int, args[10].Int, args[11].Int
	nx, ny := args[12].Int, args[13].Int
	groupsX, groupsY := args[14].Int, args[15].Int
	isColumn := k.flags[isColumnFlag] != 0
	zero := k.program.zero.(T)
	effWX, effWY := (wx-1)*dx+1, (wy-1)*dy+1
	start := func(pidx, eff, stride int) int {
		if pidx < eff {
			return 0
		}
		return (pidx-eff)/stride + 1
	}
	return func(it workItem) {
		w, ok := windowCoords(it, out, in, groupsX, groupsY)
		if !ok {
			return
		}
		pidx0, pidx1 := w.oidx0+px, w.oidx1+py
		xStart, yStart := start(pidx0, effWX, sx), start(pidx1, effWY, sy)
		xEnd, yEnd := min(pidx0/sx+1, nx), min(pidx1/sy+1, ny)

		val := zero
		for y := yStart; y < yEnd; y++ {
			ty := pidx1 - y*sy
			if ty%dy != 0 {
				continue
			}
			yo := ty / dy
			for x := xStart; x < xEnd; x++ {
				tx := pidx0 - x*sx
				if tx%dx != 0 {
					continue
				}
				xo := tx / dx
				val += iptr[w.iOff+windowIndex(in, isColumn, y*nx+x, yo*wx+xo)]
			}
		}
		optr[w.oOff+w.oidx1*out.Strides[1]+w.oidx0*out.Strides[0]] = val
	}
}
