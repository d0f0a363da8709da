// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hostgo

import (
	"sync"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/gomlx/kernelcache/backends"
	"github.com/gomlx/kernelcache/pkg/core/arrays"
	"github.com/gomlx/kernelcache/pkg/core/kerrors"
	"github.com/gomlx/kernelcache/pkg/core/shapes"
)

// Buffer of a hostgo device: a shape and the flat Go slice holding the elements.
type Buffer struct {
	backend *Backend
	device  backends.DeviceID
	shape   shapes.Shape
	valid   atomic.Bool

	// flat is always a slice of the Go type of shape.DType, with shape.Size() elements.
	flat any
}

// Compile-time check that hostgo.Buffer implements backends.Buffer.
var _ backends.Buffer = (*Buffer)(nil)

// Device implements backends.Buffer.
func (b *Buffer) Device() backends.DeviceID { return b.device }

// Shape implements backends.Buffer.
func (b *Buffer) Shape() shapes.Shape { return b.shape }

// Flat returns the underlying flat slice. It is only safe to access after the device queue finished.
func (b *Buffer) Flat() any { return b.flat }

// Finalize implements backends.Buffer: the memory is returned to the backend pool.
// Finalizing twice is a bug and panics.
func (b *Buffer) Finalize() {
	if !b.valid.Swap(false) {
		exceptions.Panicf("hostgo: Buffer(%s) finalized twice", b.shape)
	}
	b.backend.buffers.put(b)
}

// flatMakers lists the Go element type of each supported dtype.
var flatMakers = map[dtypes.DType]func(n int) any{
	dtypes.Float32:    makeFlat[float32],
	dtypes.Complex64:  makeFlat[complex64],
	dtypes.Float64:    makeFlat[float64],
	dtypes.Complex128: makeFlat[complex128],
	dtypes.Bool:       makeFlat[bool],
	dtypes.Int32:      makeFlat[int32],
	dtypes.Uint32:     makeFlat[uint32],
	dtypes.Int64:      makeFlat[int64],
	dtypes.Uint64:     makeFlat[uint64],
	dtypes.Int16:      makeFlat[int16],
	dtypes.Uint16:     makeFlat[uint16],
	dtypes.Uint8:      makeFlat[uint8],
	dtypes.Float16:    makeFlat[float16.Float16],
}

func makeFlat[T any](n int) any { return make([]T, n) }

// dtypeOfFlat returns the dtype of a flat slice, or InvalidDType if it is not supported.
func dtypeOfFlat(flat any) dtypes.DType {
	switch flat.(type) {
	case []float32:
		return dtypes.Float32
	case []complex64:
		return dtypes.Complex64
	case []float64:
		return dtypes.Float64
	case []complex128:
		return dtypes.Complex128
	case []bool:
		return dtypes.Bool
	case []int32:
		return dtypes.Int32
	case []uint32:
		return dtypes.Uint32
	case []int64:
		return dtypes.Int64
	case []uint64:
		return dtypes.Uint64
	case []int16:
		return dtypes.Int16
	case []uint16:
		return dtypes.Uint16
	case []uint8:
		return dtypes.Uint8
	case []float16.Float16:
		return dtypes.Float16
	}
	return dtypes.InvalidDType
}

type bufferPoolKey struct {
	dtype  dtypes.DType
	length int
}

// bufferPools is a map of bufferPoolKey to *sync.Pool of flat slices.
type bufferPools struct {
	pools sync.Map
}

func (p *bufferPools) pool(dtype dtypes.DType, length int) *sync.Pool {
	key := bufferPoolKey{dtype: dtype, length: length}
	pool, ok := p.pools.Load(key)
	if !ok {
		maker := flatMakers[dtype]
		pool, _ = p.pools.LoadOrStore(key, &sync.Pool{
			New: func() any { return maker(length) },
		})
	}
	return pool.(*sync.Pool)
}

// get returns an uninitialized flat slice, possibly reused.
func (p *bufferPools) get(dtype dtypes.DType, length int) any {
	return p.pool(dtype, length).Get()
}

func (p *bufferPools) put(buf *Buffer) {
	flat := buf.flat
	buf.flat = nil
	p.pool(buf.shape.DType, buf.shape.Size()).Put(flat)
}

// Alloc implements backends.Backend. The contents of the buffer are undefined.
func (b *Backend) Alloc(dev backends.DeviceID, shape shapes.Shape) (backends.Buffer, error) {
	buf, err := b.alloc(dev, shape)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (b *Backend) alloc(dev backends.DeviceID, shape shapes.Shape) (*Buffer, error) {
	if _, err := b.deviceByID(dev); err != nil {
		return nil, err
	}
	if err := shape.Check(); err != nil {
		return nil, err
	}
	if _, found := flatMakers[shape.DType]; !found {
		return nil, kerrors.Errorf(kerrors.UnsupportedElementType, "hostgo: buffers of %s not supported", shape.DType)
	}
	buf := &Buffer{
		backend: b,
		device:  dev,
		shape:   shape,
		flat:    b.buffers.get(shape.DType, shape.Size()),
	}
	buf.valid.Store(true)
	return buf, nil
}

// FromFlat creates a buffer on the device with a copy of flat, a slice of one of the supported Go types,
// with the given dimensions (up to 4). If no dimensions are given, it is a vector of len(flat) elements.
func (b *Backend) FromFlat(dev backends.DeviceID, flat any, dimensions ...int) (*Buffer, error) {
	dtype := dtypeOfFlat(flat)
	if dtype == dtypes.InvalidDType {
		return nil, kerrors.Errorf(kerrors.UnsupportedElementType, "hostgo: flat data of type %T not supported", flat)
	}
	n := flatLen(flat)
	if len(dimensions) == 0 {
		dimensions = []int{n}
	}
	shape, err := shapes.New(dtype, dimensions...)
	if err != nil {
		return nil, err
	}
	if shape.Size() != n {
		return nil, kerrors.Errorf(kerrors.InvalidShape, "hostgo: shape %s requires %d elements, flat data has %d", shape, shape.Size(), n)
	}
	buf, err := b.alloc(dev, shape)
	if err != nil {
		return nil, err
	}
	copyFlat(buf.flat, flat)
	return buf, nil
}

func flatLen(flat any) int {
	switch f := flat.(type) {
	case []float32:
		return len(f)
	case []complex64:
		return len(f)
	case []float64:
		return len(f)
	case []complex128:
		return len(f)
	case []bool:
		return len(f)
	case []int32:
		return len(f)
	case []uint32:
		return len(f)
	case []int64:
		return len(f)
	case []uint64:
		return len(f)
	case []int16:
		return len(f)
	case []uint16:
		return len(f)
	case []uint8:
		return len(f)
	case []float16.Float16:
		return len(f)
	}
	return 0
}

// copyFlat assumes both flat slices are of the same underlying type.
func copyFlat(dst, src any) {
	switch d := dst.(type) {
	case []float32:
		copy(d, src.([]float32))
	case []complex64:
		copy(d, src.([]complex64))
	case []float64:
		copy(d, src.([]float64))
	case []complex128:
		copy(d, src.([]complex128))
	case []bool:
		copy(d, src.([]bool))
	case []int32:
		copy(d, src.([]int32))
	case []uint32:
		copy(d, src.([]uint32))
	case []int64:
		copy(d, src.([]int64))
	case []uint64:
		copy(d, src.([]uint64))
	case []int16:
		copy(d, src.([]int16))
	case []uint16:
		copy(d, src.([]uint16))
	case []uint8:
		copy(d, src.([]uint8))
	case []float16.Float16:
		copy(d, src.([]float16.Float16))
	default:
		exceptions.Panicf("hostgo: copyFlat of unsupported type %T", dst)
	}
}

// Gather reads the elements addressed by the view into a new contiguous slice, axis 0 fastest.
//
// The view must be on a hostgo buffer of Go type T, and its device queue must have been finished:
// Gather doesn't synchronize with pending kernels.
func Gather[T any](v arrays.View) ([]T, error) {
	if err := v.Check(); err != nil {
		return nil, err
	}
	buf, ok := v.Buffer.(*Buffer)
	if !ok {
		return nil, errors.Errorf("hostgo.Gather: view is on a %T buffer, not a hostgo one", v.Buffer)
	}
	if !buf.valid.Load() {
		return nil, errors.Errorf("hostgo.Gather: buffer %s was finalized", buf.shape)
	}
	flat, ok := buf.flat.([]T)
	if !ok {
		var t T
		return nil, errors.Errorf("hostgo.Gather[%T]: buffer holds %s", t, buf.shape.DType)
	}
	dims, strides := v.Dimensions, v.Strides
	out := make([]T, 0, v.Size())
	for w := range dims[3] {
		for z := range dims[2] {
			for y := range dims[1] {
				base := v.Offset + w*strides[3] + z*strides[2] + y*strides[1]
				for x := range dims[0] {
					out = append(out, flat[base+x*strides[0]])
				}
			}
		}
	}
	return out, nil
}
