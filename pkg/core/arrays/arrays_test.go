// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package arrays

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/kernelcache/backends"
	"github.com/gomlx/kernelcache/pkg/core/kerrors"
	"github.com/gomlx/kernelcache/pkg/core/shapes"
)

type fakeBuffer struct {
	shape shapes.Shape
}

func (b *fakeBuffer) Device() backends.DeviceID { return 7 }
func (b *fakeBuffer) Shape() shapes.Shape       { return b.shape }
func (b *fakeBuffer) Finalize()                 {}

func TestContiguous(t *testing.T) {
	buf := &fakeBuffer{shapes.Make(dtypes.Float32, 2, 3, 4)}
	v := Contiguous(buf)
	assert.Equal(t, [4]int{1, 2, 6, 24}, v.Strides)
	assert.Equal(t, 0, v.Offset)
	assert.Equal(t, backends.DeviceID(7), v.Device())
	assert.True(t, v.IsContiguous())
	require.NoError(t, v.Check())

	info := v.Info()
	assert.Equal(t, [4]int{2, 3, 4, 1}, info.Dims)
	assert.Equal(t, v.Strides, info.Strides)
}

func TestCheck(t *testing.T) {
	buf := &fakeBuffer{shapes.Make(dtypes.Float32, 4, 3)}

	// Broadcast view: stride 0 on axis 1.
	v := View{Shape: shapes.Make(dtypes.Float32, 4, 5), Strides: [4]int{1, 0, 0, 0}, Buffer: buf}
	require.NoError(t, v.Check())
	assert.False(t, v.IsContiguous())

	// Out of bounds.
	v = Contiguous(buf)
	v.Offset = 1
	assert.True(t, kerrors.Is(v.Check(), kerrors.InvalidShape))

	// DType mismatch.
	v = Contiguous(buf)
	v.Shape = shapes.Make(dtypes.Int32, 4, 3)
	assert.True(t, kerrors.Is(v.Check(), kerrors.InvalidShape))

	// No buffer.
	assert.True(t, kerrors.Is(View{Shape: shapes.Make(dtypes.Int32, 1)}.Check(), kerrors.InvalidShape))
}
