// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"sync"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/kernelcache/backends/hostgo"
	"github.com/gomlx/kernelcache/pkg/core/arrays"
	"github.com/gomlx/kernelcache/pkg/core/kerrors"
	"github.com/gomlx/kernelcache/pkg/kernels/cache"
	"github.com/gomlx/kernelcache/pkg/kernels/signature"
	"github.com/gomlx/kernelcache/pkg/kernels/source"
)

// setup returns a new backend and an engine over it, with a fresh cache, both finalized at the end of the test.
func setup(t *testing.T, config string, opts ...Option) (*hostgo.Backend, *Engine) {
	backend := must.M1(hostgo.NewBackend(config))
	engine := New(backend, opts...)
	t.Cleanup(func() {
		assert.NoError(t, engine.Close())
		backend.Finalize()
	})
	return backend, engine
}

func fromFlat[T any](t *testing.T, backend *hostgo.Backend, flat []T, dims ...int) arrays.View {
	t.Helper()
	buf, err := backend.FromFlat(backend.ActiveDevice().ID(), flat, dims...)
	require.NoError(t, err)
	return arrays.Contiguous(buf)
}

func gather[T any](t *testing.T, e *Engine, v arrays.View) []T {
	t.Helper()
	require.NoError(t, e.Sync())
	got, err := hostgo.Gather[T](v)
	require.NoError(t, err)
	return got
}

func activeDevice(b *hostgo.Backend) *hostgo.Device {
	return b.ActiveDevice().(*hostgo.Device)
}

// seq returns n values 1, 2, ..., n.
func seq[T int32 | float32 | float64](n int) []T {
	values := make([]T, n)
	for i := range values {
		values[i] = T(i + 1)
	}
	return values
}

func TestEngine_Options(t *testing.T) {
	shared := cache.New(cache.WithName("shared"))
	_, e1 := setup(t, "", WithCache(shared))
	_, e2 := setup(t, "", WithCache(shared), WithRegistry(source.NewRegistry()), WithDebugSync(true))
	assert.Same(t, shared, e1.Cache())
	assert.Same(t, shared, e2.Cache())
	assert.Empty(t, e2.Registry().Names())
	assert.Equal(t, source.Default(), e1.Registry())
	assert.True(t, e2.debugSync)

	// Closing an engine doesn't shut down a shared cache.
	require.NoError(t, e1.Close())
	assert.Equal(t, "shared", shared.Stats().Name)

	// An empty registry knows no operation.
	b2 := e2.Backend().(*hostgo.Backend)
	_, err := e2.Reorder(fromFlat(t, b2, seq[float32](4), 2, 2), [4]int{1, 0, 2, 3})
	require.Error(t, err)
}

func TestEngine_CrossDeviceIsolation(t *testing.T) {
	backend, e := setup(t, "devices=2")
	dev0 := activeDevice(backend)
	in0 := fromFlat(t, backend, seq[float32](6), 2, 3)
	out0 := must.M1(e.Tile(in0, [4]int{2, 1, 1, 1}))
	assert.Equal(t, []float32{1, 2, 1, 2, 3, 4, 3, 4, 5, 6, 5, 6}, gather[float32](t, e, out0))

	require.NoError(t, backend.SetActiveDevice(1))
	dev1 := activeDevice(backend)
	in1 := fromFlat(t, backend, seq[float32](6), 2, 3)
	out1 := must.M1(e.Tile(in1, [4]int{2, 1, 1, 1}))
	assert.Equal(t, gather[float32](t, e, out0), gather[float32](t, e, out1))
	assert.Equal(t, dev1.ID(), out1.Device())

	sig := must.M1(signature.Make(source.Tile, dtypes.Float32, nil))
	a0, found0 := e.Cache().Lookup(dev0.ID(), sig)
	a1, found1 := e.Cache().Lookup(dev1.ID(), sig)
	require.True(t, found0)
	require.True(t, found1)
	assert.NotSame(t, a0, a1)
	assert.Equal(t, int64(1), dev0.Builds())
	assert.Equal(t, int64(1), dev1.Builds())

	// Tearing down device 0's context doesn't affect device 1.
	assert.Equal(t, 1, e.Cache().Invalidate(dev0.ID()))
	_, found0 = e.Cache().Lookup(dev0.ID(), sig)
	assert.False(t, found0)
	got, found1 := e.Cache().Lookup(dev1.ID(), sig)
	require.True(t, found1)
	assert.Same(t, a1, got)
	must.M1(e.Tile(in1, [4]int{3, 1, 1, 1}))
	assert.Equal(t, int64(1), dev1.Builds())

	// Input on another device than the active one: rejected by the device, no partial result.
	_, err := e.Tile(in0, [4]int{2, 1, 1, 1})
	assert.True(t, kerrors.Is(err, kerrors.DeviceExecutionFailure))
}

func TestEngine_CompilationFailure(t *testing.T) {
	backend, e := setup(t, "nofp64")
	in := fromFlat(t, backend, seq[float64](4), 2, 2)
	_, err := e.Tile(in, [4]int{2, 2, 1, 1})
	require.Error(t, err)
	assert.True(t, kerrors.Is(err, kerrors.CompilationFailure))
	assert.Contains(t, kerrors.BuildLog(err), "fp64")
	stats := e.Cache().Stats()
	assert.Equal(t, 0, stats.Entries)
	assert.Equal(t, int64(1), stats.Failures)

	// Not cached: the next call tries to compile again.
	_, err = e.Tile(in, [4]int{2, 2, 1, 1})
	assert.True(t, kerrors.Is(err, kerrors.CompilationFailure))
	assert.Equal(t, int64(2), activeDevice(backend).Builds())

	// The fusion path needs no compilation.
	out, err := e.Tile(in, [4]int{1, 1, 3, 1})
	require.NoError(t, err)
	assert.Equal(t, [4]int{2, 2, 3, 1}, out.Dimensions)
}

func TestEngine_ConcurrentCompileOnce(t *testing.T) {
	backend, e := setup(t, "")
	in := fromFlat(t, backend, seq[int32](6), 3, 2)
	const numCallers = 16
	var wg sync.WaitGroup
	outs := make([]arrays.View, numCallers)
	for i := range numCallers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Tile(in, [4]int{2, 2, 1, 1})
			assert.NoError(t, err)
			outs[i] = out
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), activeDevice(backend).Builds())
	assert.Equal(t, int64(numCallers), activeDevice(backend).Launches())
	stats := e.Cache().Stats()
	assert.Equal(t, int64(1), stats.Compiles)
	assert.Equal(t, int64(numCallers-1), stats.Hits)
	for _, out := range outs {
		assert.Equal(t, gather[int32](t, e, outs[0]), gather[int32](t, e, out))
	}
}
