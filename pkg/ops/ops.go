// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ops implements the array operations on top of the kernel cache: each operation validates
// its shapes, decides its execution path, and for materialized paths acquires the compiled kernel for
// the active device, computes the launch geometry and enqueues the kernel.
//
// Operations return as soon as the work is enqueued: call Engine.Sync before reading results back.
//
// Example:
//
//	backend := must.M1(backends.New())
//	engine := ops.New(backend)
//	defer engine.Close()
//	out, err := engine.Tile(in, [4]int{4, 1, 1, 1})
package ops

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/kernelcache/backends"
	"github.com/gomlx/kernelcache/pkg/core/arrays"
	"github.com/gomlx/kernelcache/pkg/core/shapes"
	"github.com/gomlx/kernelcache/pkg/fusion"
	"github.com/gomlx/kernelcache/pkg/kernels/cache"
	"github.com/gomlx/kernelcache/pkg/kernels/geometry"
	"github.com/gomlx/kernelcache/pkg/kernels/launch"
	"github.com/gomlx/kernelcache/pkg/kernels/signature"
	"github.com/gomlx/kernelcache/pkg/kernels/source"
)

// Fuser is the fusion evaluator: it represents an operation that needs no data movement as a new view
// over the input, without any device work.
type Fuser interface {
	Broadcast(in arrays.View, out shapes.Shape) (arrays.View, error)
}

// Engine executes operations on the active device of a backend.
type Engine struct {
	backend   backends.Backend
	cache     *cache.Cache
	ownsCache bool
	registry  *source.Registry
	fuser     Fuser
	debugSync bool
}

// Option configures an Engine.
type Option func(e *Engine)

// WithCache makes the engine use the given cache, shared with other engines. The engine won't shut it down.
func WithCache(c *cache.Cache) Option {
	return func(e *Engine) {
		e.cache = c
		e.ownsCache = false
	}
}

// WithRegistry sets the kernel sources registry. The default is source.Default().
func WithRegistry(r *source.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithFuser sets the fusion evaluator. The default is fusion.Broadcaster.
func WithFuser(f Fuser) Option {
	return func(e *Engine) { e.fuser = f }
}

// WithDebugSync makes every kernel launch wait for completion. The default is taken from
// $KERNELCACHE_DEBUG_SYNC, see launch.DebugSyncEnvVar.
func WithDebugSync(sync bool) Option {
	return func(e *Engine) { e.debugSync = sync }
}

// New creates an Engine for the backend. Unless WithCache is given, the engine has its own cache,
// released by Close.
func New(backend backends.Backend, opts ...Option) *Engine {
	e := &Engine{
		backend:   backend,
		registry:  source.Default(),
		fuser:     fusion.Broadcaster{},
		debugSync: launch.DebugSyncFromEnv(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = cache.New(cache.WithName(backend.Name()))
		e.ownsCache = true
	}
	return e
}

// Backend used by the engine.
func (e *Engine) Backend() backends.Backend { return e.backend }

// Cache used by the engine.
func (e *Engine) Cache() *cache.Cache { return e.cache }

// Registry of kernel sources used by the engine.
func (e *Engine) Registry() *source.Registry { return e.registry }

// Sync waits for all work enqueued on the active device to finish, and returns the first execution
// failure since the last Sync, if any.
func (e *Engine) Sync() error {
	return e.backend.ActiveDevice().Queue().Finish()
}

// Close shuts down the engine's own cache, if any. The engine must not be used afterward.
func (e *Engine) Close() error {
	if !e.ownsCache {
		return nil
	}
	return e.cache.Shutdown()
}

// kernelCall describes one materialized operation.
type kernelCall struct {
	source string
	dtype  dtypes.DType
	flags  signature.Flags
	inputs []arrays.View
	output shapes.Shape
	config geometry.Config

	// args returns the kernel arguments for the allocated output and the computed geometry.
	args func(out arrays.View, geom geometry.Geometry) []backends.KernelArg
}

// lookupSource returns the registered source, checking it supports dtype.
func (e *Engine) lookupSource(name string, dtype dtypes.DType) (*source.Source, error) {
	src, err := e.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	if err := src.CheckDType(dtype); err != nil {
		return nil, err
	}
	return src, nil
}

// materialize runs the kernel of the call on the active device, into a newly allocated output.
// On failure the output is released: there are no partial results.
func (e *Engine) materialize(call kernelCall) (arrays.View, error) {
	src, err := e.lookupSource(call.source, call.dtype)
	if err != nil {
		return arrays.View{}, err
	}
	for _, in := range call.inputs {
		if err := in.Check(); err != nil {
			return arrays.View{}, errors.WithMessagef(err, "input of %q", call.source)
		}
	}
	sig, err := src.Signature(call.dtype, call.flags)
	if err != nil {
		return arrays.View{}, err
	}
	dev := e.backend.ActiveDevice()
	artifact, err := e.cache.Acquire(dev, sig, func() (backends.ProgramSource, string, error) {
		program, err := src.Program(call.dtype, call.flags)
		return program, src.Entry, err
	})
	if err != nil {
		return arrays.View{}, err
	}

	out, err := arrays.Alloc(e.backend, dev.ID(), call.output)
	if err != nil {
		return arrays.View{}, errors.WithMessagef(err, "allocating output of %q", sig)
	}
	geom := geometry.Compute(out.Dimensions, call.config)
	err = launch.Enqueue(dev.Queue(), artifact, geom, launch.Options{Sync: e.debugSync}, call.args(out, geom)...)
	if err != nil {
		out.Buffer.Finalize()
		return arrays.View{}, err
	}
	klog.V(2).Infof("%s: enqueued %q -> %s on %s", call.source, sig, out.Shape, dev.Name())
	return out, nil
}
