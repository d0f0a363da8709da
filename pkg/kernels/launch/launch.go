// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package launch binds arguments to a compiled kernel and enqueues it on a device queue.
//
// Enqueue is asynchronous: it returns as soon as the device accepted the work. Results are only
// visible after the queue is finished (see backends.Queue.Finish). For debugging, Options.Sync
// (or the environment variable KERNELCACHE_DEBUG_SYNC) makes every Enqueue wait for completion.
package launch

import (
	"os"
	"strconv"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/gomlx/kernelcache/backends"
	"github.com/gomlx/kernelcache/pkg/core/arrays"
	"github.com/gomlx/kernelcache/pkg/core/kerrors"
	"github.com/gomlx/kernelcache/pkg/kernels/cache"
	"github.com/gomlx/kernelcache/pkg/kernels/geometry"
)

// DebugSyncEnvVar is the environment variable that, if set to a true value ("1", "true"), makes
// Enqueue wait for the kernel to finish.
const DebugSyncEnvVar = "KERNELCACHE_DEBUG_SYNC"

// DebugSyncFromEnv returns whether DebugSyncEnvVar is set to a true value.
func DebugSyncFromEnv() bool {
	v, found := os.LookupEnv(DebugSyncEnvVar)
	if !found {
		return false
	}
	sync, err := strconv.ParseBool(v)
	if err != nil {
		klog.Warningf("invalid value %q for $%s, expected a boolean: ignoring it", v, DebugSyncEnvVar)
		return false
	}
	return sync
}

// Options of a kernel launch.
type Options struct {
	// Sync waits for the kernel to finish after enqueuing it. Only meant for debugging: it
	// surfaces execution errors at the failing launch, at the cost of serializing everything.
	Sync bool
}

// Buffer argument: the buffer of the view.
func Buffer(v arrays.View) backends.KernelArg {
	return backends.KernelArg{Kind: backends.ParamBuffer, Buffer: v.Buffer}
}

// Info argument: the descriptor (dims, strides, offset) of the view.
func Info(v arrays.View) backends.KernelArg {
	return backends.KernelArg{Kind: backends.ParamInfo, Info: v.Info()}
}

// Int argument.
func Int(v int) backends.KernelArg {
	return backends.KernelArg{Kind: backends.ParamInt, Int: v}
}

// Ints returns one Int argument per value.
func Ints(values ...int) []backends.KernelArg {
	args := make([]backends.KernelArg, len(values))
	for i, v := range values {
		args[i] = Int(v)
	}
	return args
}

// Args flattens individual arguments and argument lists into one list.
func Args(groups ...any) []backends.KernelArg {
	var args []backends.KernelArg
	for _, g := range groups {
		switch v := g.(type) {
		case backends.KernelArg:
			args = append(args, v)
		case []backends.KernelArg:
			args = append(args, v...)
		default:
			exceptions.Panicf("launch.Args: unsupported argument type %T", g)
		}
	}
	return args
}

// checkBinding panics if the arguments don't match the declared parameters of the kernel:
// a mismatch is a bug in the operation, not a user error.
func checkBinding(kernel backends.Kernel, args []backends.KernelArg) {
	params := kernel.Params()
	if len(params) != len(args) {
		exceptions.Panicf("kernel %q takes %d arguments, %d given", kernel.Name(), len(params), len(args))
	}
	for i, param := range params {
		if args[i].Kind != param.Kind {
			exceptions.Panicf("kernel %q argument #%d (%q) must be a %s, got %s", kernel.Name(), i, param.Name, param.Kind, args[i])
		}
		if param.Kind == backends.ParamBuffer && args[i].Buffer == nil {
			exceptions.Panicf("kernel %q argument #%d (%q) is a nil buffer", kernel.Name(), i, param.Name)
		}
	}
}

// Enqueue the artifact's kernel on the queue with the given geometry and arguments.
//
// The arguments must match the kernel's declared parameters in count, order and kind, otherwise it panics.
// Errors reported by the device are returned as kerrors.DeviceExecutionFailure.
func Enqueue(queue backends.Queue, artifact *cache.Artifact, geom geometry.Geometry, opts Options, args ...backends.KernelArg) error {
	checkBinding(artifact.Kernel, args)
	klog.V(2).Infof("enqueue %q on device %d: %s", artifact.Signature, artifact.Device, geom)
	if err := queue.Enqueue(artifact.Kernel, geom.NDRange(), args); err != nil {
		return asExecutionFailure(err, "enqueuing %q", artifact.Signature)
	}
	if opts.Sync {
		if err := queue.Finish(); err != nil {
			return asExecutionFailure(err, "executing %q", artifact.Signature)
		}
	}
	return nil
}

func asExecutionFailure(err error, format string, args ...any) error {
	if kerrors.KindOf(err) == kerrors.DeviceExecutionFailure {
		return err
	}
	return kerrors.Wrapf(kerrors.DeviceExecutionFailure, err, format, args...)
}
