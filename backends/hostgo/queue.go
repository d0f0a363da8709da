// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hostgo

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/kernelcache/backends"
	"github.com/gomlx/kernelcache/pkg/core/kerrors"
	"github.com/gomlx/kernelcache/pkg/support/xsync"
)

// queueDepth is the number of launches that can be waiting in a queue before Enqueue blocks.
const queueDepth = 256

// Queue is the in-order command queue of a Device. Launches are executed one at a time, in enqueue
// order, by the queue goroutine; the work-groups of a launch run in parallel on the backend workers pool.
type Queue struct {
	device  *Device
	pending *xsync.DynamicWaitGroup
	stopped *xsync.Latch

	muSend   sync.Mutex
	work     chan *launchItem
	closed   bool
	launches atomic.Int64

	// muErr protects err, the first execution failure since the last Finish.
	muErr sync.Mutex
	err   error
}

// launchItem is one enqueued kernel launch.
type launchItem struct {
	kernel  *Kernel
	ndRange backends.NDRange
	run     itemFunc
}

// Compile-time check that hostgo.Queue implements backends.Queue.
var _ backends.Queue = (*Queue)(nil)

func newQueue(dev *Device) *Queue {
	q := &Queue{
		device:  dev,
		pending: xsync.NewDynamicWaitGroup(),
		stopped: xsync.NewLatch(),
		work:    make(chan *launchItem, queueDepth),
	}
	go q.loop()
	return q
}

// Enqueue implements backends.Queue. It validates the launch and returns immediately, the kernel runs
// asynchronously.
func (q *Queue) Enqueue(kernel backends.Kernel, ndRange backends.NDRange, args []backends.KernelArg) error {
	k, ok := kernel.(*Kernel)
	if !ok {
		return kerrors.Errorf(kerrors.DeviceExecutionFailure, "%s: kernel %q is a %T, not a hostgo kernel", q.device.Name(), kernel.Name(), kernel)
	}
	if err := q.validate(k, ndRange, args); err != nil {
		return kerrors.Wrapf(kerrors.DeviceExecutionFailure, err, "%s: enqueuing %q", q.device.Name(), k.Name())
	}
	item := &launchItem{kernel: k, ndRange: ndRange, run: k.bind(k, args)}

	q.muSend.Lock()
	defer q.muSend.Unlock()
	if q.closed {
		return kerrors.Errorf(kerrors.DeviceExecutionFailure, "%s: queue is closed", q.device.Name())
	}
	q.pending.Add(1)
	q.launches.Add(1)
	q.work <- item
	return nil
}

// validate the launch configuration and arguments, like a driver would on enqueue.
func (q *Queue) validate(k *Kernel, ndRange backends.NDRange, args []backends.KernelArg) error {
	if k.program.device != q.device {
		return errors.Errorf("kernel was built for device %s", k.program.device.Name())
	}
	if k.program.released.Load() {
		return errors.Errorf("program %q was released", k.program.name)
	}
	groupSize := 1
	for axis := range 3 {
		local, global := ndRange.Local[axis], ndRange.Global[axis]
		if local <= 0 || global <= 0 {
			return errors.Errorf("invalid work size %v", ndRange)
		}
		if global%local != 0 {
			return errors.Errorf("global work size %v not a multiple of the local work size %v", ndRange.Global, ndRange.Local)
		}
		groupSize *= local
	}
	if groupSize > q.device.backend.config.MaxGroupSize {
		return errors.Errorf("work-group size %d larger than the device max %d", groupSize, q.device.backend.config.MaxGroupSize)
	}

	params := k.Params()
	if len(args) != len(params) {
		return errors.Errorf("kernel takes %d arguments, %d given", len(params), len(args))
	}
	for i, arg := range args {
		if arg.Kind != params[i].Kind {
			return errors.Errorf("argument #%d (%q) must be a %s, got %s", i, params[i].Name, params[i].Kind, arg)
		}
		if arg.Kind != backends.ParamBuffer {
			continue
		}
		buf, ok := arg.Buffer.(*Buffer)
		if !ok || buf == nil {
			return errors.Errorf("argument #%d (%q) is not a hostgo buffer: %s", i, params[i].Name, arg)
		}
		if !buf.valid.Load() {
			return errors.Errorf("argument #%d (%q) buffer was finalized", i, params[i].Name)
		}
		if buf.device != q.device.id {
			return errors.Errorf("argument #%d (%q) buffer lives on device %d", i, params[i].Name, buf.device)
		}
		if buf.shape.DType != k.program.dtype {
			return errors.Errorf("argument #%d (%q) buffer holds %s, kernel built for %s", i, params[i].Name, buf.shape.DType, k.program.dtype)
		}
	}
	return nil
}

// Finish implements backends.Queue.
func (q *Queue) Finish() error {
	q.pending.Wait()
	q.muErr.Lock()
	defer q.muErr.Unlock()
	err := q.err
	q.err = nil
	return err
}

// loop executes the launches in order, until the queue is closed.
func (q *Queue) loop() {
	defer q.stopped.Trigger()
	for item := range q.work {
		q.execute(item)
		q.pending.Done()
	}
}

// execute runs all work-items of the launch. A panic in the kernel body is recorded as an execution
// failure, reported by the next Finish.
func (q *Queue) execute(item *launchItem) {
	groups := item.ndRange.NumGroups()
	local := item.ndRange.Local
	numGroups := groups[0] * groups[1] * groups[2]
	klog.V(3).Infof("%s: running %q over %d groups of %v", q.device.Name(), item.kernel.Name(), numGroups, local)
	exception := exceptions.Try(func() {
		q.device.backend.pool.ParallelFor(numGroups, func(groupIdx int) {
			it := workItem{size: local}
			it.group[0] = groupIdx % groups[0]
			it.group[1] = (groupIdx / groups[0]) % groups[1]
			it.group[2] = groupIdx / (groups[0] * groups[1])
			for lz := range local[2] {
				it.local[2] = lz
				for ly := range local[1] {
					it.local[1] = ly
					for lx := range local[0] {
						it.local[0] = lx
						item.run(it)
					}
				}
			}
		})
	})
	if exception == nil {
		return
	}
	err, ok := exception.(error)
	if !ok {
		err = errors.New(fmt.Sprint(exception))
	}
	err = kerrors.Wrapf(kerrors.DeviceExecutionFailure, err, "%s: executing %q", q.device.Name(), item.kernel.Name())
	klog.Errorf("%v", err)
	q.muErr.Lock()
	defer q.muErr.Unlock()
	if q.err == nil {
		q.err = err
	}
}

// close stops accepting work, and waits for the enqueued work to finish.
func (q *Queue) close() {
	q.muSend.Lock()
	if !q.closed {
		q.closed = true
		close(q.work)
	}
	q.muSend.Unlock()
	q.stopped.Wait()
}
