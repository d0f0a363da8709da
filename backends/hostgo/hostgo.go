// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package hostgo implements a portable backend that runs kernels on the host, in pure Go.
//
// It is not fast, but it behaves like an accelerator: programs are built from the kernel sources and
// build options (the "-D" definitions are checked like a device compiler would), every device has its
// own in-order command queue executing asynchronously, and the work-groups of a launch run in parallel
// over a shared pool of goroutines. The kernel bodies are Go implementations of the supported entry points.
//
// Configuration, given as "go:<config>" in $KERNELCACHE_BACKEND or to New, is a comma separated list of:
//
//   - devices=N: number of devices, default 1.
//   - parallelism=N: max number of work-groups running in parallel, across all devices. Default is the
//     number of cores, 0 disables parallelism and -1 makes it unlimited.
//   - nofp64: devices don't support double precision types.
//   - nofp16: devices don't support half precision types.
//   - maxgroup=N: max number of work-items in a work-group, default 1024.
package hostgo

import (
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/kernelcache/backends"
	"github.com/gomlx/kernelcache/internal/workerspool"
)

// BackendName to be used in KERNELCACHE_BACKEND to specify this backend.
const BackendName = "go"

// Registers New() as the constructor for the "go" backend.
func init() {
	backends.Register(BackendName, New)
}

// nextDeviceID makes device IDs unique within the process, across backends.
var nextDeviceID atomic.Int32

// Backend implements backends.Backend.
type Backend struct {
	config  Config
	devices []*Device
	byID    map[backends.DeviceID]*Device
	active  atomic.Int32
	pool    *workerspool.Pool
	buffers bufferPools

	finalized atomic.Bool
}

// Compile-time check that hostgo.Backend implements backends.Backend.
var _ backends.Backend = (*Backend)(nil)

// New constructs a new hostgo Backend, see package documentation for the config format.
func New(config string) (backends.Backend, error) {
	b, err := NewBackend(config)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// NewBackend is like New, but returns the concrete type.
func NewBackend(config string) (*Backend, error) {
	cfg, err := ParseConfig(config)
	if err != nil {
		return nil, err
	}
	b := &Backend{
		config: cfg,
		byID:   make(map[backends.DeviceID]*Device, cfg.Devices),
		pool:   workerspool.New(),
	}
	b.pool.SetMaxParallelism(cfg.Parallelism)
	for ordinal := range cfg.Devices {
		dev := newDevice(b, backends.DeviceID(nextDeviceID.Add(1)-1), ordinal)
		b.devices = append(b.devices, dev)
		b.byID[dev.id] = dev
	}
	klog.V(1).Infof("hostgo: created backend with %d devices, config %+v", len(b.devices), cfg)
	return b, nil
}

// Name implements backends.Backend.
func (b *Backend) Name() string { return BackendName }

// String implements fmt.Stringer.
func (b *Backend) String() string { return BackendName }

// Description implements backends.Backend.
func (b *Backend) Description() string {
	return fmt.Sprintf("Portable Go backend (%d devices, parallelism=%d)", len(b.devices), b.config.Parallelism)
}

// Config returns the parsed configuration of the backend.
func (b *Backend) Config() Config { return b.config }

// NumDevices implements backends.Backend.
func (b *Backend) NumDevices() int { return len(b.devices) }

// Device implements backends.Backend.
func (b *Backend) Device(n int) (backends.Device, error) {
	if n < 0 || n >= len(b.devices) {
		return nil, errors.Errorf("backend %q has %d devices, device #%d requested", BackendName, len(b.devices), n)
	}
	return b.devices[n], nil
}

// ActiveDevice implements backends.Backend.
func (b *Backend) ActiveDevice() backends.Device {
	return b.devices[b.active.Load()]
}

// SetActiveDevice implements backends.Backend.
func (b *Backend) SetActiveDevice(n int) error {
	if n < 0 || n >= len(b.devices) {
		return errors.Errorf("backend %q has %d devices, cannot activate device #%d", BackendName, len(b.devices), n)
	}
	b.active.Store(int32(n))
	return nil
}

// deviceByID returns the device with the given process-wide ID, if it belongs to this backend.
func (b *Backend) deviceByID(id backends.DeviceID) (*Device, error) {
	if b.finalized.Load() {
		return nil, errors.Errorf("backend %q was finalized", BackendName)
	}
	dev, found := b.byID[id]
	if !found {
		return nil, errors.Errorf("device %d doesn't belong to backend %q", id, BackendName)
	}
	return dev, nil
}

// Finalize implements backends.Backend: it drains and stops all queues.
func (b *Backend) Finalize() {
	if b.finalized.Swap(true) {
		return
	}
	for _, dev := range b.devices {
		dev.queue.close()
	}
}
