// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hostgo

import (
	"fmt"
	"sync/atomic"

	"github.com/gomlx/kernelcache/backends"
)

// Device implements backends.Device: it builds programs and owns one in-order queue.
type Device struct {
	backend *Backend
	id      backends.DeviceID
	ordinal int
	queue   *Queue

	builds atomic.Int64
}

// Compile-time check that hostgo.Device implements backends.Device.
var _ backends.Device = (*Device)(nil)

func newDevice(b *Backend, id backends.DeviceID, ordinal int) *Device {
	d := &Device{backend: b, id: id, ordinal: ordinal}
	d.queue = newQueue(d)
	return d
}

// ID implements backends.Device.
func (d *Device) ID() backends.DeviceID { return d.id }

// Name implements backends.Device.
func (d *Device) Name() string { return fmt.Sprintf("%s:%d", BackendName, d.ordinal) }

// Queue implements backends.Device.
func (d *Device) Queue() backends.Queue { return d.queue }

// Builds returns the number of times Build was called on this device, successful or not.
func (d *Device) Builds() int64 { return d.builds.Load() }

// Launches returns the number of kernel launches accepted by the device queue.
func (d *Device) Launches() int64 { return d.queue.launches.Load() }
