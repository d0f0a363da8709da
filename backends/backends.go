// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the interface a compute device provider needs to implement to be used by the
// kernel engine: devices that build kernel programs from source, per-device in-order command queues,
// and device buffers.
//
// The engine never allocates memory or enumerates devices itself: it asks the Backend for the active
// Device, for its Queue, and for output buffers.
//
// Backends register themselves with Register, and are created with New or NewWithConfig.
package backends

import (
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/gomlx/kernelcache/pkg/core/shapes"
)

// DeviceID identifies a device. It is unique within the process, even across backends, so it can be
// used as a key in process-wide tables.
type DeviceID int

// Backend is the API that needs to be implemented by a device provider.
type Backend interface {
	// Name returns the short name of the backend. E.g.: "go" for the portable Go backend.
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// NumDevices return the number of devices available for this Backend.
	NumDevices() int

	// Device returns the n-th device of the backend, 0 <= n < NumDevices.
	Device(n int) (Device, error)

	// ActiveDevice returns the device operations are currently targeted to.
	ActiveDevice() Device

	// SetActiveDevice changes the active device.
	SetActiveDevice(n int) error

	// Alloc allocates an uninitialized buffer for the given shape on the device.
	Alloc(dev DeviceID, shape shapes.Shape) (Buffer, error)

	// Finalize releases all the associated resources immediately, and makes the backend invalid.
	Finalize()
}

// Device is a compute target with its own memory and command queue.
type Device interface {
	// ID is the process-unique identifier of the device.
	ID() DeviceID

	// Name of the device, for pretty-printing.
	Name() string

	// Build compiles the program source for this device.
	// Failures are returned as kerrors.CompilationFailure carrying the build log.
	Build(src ProgramSource) (Program, error)

	// Queue returns the in-order command queue of the device.
	Queue() Queue
}

// Program is a compiled program for one device.
type Program interface {
	// Kernel extracts the entry point with the given name.
	Kernel(entry string) (Kernel, error)

	// Release frees the program and all kernels extracted from it.
	Release() error
}

// Kernel is an entry point of a compiled Program.
type Kernel interface {
	// Name of the entry point.
	Name() string

	// Params returns the declared parameters of the entry point, in order.
	Params() []Param
}

// Queue is the in-order command queue of a device: work enqueued to the same queue executes in
// enqueue order. Enqueue returns as soon as the work is accepted, not when it is done.
type Queue interface {
	// Enqueue kernel for execution over the NDRange with the given arguments.
	// Failures are reported as kerrors.DeviceExecutionFailure.
	Enqueue(kernel Kernel, ndRange NDRange, args []KernelArg) error

	// Finish blocks until all enqueued work completed. It returns the first execution failure
	// that happened since the last Finish, if any.
	Finish() error
}

// Buffer is device memory holding a flat array of elements.
type Buffer interface {
	// Device owning the buffer.
	Device() DeviceID

	// Shape the buffer was allocated with.
	Shape() shapes.Shape

	// Finalize releases the memory. The buffer must not be used afterward.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) (Backend, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a default constructor that takes as input a configuration string that is
// passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// DefaultConfig is the name of the default backend configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// ConfigEnvVar is the environment variable with the default backend configuration to use.
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "go") and
// "<backend_configuration>" is backend specific (e.g.: for the "go" backend, "devices=2").
const ConfigEnvVar = "KERNELCACHE_BACKEND"

// New returns a new default Backend.
//
// The default is:
//
// 1. The environment KERNELCACHE_BACKEND is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
func New() (Backend, error) {
	config, found := os.LookupEnv(ConfigEnvVar)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig takes a configurations string formated as "<backend_name>:<backend_configuration>".
//
// If "<backend_name>" is omitted, the first registered backend is used.
func NewWithConfig(config string) (Backend, error) {
	if len(registeredConstructors) == 0 {
		return nil, errors.Errorf(`no registered backends -- maybe import the portable one with import _ "github.com/gomlx/kernelcache/backends/hostgo"?`)
	}
	backendName := firstRegistered
	backendConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	} else if _, found := registeredConstructors[config]; found {
		backendName = config
		backendConfig = ""
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		return nil, errors.Errorf("can't find backend %q for configuration %q given", backendName, config)
	}
	return constructor(backendConfig)
}
