// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hostgo

import (
	"sync/atomic"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/gomlx/kernelcache/backends"
)

// Program is a built program: its entry points bound to Go implementations for one element type.
type Program struct {
	device   *Device
	name     string
	dtype    dtypes.DType
	defines  map[string]string
	zero     any
	kernels  map[string]*Kernel
	log      string
	released atomic.Bool
}

// Compile-time check that hostgo.Program implements backends.Program.
var _ backends.Program = (*Program)(nil)

// Kernel implements backends.Program.
func (p *Program) Kernel(entry string) (backends.Kernel, error) {
	if p.released.Load() {
		return nil, errors.Errorf("hostgo: program %q was released", p.name)
	}
	kernel, found := p.kernels[entry]
	if !found {
		return nil, errors.Errorf("hostgo: program %q has no entry point %q", p.name, entry)
	}
	return kernel, nil
}

// Release implements backends.Program.
func (p *Program) Release() error {
	if p.released.Swap(true) {
		return errors.Errorf("hostgo: program %q released twice", p.name)
	}
	return nil
}

// BuildLog returns the log of the successful build.
func (p *Program) BuildLog() string { return p.log }

// DType is the element type the program was built for.
func (p *Program) DType() dtypes.DType { return p.dtype }

// Kernel is an entry point of a Program.
type Kernel struct {
	program *Program
	entry   backends.EntryPoint
	bind    binder
	flags   map[string]int
}

// Compile-time check that hostgo.Kernel implements backends.Kernel.
var _ backends.Kernel = (*Kernel)(nil)

// Name implements backends.Kernel.
func (k *Kernel) Name() string { return k.entry.Name }

// Params implements backends.Kernel.
func (k *Kernel) Params() []backends.Param { return k.entry.Params }
