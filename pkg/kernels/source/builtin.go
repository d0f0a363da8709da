// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package source

import (
	"sync"

	"github.com/gomlx/exceptions"

	"github.com/gomlx/kernelcache/pkg/kernels/ktypes"
)

// Names of the built-in sources.
const (
	Tile        = "tile"
	Reorder     = "reorder"
	Wrap        = "wrap"
	WrapDilated = "wrap_dilated"
)

// IsColumnFlag selects the window layout of the wrap kernels.
const IsColumnFlag = "is_column"

// Builtin returns the built-in kernel sources.
func Builtin() []Source {
	return []Source{
		{Name: Tile, Entry: "tile_kernel", Text: mustReadCL("tile.cl"), DTypes: ktypes.AllTypes},
		{Name: Reorder, Entry: "reorder_kernel", Text: mustReadCL("reorder.cl"), DTypes: ktypes.AllTypes},
		{
			Name: Wrap, Entry: "wrap_kernel", Text: mustReadCL("wrap.cl"),
			DTypes: ktypes.FloatingTypes, Flags: []string{IsColumnFlag}, NeedsZero: true,
		},
		{
			Name: WrapDilated, Entry: "wrap_dilated_kernel", Text: mustReadCL("wrap_dilated.cl"),
			DTypes: ktypes.FloatingTypes, Flags: []string{IsColumnFlag}, NeedsZero: true,
		},
	}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process default registry, holding the Builtin sources.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
		for _, src := range Builtin() {
			if err := defaultRegistry.Register(src); err != nil {
				exceptions.Panicf("failed to register builtin kernel source: %+v", err)
			}
		}
	})
	return defaultRegistry
}
