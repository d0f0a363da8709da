// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package geometry computes the launch geometry of 2-D tiled kernels over the 4-D array model.
//
// Work on the first two axes is split into tiles of TileX×TileY output elements, one work-group per
// tile, each of LocalX×LocalY work-items. When the tile is larger than the work-group, each
// work-item loops over several elements. The last two axes are folded into the group counts of
// the first two: axis 2 multiplies the groups on x, axis 3 the groups on y, and the kernels recover
// them by dividing the group id by GroupsX (or GroupsY).
//
// Partial tiles at the boundary are expected: kernels mask the out-of-range work-items.
package geometry

import (
	"fmt"

	"github.com/gomlx/exceptions"

	"github.com/gomlx/kernelcache/backends"
	"github.com/gomlx/kernelcache/pkg/core/shapes"
)

// Config holds the compile-time tiling constants of an operation.
type Config struct {
	LocalX, LocalY int
	TileX, TileY   int
}

var (
	// Copy2D is used by the data movement kernels (tile, reorder): 32×8 work-items, each group
	// covering 512×32 elements.
	Copy2D = Config{LocalX: 32, LocalY: 8, TileX: 512, TileY: 32}

	// Window2D is used by the sliding-window kernels (wrap): one work-item per output element
	// in groups of 16×16.
	Window2D = Config{LocalX: 16, LocalY: 16, TileX: 16, TileY: 16}
)

// Geometry is the launch geometry of one kernel invocation.
type Geometry struct {
	Local, Global [3]int

	// GroupsX, GroupsY are the number of groups per 2-D slice, passed to kernels to unfold axes 2 and 3.
	GroupsX, GroupsY int

	// Tile is the number of elements covered by one group on x and y.
	Tile [2]int
}

// DivUp returns ceil(a/b) for a >= 0 and b > 0.
func DivUp(a, b int) int {
	return (a + b - 1) / b
}

// Compute returns the geometry for the output dimensions dims.
//
// dims must be positive (validated by the operations), and the configuration constants must be positive,
// otherwise it panics.
func Compute(dims [shapes.MaxRank]int, cfg Config) Geometry {
	if cfg.LocalX <= 0 || cfg.LocalY <= 0 || cfg.TileX <= 0 || cfg.TileY <= 0 {
		exceptions.Panicf("geometry.Compute: invalid tiling constants %+v", cfg)
	}
	for axis, dim := range dims {
		if dim <= 0 {
			exceptions.Panicf("geometry.Compute: output extent %d on axis %d, extents must be > 0", dim, axis)
		}
	}
	g := Geometry{
		Local:   [3]int{cfg.LocalX, cfg.LocalY, 1},
		GroupsX: DivUp(dims[0], cfg.TileX),
		GroupsY: DivUp(dims[1], cfg.TileY),
		Tile:    [2]int{cfg.TileX, cfg.TileY},
	}
	g.Global = [3]int{
		cfg.LocalX * g.GroupsX * dims[2],
		cfg.LocalY * g.GroupsY * dims[3],
		1,
	}
	return g
}

// NDRange converts the geometry to the backend launch configuration.
func (g Geometry) NDRange() backends.NDRange {
	return backends.NDRange{Global: g.Global, Local: g.Local}
}

// Covered returns the number of elements covered by the groups on the x and y axes of one 2-D slice.
// It is always >= the output extent, and less than one tile above it.
func (g Geometry) Covered() (x, y int) {
	return g.GroupsX * g.Tile[0], g.GroupsY * g.Tile[1]
}

// String implements fmt.Stringer.
func (g Geometry) String() string {
	return fmt.Sprintf("global=%v local=%v groups=(%d,%d)", g.Global, g.Local, g.GroupsX, g.GroupsY)
}
