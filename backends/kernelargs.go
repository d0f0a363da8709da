// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"

	"github.com/gomlx/kernelcache/pkg/core/shapes"
)

// ParamKind is the kind of a kernel parameter.
type ParamKind int

const (
	// ParamInvalid is the zero value.
	ParamInvalid ParamKind = iota

	// ParamBuffer is a pointer to device memory: `global T *ptr`.
	ParamBuffer

	// ParamInfo is an array descriptor passed by value: `KParam info`.
	ParamInfo

	// ParamInt is an integer scalar: `int value`.
	ParamInt
)

// String implements fmt.Stringer.
func (k ParamKind) String() string {
	switch k {
	case ParamBuffer:
		return "buffer"
	case ParamInfo:
		return "KParam"
	case ParamInt:
		return "int"
	default:
		return fmt.Sprintf("ParamKind(%d)", int(k))
	}
}

// Param is one declared parameter of a kernel entry point.
type Param struct {
	Name  string
	Kind  ParamKind
	Const bool
}

// KParam describes the layout of an array inside a buffer: it is passed to kernels by value, next
// to the buffer itself. Strides and Offset are in elements.
type KParam struct {
	Dims    [shapes.MaxRank]int
	Strides [shapes.MaxRank]int
	Offset  int
}

// KernelArg is one argument bound to a kernel parameter. Only the field matching Kind is used.
type KernelArg struct {
	Kind   ParamKind
	Buffer Buffer
	Info   KParam
	Int    int
}

// String implements fmt.Stringer.
func (a KernelArg) String() string {
	switch a.Kind {
	case ParamBuffer:
		if a.Buffer == nil {
			return "buffer(nil)"
		}
		return fmt.Sprintf("buffer(dev=%d, %s)", a.Buffer.Device(), a.Buffer.Shape())
	case ParamInfo:
		return fmt.Sprintf("KParam(dims=%v, strides=%v, offset=%d)", a.Info.Dims, a.Info.Strides, a.Info.Offset)
	case ParamInt:
		return fmt.Sprintf("int(%d)", a.Int)
	}
	return a.Kind.String()
}

// NDRange is the launch configuration of a kernel: the global and local (work-group) extents
// on up to 3 axes. Global must be a multiple of Local on every axis.
type NDRange struct {
	Global, Local [3]int
}

// NumGroups returns the number of work-groups on each axis.
func (r NDRange) NumGroups() (groups [3]int) {
	for axis := range groups {
		if r.Local[axis] > 0 {
			groups[axis] = r.Global[axis] / r.Local[axis]
		}
	}
	return
}

// ProgramSource is what a Device needs to build a Program: the concatenated sources and the
// build options (macro definitions like "-D T=float").
type ProgramSource struct {
	// Name is used only for logging and error messages.
	Name    string
	Sources []string
	Options string
}
