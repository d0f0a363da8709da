// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fusion implements the fusion evaluator used for replications that need no data movement.
//
// When every replicated axis of an array has extent 1, the result can be described without copying
// anything: a view over the same buffer where the replicated axes have stride 0. Consumers read it
// through its descriptor like any other array, which is how the broadcast gets fused into them.
package fusion

import (
	"k8s.io/klog/v2"

	"github.com/gomlx/kernelcache/pkg/core/arrays"
	"github.com/gomlx/kernelcache/pkg/core/kerrors"
	"github.com/gomlx/kernelcache/pkg/core/shapes"
)

// Broadcaster creates broadcast views. The zero value is ready to use.
type Broadcaster struct{}

// Broadcast returns a view of in with the output shape, where every axis of in is either kept
// (same extent) or broadcast (extent 1 in the input). The returned view shares in's buffer.
func (Broadcaster) Broadcast(in arrays.View, out shapes.Shape) (arrays.View, error) {
	if err := out.Check(); err != nil {
		return arrays.View{}, err
	}
	if in.DType != out.DType {
		return arrays.View{}, kerrors.Errorf(kerrors.InvalidShape, "cannot broadcast %s to %s: element types differ", in.Shape, out)
	}
	view := arrays.View{Shape: out, Offset: in.Offset, Buffer: in.Buffer}
	for axis, dim := range out.Dimensions {
		switch in.Dimensions[axis] {
		case dim:
			view.Strides[axis] = in.Strides[axis]
		case 1:
			view.Strides[axis] = 0
		default:
			return arrays.View{}, kerrors.Errorf(kerrors.InvalidShape,
				"cannot broadcast %s to %s: axis %d has extent %d, it must be 1 or %d", in.Shape, out, axis, in.Dimensions[axis], dim)
		}
	}
	klog.V(2).Infof("fusion: broadcast %s -> %s (strides %v)", in.Shape, out, view.Strides)
	return view, nil
}
