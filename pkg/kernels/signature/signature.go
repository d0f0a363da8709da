// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package signature builds the keys of the compilation cache.
//
// A Signature captures everything that changes the generated device code of an operation: the
// operation kind, the element type and the structural variant flags. Shapes and devices never
// enter the signature: the shape is a runtime argument of the kernels, and the device is the
// first level of the cache.
//
// Rendering is canonical: flags are sorted by name, and names are restricted to characters that
// cannot be confused with the separators, so two different (op, dtype, flags) combinations can
// never render the same string.
package signature

import (
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/gomlx/kernelcache/pkg/kernels/ktypes"
)

// Signature uniquely identifies the device code of one operation variant.
type Signature string

// Flags are the structural variant flags of an operation, e.g. {"is_column": 1}.
// Booleans are encoded as 0 or 1.
type Flags map[string]int

// Bool converts a boolean flag to its integer encoding.
func Bool(b bool) int {
	if b {
		return 1
	}
	return 0
}

var reName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Make returns the signature for the operation op on element type dtype with the given flags.
//
// It returns an UnsupportedElementType error if dtype has no kernel support.
func Make(op string, dtype dtypes.DType, flags Flags) (Signature, error) {
	if !reName.MatchString(op) {
		return "", errors.Errorf("invalid operation name %q for signature", op)
	}
	short, err := ktypes.ShortName(dtype)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString(op)
	sb.WriteByte(':')
	sb.WriteString(short)
	for _, name := range slices.Sorted(maps.Keys(flags)) {
		if !reName.MatchString(name) {
			return "", errors.Errorf("invalid flag name %q for signature of %q", name, op)
		}
		sb.WriteByte(':')
		sb.WriteString(name)
		sb.WriteByte('=')
		sb.WriteString(strconv.Itoa(flags[name]))
	}
	return Signature(sb.String()), nil
}

// Op returns the operation part of the signature.
func (s Signature) Op() string {
	op, _, _ := strings.Cut(string(s), ":")
	return op
}

// String implements fmt.Stringer.
func (s Signature) String() string { return string(s) }
