// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ktypes maps element types to their kernel-side traits: the type name used in kernel sources,
// the short tag used in signatures, extra build definitions and literal formatting.
//
// The set of element types with kernel support is closed: it is the set of keys of one table, and
// every other package asks this one instead of switching on types itself.
package ktypes

import (
	"strconv"

	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/kernelcache/pkg/core/kerrors"
)

type typeTraits struct {
	// clName is the name of the type in kernel sources.
	clName string
	// shortName is used in signatures.
	shortName string
	// definition is appended to the build options.
	definition string
}

// traits of every element type with kernel support: one entry per tag, the
// only place where element types are enumerated.
var traits = map[dtypes.DType]typeTraits{
	dtypes.Float32:    {clName: "float", shortName: "f32"},
	dtypes.Complex64:  {clName: "cfloat", shortName: "c32"},
	dtypes.Float64:    {clName: "double", shortName: "f64", definition: " -D USE_DOUBLE"},
	dtypes.Complex128: {clName: "cdouble", shortName: "c64", definition: " -D USE_DOUBLE"},
	dtypes.Bool:       {clName: "char", shortName: "b8"},
	dtypes.Int32:      {clName: "int", shortName: "s32"},
	dtypes.Uint32:     {clName: "uint", shortName: "u32"},
	dtypes.Int64:      {clName: "long", shortName: "s64"},
	dtypes.Uint64:     {clName: "ulong", shortName: "u64"},
	dtypes.Int16:      {clName: "short", shortName: "s16"},
	dtypes.Uint16:     {clName: "ushort", shortName: "u16"},
	dtypes.Uint8:      {clName: "uchar", shortName: "u8"},
	dtypes.Float16:    {clName: "half", shortName: "f16", definition: " -D USE_HALF"},
}

// AllTypes lists the element types with kernel support, in a fixed order.
var AllTypes = []dtypes.DType{
	dtypes.Float32, dtypes.Complex64, dtypes.Float64, dtypes.Complex128, dtypes.Bool,
	dtypes.Int32, dtypes.Uint32, dtypes.Int64, dtypes.Uint64, dtypes.Int16, dtypes.Uint16,
	dtypes.Uint8, dtypes.Float16,
}

// FloatingTypes lists the real and complex floating point types (excluding half).
var FloatingTypes = []dtypes.DType{dtypes.Float32, dtypes.Float64, dtypes.Complex64, dtypes.Complex128}

func lookupTraits(dtype dtypes.DType) (typeTraits, error) {
	t, found := traits[dtype]
	if !found {
		return t, kerrors.Errorf(kerrors.UnsupportedElementType, "element type %s has no kernel support", dtype)
	}
	return t, nil
}

// TypeName returns the name of dtype in kernel sources (the value of the T macro).
func TypeName(dtype dtypes.DType) (string, error) {
	t, err := lookupTraits(dtype)
	return t.clName, err
}

// ShortName returns the short tag used for dtype in signatures, e.g. "f32".
func ShortName(dtype dtypes.DType) (string, error) {
	t, err := lookupTraits(dtype)
	return t.shortName, err
}

// TypeDefinition returns the extra build options dtype requires, e.g. " -D USE_DOUBLE".
func TypeDefinition(dtype dtypes.DType) (string, error) {
	t, err := lookupTraits(dtype)
	return t.definition, err
}

// DTypeForTypeName is the inverse of TypeName.
func DTypeForTypeName(clName string) (dtypes.DType, bool) {
	for dtype, t := range traits {
		if t.clName == clName {
			return dtype, true
		}
	}
	return dtypes.InvalidDType, false
}

// DTypeForShortName is the inverse of ShortName.
func DTypeForShortName(shortName string) (dtypes.DType, bool) {
	for dtype, t := range traits {
		if t.shortName == shortName {
			return dtype, true
		}
	}
	return dtypes.InvalidDType, false
}

// NumStr formats v as a literal of the given type, to be used as the value of a macro.
//
// Floating point values use exponent notation with the shortest exact representation, single
// precision literals get the "f" suffix, and complex values are written as vector literals with
// v as the real part and 0 as the imaginary part.
func NumStr(dtype dtypes.DType, v float64) (string, error) {
	switch dtype {
	case dtypes.Float32:
		return float32Str(v), nil
	case dtypes.Float64:
		return float64Str(v), nil
	case dtypes.Float16:
		return "(half)(" + float32Str(v) + ")", nil
	case dtypes.Complex64:
		return "(cfloat)(" + float32Str(v) + "," + float32Str(0) + ")", nil
	case dtypes.Complex128:
		return "(cdouble)(" + float64Str(v) + "," + float64Str(0) + ")", nil
	case dtypes.Bool:
		if v != 0 {
			return "1", nil
		}
		return "0", nil
	}
	if _, err := lookupTraits(dtype); err != nil {
		return "", err
	}
	switch dtype {
	case dtypes.Uint8, dtypes.Uint16, dtypes.Uint32, dtypes.Uint64:
		return strconv.FormatUint(uint64(v), 10), nil
	}
	return strconv.FormatInt(int64(v), 10), nil
}

func float32Str(v float64) string {
	return strconv.FormatFloat(v, 'e', -1, 32) + "f"
}

func float64Str(v float64) string {
	return strconv.FormatFloat(v, 'e', -1, 64)
}
