// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kerrors defines the error taxonomy of the kernel engine.
//
// Every error returned by the engine (shape validation, type support, device compilation or
// device execution) carries one Kind, which callers can test with KindOf or Is. Errors are
// created with a stack trace (github.com/pkg/errors), so printing them with "%+v" shows where
// they were raised.
//
// Programming errors (bugs in the code, like binding the wrong number of arguments to a kernel)
// are not errors: they panic, see github.com/gomlx/exceptions.
package kerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind of failure.
type Kind int

const (
	// Unknown is returned by KindOf for errors not created by this package.
	Unknown Kind = iota

	// InvalidShape: a requested extent, replication factor or window parameter is non-positive, or
	// the requested transform is ill-defined for the input shape.
	InvalidShape

	// UnsupportedElementType: the operation has no kernel source/build options for the element type.
	UnsupportedElementType

	// CompilationFailure: the device compiler rejected the generated source or build options.
	// The compiler log is attached, see Error.Log.
	CompilationFailure

	// DeviceExecutionFailure: enqueue or execution failed at the device level.
	DeviceExecutionFailure
)

var kindNames = [...]string{
	Unknown:                "Unknown",
	InvalidShape:           "InvalidShape",
	UnsupportedElementType: "UnsupportedElementType",
	CompilationFailure:     "CompilationFailure",
	DeviceExecutionFailure: "DeviceExecutionFailure",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Error is the concrete error type of the package.
type Error struct {
	Kind Kind
	Msg  string

	// Log holds the diagnostic output of the device compiler, for CompilationFailure.
	Log string

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Msg
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	if e.Log != "" {
		return fmt.Sprintf("%s: %s\nbuild log:\n%s", e.Kind, msg, e.Log)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// Errorf creates a new error of the given kind, with a stack trace.
func Errorf(kind Kind, format string, args ...any) error {
	return errors.WithStack(&Error{Kind: kind, Msg: fmt.Sprintf(format, args...)})
}

// Wrapf creates an error of the given kind caused by err.
// If err is nil, Wrapf returns nil.
func Wrapf(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&Error{Kind: kind, Msg: fmt.Sprintf(format, args...), cause: err})
}

// BuildFailed creates a CompilationFailure with the compiler's log attached.
func BuildFailed(log string, format string, args ...any) error {
	return errors.WithStack(&Error{Kind: CompilationFailure, Msg: fmt.Sprintf(format, args...), Log: log})
}

// KindOf returns the Kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// BuildLog returns the compiler log attached to err, or "" if there is none.
func BuildLog(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Log
	}
	return ""
}
