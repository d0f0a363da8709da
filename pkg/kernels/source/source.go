// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package source holds the kernel source registry: for each operation, the kernel source text and
// the generator of build options for a given element type and variant flags.
//
// Sources are type independent: the element type is fixed at build time through the T macro (and
// ZERO for the kernels that need a zero literal), so one source backs every supported type.
// Shapes are runtime arguments of the kernels, never baked into the source.
package source

import (
	"embed"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/gomlx/kernelcache/backends"
	"github.com/gomlx/kernelcache/pkg/core/kerrors"
	"github.com/gomlx/kernelcache/pkg/kernels/ktypes"
	"github.com/gomlx/kernelcache/pkg/kernels/signature"
)

//go:embed cl/*.cl
var clFiles embed.FS

// Header is prepended to every program: it declares KParam and the type helpers.
var Header = mustReadCL("kparam.cl")

func mustReadCL(name string) string {
	data, err := clFiles.ReadFile("cl/" + name)
	if err != nil {
		panic(errors.Wrapf(err, "reading embedded kernel source %q", name))
	}
	return string(data)
}

// Source of one operation.
type Source struct {
	// Name of the operation, also the op part of its signatures.
	Name string

	// Entry is the name of the kernel function in Text.
	Entry string

	// Text of the kernel source, without Header.
	Text string

	// DTypes lists the supported element types.
	DTypes []dtypes.DType

	// Flags lists the variant flags the source takes as macros. Flags not listed are rejected.
	Flags []string

	// NeedsZero adds a "-D ZERO=<literal>" build option with the zero value of the element type.
	NeedsZero bool

	params []backends.Param
}

// Supports returns whether dtype is one of the supported element types.
func (src *Source) Supports(dtype dtypes.DType) bool {
	return slices.Contains(src.DTypes, dtype)
}

// Params returns the parameters declared by the kernel entry point.
func (src *Source) Params() []backends.Param {
	return src.params
}

// CheckDType returns an UnsupportedElementType error if dtype is not supported.
func (src *Source) CheckDType(dtype dtypes.DType) error {
	if !src.Supports(dtype) {
		return kerrors.Errorf(kerrors.UnsupportedElementType, "operation %q does not support element type %s", src.Name, dtype)
	}
	return nil
}

func (src *Source) checkFlags(flags signature.Flags) error {
	for name := range flags {
		if !slices.Contains(src.Flags, name) {
			return errors.Errorf("operation %q has no variant flag %q", src.Name, name)
		}
	}
	for _, name := range src.Flags {
		if _, found := flags[name]; !found {
			return errors.Errorf("operation %q requires variant flag %q", src.Name, name)
		}
	}
	return nil
}

// Signature returns the cache key for the given element type and flags.
func (src *Source) Signature(dtype dtypes.DType, flags signature.Flags) (signature.Signature, error) {
	if err := src.CheckDType(dtype); err != nil {
		return "", err
	}
	if err := src.checkFlags(flags); err != nil {
		return "", err
	}
	return signature.Make(src.Name, dtype, flags)
}

// BuildOptions returns the build options specializing the source for dtype and flags.
func (src *Source) BuildOptions(dtype dtypes.DType, flags signature.Flags) (string, error) {
	if err := src.CheckDType(dtype); err != nil {
		return "", err
	}
	if err := src.checkFlags(flags); err != nil {
		return "", err
	}
	clName, err := ktypes.TypeName(dtype)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, name := range src.Flags {
		_, _ = fmt.Fprintf(&sb, " -D %s=%d", name, flags[name])
	}
	if src.NeedsZero {
		zero, err := ktypes.NumStr(dtype, 0)
		if err != nil {
			return "", err
		}
		_, _ = fmt.Fprintf(&sb, " -D ZERO=%s", zero)
	}
	_, _ = fmt.Fprintf(&sb, " -D T=%s", clName)
	definition, err := ktypes.TypeDefinition(dtype)
	if err != nil {
		return "", err
	}
	sb.WriteString(definition)
	return sb.String(), nil
}

// Program returns the complete program source (Header + Text) and build options for dtype and flags.
func (src *Source) Program(dtype dtypes.DType, flags signature.Flags) (backends.ProgramSource, error) {
	options, err := src.BuildOptions(dtype, flags)
	if err != nil {
		return backends.ProgramSource{}, err
	}
	return backends.ProgramSource{
		Name:    src.Name,
		Sources: []string{Header, src.Text},
		Options: options,
	}, nil
}

// Registry maps operation names to their Source.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]*Source
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]*Source)}
}

// Register a source. The entry point must be declared in the source text, and the name must be new.
func (r *Registry) Register(src Source) error {
	entry, err := backends.FindEntryPoint(src.Text, src.Entry)
	if err != nil {
		return errors.WithMessagef(err, "registering kernel source %q", src.Name)
	}
	if len(src.DTypes) == 0 {
		return errors.Errorf("kernel source %q supports no element type", src.Name)
	}
	src.params = entry.Params
	src.DTypes = slices.Clone(src.DTypes)
	src.Flags = slices.Clone(src.Flags)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.sources[src.Name]; found {
		return errors.Errorf("kernel source %q already registered", src.Name)
	}
	r.sources[src.Name] = &src
	return nil
}

// Lookup returns the source registered for the operation name.
func (r *Registry) Lookup(name string) (*Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, found := r.sources[name]
	if !found {
		return nil, errors.Errorf("no kernel source registered for operation %q", name)
	}
	return src, nil
}

// Names returns the sorted names of the registered sources.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
