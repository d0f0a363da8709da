// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hostgo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"

	"github.com/gomlx/kernelcache/backends"
	"github.com/gomlx/kernelcache/pkg/core/kerrors"
	"github.com/gomlx/kernelcache/pkg/kernels/ktypes"
)

// buildLog accumulates the diagnostics of one build.
type buildLog struct {
	strings.Builder
	failed bool
}

func (l *buildLog) infof(format string, args ...any) {
	_, _ = fmt.Fprintf(l, format+"\n", args...)
}

func (l *buildLog) errorf(format string, args ...any) {
	l.failed = true
	_, _ = fmt.Fprintf(l, "error: "+format+"\n", args...)
}

// Build implements backends.Device: it plays the role of the device compiler.
//
// The build options are parsed as "-D NAME[=VALUE]" definitions. The element type T is required, and the
// extension definitions (USE_DOUBLE, USE_HALF) must be present for types that need them and supported by
// the device. Each entry point declared in the sources is bound to its Go implementation, and its declared
// parameters checked against it. Failures are returned as kerrors.CompilationFailure with the build log.
func (d *Device) Build(src backends.ProgramSource) (backends.Program, error) {
	d.builds.Add(1)
	log := &buildLog{}
	log.infof("building %q for %s with options %q", src.Name, d.Name(), src.Options)
	program := d.build(src, log)
	if log.failed {
		klog.V(1).Infof("hostgo: build of %q failed:\n%s", src.Name, log.String())
		return nil, kerrors.BuildFailed(log.String(), "hostgo: building program %q on %s", src.Name, d.Name())
	}
	program.log = log.String()
	return program, nil
}

// build returns the program, or nil if it failed, in which case the log records why.
func (d *Device) build(src backends.ProgramSource, log *buildLog) *Program {
	defines, err := parseOptions(src.Options)
	if err != nil {
		log.errorf("%v", err)
		return nil
	}
	typeName, found := defines["T"]
	if !found {
		log.errorf("use of undeclared identifier 'T': the element type must be defined with -D T=<type>")
		return nil
	}
	dtype, found := ktypes.DTypeForTypeName(typeName)
	if !found {
		log.errorf("unknown type name %q", typeName)
		return nil
	}
	definition, _ := ktypes.TypeDefinition(dtype)
	if strings.Contains(definition, "USE_DOUBLE") {
		if _, found := defines["USE_DOUBLE"]; !found {
			log.errorf("type %q requires the fp64 extension: -D USE_DOUBLE missing", typeName)
		} else if !d.backend.config.FP64 {
			log.errorf("device %s doesn't support the fp64 extension required by %q", d.Name(), typeName)
		}
	}
	if strings.Contains(definition, "USE_HALF") {
		if _, found := defines["USE_HALF"]; !found {
			log.errorf("type %q requires the fp16 extension: -D USE_HALF missing", typeName)
		} else if !d.backend.config.FP16 {
			log.errorf("device %s doesn't support the fp16 extension required by %q", d.Name(), typeName)
		}
	}

	program := &Program{
		device:  d,
		name:    src.Name,
		dtype:   dtype,
		defines: defines,
		kernels: make(map[string]*Kernel),
	}
	if literal, found := defines["ZERO"]; found {
		program.zero, err = parseLiteral(dtype, literal)
		if err != nil {
			log.errorf("invalid ZERO definition: %v", err)
		}
	}

	entries, err := backends.ParseEntryPoints(strings.Join(src.Sources, "\n"))
	if err != nil {
		log.errorf("%v", err)
		return nil
	}
	if len(entries) == 0 {
		log.errorf("program %q has no kernel entry points", src.Name)
	}
	for _, entry := range entries {
		kernel := program.bindEntryPoint(entry, log)
		if kernel != nil {
			program.kernels[entry.Name] = kernel
			log.infof("entry point %s(%d parameters) bound for %s", entry.Name, len(entry.Params), dtype)
		}
	}
	if log.failed {
		return nil
	}
	return program
}

// bindEntryPoint finds the Go implementation of the entry point and checks it matches the declaration.
func (p *Program) bindEntryPoint(entry backends.EntryPoint, log *buildLog) *Kernel {
	impl, found := kernelImpls[entry.Name]
	if !found {
		log.errorf("no host implementation for entry point %q", entry.Name)
		return nil
	}
	if len(entry.Params) != len(impl.params) {
		log.errorf("entry point %q declares %d parameters, its implementation takes %d", entry.Name, len(entry.Params), len(impl.params))
		return nil
	}
	for i, param := range entry.Params {
		if param.Kind != impl.params[i] {
			log.errorf("entry point %q parameter #%d (%q) declared as %s, its implementation takes %s",
				entry.Name, i, param.Name, param.Kind, impl.params[i])
			return nil
		}
	}
	bind := impl.dispatch.get(p.dtype)
	if bind == nil {
		log.errorf("entry point %q not implemented for type %s", entry.Name, p.dtype)
		return nil
	}
	kernel := &Kernel{program: p, entry: entry, bind: bind, flags: make(map[string]int, len(impl.flags))}
	for _, flag := range impl.flags {
		value, found := p.defines[flag]
		if !found {
			log.errorf("use of undeclared identifier %q in %q", flag, entry.Name)
			return nil
		}
		v, err := strconv.Atoi(value)
		if err != nil {
			log.errorf("definition %s=%q is not an integer", flag, value)
			return nil
		}
		kernel.flags[flag] = v
	}
	if impl.needsZero && p.zero == nil {
		log.errorf("use of undeclared identifier 'ZERO' in %q", entry.Name)
		return nil
	}
	return kernel
}

// parseOptions parses "-D NAME[=VALUE]" (or "-DNAME[=VALUE]") definitions separated by spaces.
// A definition without value gets "1", as with a C preprocessor.
func parseOptions(options string) (map[string]string, error) {
	defines := make(map[string]string)
	fields := strings.Fields(options)
	for i := 0; i < len(fields); i++ {
		field := fields[i]
		var def string
		switch {
		case field == "-D":
			if i+1 >= len(fields) {
				return nil, errors.New("missing definition after -D")
			}
			i++
			def = fields[i]
		case strings.HasPrefix(field, "-D"):
			def = field[2:]
		default:
			return nil, errors.Errorf("unsupported build option %q", field)
		}
		name, value, hasValue := strings.Cut(def, "=")
		if name == "" {
			return nil, errors.Errorf("invalid definition %q", def)
		}
		if !hasValue {
			value = "1"
		}
		if previous, found := defines[name]; found && previous != value {
			return nil, errors.Errorf("%q redefined: %q, previously %q", name, value, previous)
		}
		defines[name] = value
	}
	return defines, nil
}

// parseLiteral parses a constant as written by ktypes.NumStr, into a value of the Go type of dtype.
func parseLiteral(dtype dtypes.DType, literal string) (any, error) {
	parseFloat := func(s string, bits int) (float64, error) {
		s = strings.TrimSuffix(strings.TrimSpace(s), "f")
		return strconv.ParseFloat(s, bits)
	}
	parseComplex := func(prefix string, bits int) (float64, float64, error) {
		inner, found := strings.CutPrefix(literal, prefix+"(")
		inner, closed := strings.CutSuffix(inner, ")")
		if !found || !closed {
			return 0, 0, errors.Errorf("literal %q is not a %s vector", literal, prefix)
		}
		reStr, imStr, found := strings.Cut(inner, ",")
		if !found {
			return 0, 0, errors.Errorf("literal %q is not a %s vector", literal, prefix)
		}
		re, err := parseFloat(reStr, bits)
		if err != nil {
			return 0, 0, err
		}
		im, err := parseFloat(imStr, bits)
		return re, im, err
	}

	switch dtype {
	case dtypes.Float32:
		v, err := parseFloat(literal, 32)
		return float32(v), err
	case dtypes.Float64:
		v, err := parseFloat(literal, 64)
		return v, err
	case dtypes.Float16:
		inner, found := strings.CutPrefix(literal, "(half)(")
		inner, closed := strings.CutSuffix(inner, ")")
		if !found || !closed {
			return nil, errors.Errorf("literal %q is not a half", literal)
		}
		v, err := parseFloat(inner, 32)
		return float16.Fromfloat32(float32(v)), err
	case dtypes.Complex64:
		re, im, err := parseComplex("(cfloat)", 32)
		return complex(float32(re), float32(im)), err
	case dtypes.Complex128:
		re, im, err := parseComplex("(cdouble)", 64)
		return complex(re, im), err
	case dtypes.Bool:
		switch literal {
		case "0":
			return false, nil
		case "1":
			return true, nil
		}
		return nil, errors.Errorf("literal %q is not a boolean", literal)
	case dtypes.Int16, dtypes.Int32, dtypes.Int64:
		v, err := strconv.ParseInt(literal, 10, 8*int(dtype.Memory()))
		switch dtype {
		case dtypes.Int16:
			return int16(v), err
		case dtypes.Int32:
			return int32(v), err
		}
		return v, err
	case dtypes.Uint8, dtypes.Uint16, dtypes.Uint32, dtypes.Uint64:
		v, err := strconv.ParseUint(literal, 10, 8*int(dtype.Memory()))
		switch dtype {
		case dtypes.Uint8:
			return uint8(v), err
		case dtypes.Uint16:
			return uint16(v), err
		case dtypes.Uint32:
			return uint32(v), err
		}
		return v, err
	}
	return nil, errors.Errorf("literals of type %s not supported", dtype)
}
