// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// EntryPoint is a kernel function declared in a program source.
type EntryPoint struct {
	Name   string
	Params []Param
}

var (
	reLineComment  = regexp.MustCompile(`//[^\n]*`)
	reBlockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reKernelDecl   = regexp.MustCompile(`(?:__)?kernel\s+void\s+([A-Za-z_]\w*)\s*\(([^)]*)\)`)
)

var intTypes = map[string]bool{
	"int": true, "uint": true, "unsigned": true, "long": true, "ulong": true, "dim_t": true,
	"short": true, "ushort": true,
}

// ParseEntryPoints returns the kernel entry points declared in src, in declaration order.
//
// Only the parameter forms the engine binds are recognized: pointers to global memory (ParamBuffer),
// KParam descriptors (ParamInfo) and integer scalars (ParamInt).
func ParseEntryPoints(src string) ([]EntryPoint, error) {
	src = reBlockComment.ReplaceAllString(src, " ")
	src = reLineComment.ReplaceAllString(src, "")
	var entries []EntryPoint
	for _, match := range reKernelDecl.FindAllStringSubmatch(src, -1) {
		entry := EntryPoint{Name: match[1]}
		paramList := strings.TrimSpace(match[2])
		if paramList != "" && paramList != "void" {
			for _, decl := range strings.Split(paramList, ",") {
				param, err := parseParam(decl)
				if err != nil {
					return nil, errors.WithMessagef(err, "kernel %q", entry.Name)
				}
				entry.Params = append(entry.Params, param)
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// FindEntryPoint parses src and returns the entry point with the given name.
func FindEntryPoint(src, name string) (EntryPoint, error) {
	entries, err := ParseEntryPoints(src)
	if err != nil {
		return EntryPoint{}, err
	}
	for _, entry := range entries {
		if entry.Name == name {
			return entry, nil
		}
	}
	return EntryPoint{}, errors.Errorf("no kernel named %q declared in source", name)
}

func parseParam(decl string) (Param, error) {
	var param Param
	fields := strings.Fields(strings.ReplaceAll(decl, "*", " * "))
	var typeAndName []string
	isPointer := false
	for _, field := range fields {
		switch field {
		case "const", "__const":
			param.Const = true
		case "global", "__global", "restrict", "__restrict", "volatile":
		case "*":
			isPointer = true
		default:
			typeAndName = append(typeAndName, field)
		}
	}
	if len(typeAndName) < 2 {
		return param, errors.Errorf("cannot parse parameter declaration %q", strings.TrimSpace(decl))
	}
	param.Name = typeAndName[len(typeAndName)-1]
	typeName := typeAndName[0]
	switch {
	case isPointer:
		param.Kind = ParamBuffer
	case typeName == "KParam":
		param.Kind = ParamInfo
	case intTypes[typeName]:
		param.Kind = ParamInt
	default:
		return param, errors.Errorf("unsupported parameter type %q in declaration %q", typeName, strings.TrimSpace(decl))
	}
	return param, nil
}
