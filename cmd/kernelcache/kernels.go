// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/urfave/cli/v3"

	"github.com/gomlx/kernelcache/pkg/kernels/ktypes"
	"github.com/gomlx/kernelcache/pkg/kernels/source"
)

var (
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	headerStyle = lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
)

func newTable(headers ...string) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func kernelsCmd() *cli.Command {
	return &cli.Command{
		Name:  "kernels",
		Usage: "list the registered kernel sources: entry point, parameters, element types and flags",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return listKernels(os.Stdout, source.Default())
		},
	}
}

// listKernels writes a table describing every source in the registry.
func listKernels(w io.Writer, registry *source.Registry) error {
	table := newTable("Operation", "Entry point", "Parameters", "Types", "Flags")
	for _, name := range registry.Names() {
		src, err := registry.Lookup(name)
		if err != nil {
			return err
		}
		params := make([]string, 0, len(src.Params()))
		for _, p := range src.Params() {
			params = append(params, fmt.Sprintf("%s:%s", p.Name, p.Kind))
		}
		types := make([]string, 0, len(src.DTypes))
		for _, dtype := range src.DTypes {
			short, err := ktypes.ShortName(dtype)
			if err != nil {
				return err
			}
			types = append(types, short)
		}
		table.Row(src.Name, src.Entry, strings.Join(params, "\n"), strings.Join(types, " "), strings.Join(src.Flags, " "))
	}
	_, err := fmt.Fprintln(w, table.String())
	return err
}
