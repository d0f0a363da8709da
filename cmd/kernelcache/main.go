// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// kernelcache inspects the registered kernel sources and exercises the operations on a backend,
// reporting the kernel cache counters.
//
// Usage:
//
//	kernelcache kernels
//	kernelcache --backend="go:devices=2" run --op=wrap --dtype=f64 --repeat=100
//
// Defaults for the global flags can be given in a YAML file, see --config.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/urfave/cli/v3"
	"k8s.io/klog/v2"

	"github.com/gomlx/kernelcache/backends"
	_ "github.com/gomlx/kernelcache/backends/hostgo"
	"github.com/gomlx/kernelcache/pkg/kernels/launch"
)

var (
	flagBackend   string
	flagConfig    string
	flagDebugSync bool
	flagVerbosity int

	// debugSyncSet is true if --debug-sync was given, in the command line or config file. Otherwise
	// the engine takes its default from the environment.
	debugSyncSet bool
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Usage:       fmt.Sprintf("backend configuration, \"<name>:<config>\"; defaults to $%s", backends.ConfigEnvVar),
			Destination: &flagBackend,
		},
		&cli.StringFlag{
			Name:        "config",
			Usage:       "YAML file with defaults for the global flags",
			Value:       configPath(),
			Destination: &flagConfig,
		},
		&cli.BoolFlag{
			Name:        "debug-sync",
			Usage:       fmt.Sprintf("wait for every kernel launch to finish; defaults to $%s", launch.DebugSyncEnvVar),
			Destination: &flagDebugSync,
		},
		&cli.IntFlag{
			Name:        "v",
			Usage:       "logging verbosity: 1 logs compilations, 2 dispatch decisions, 3 kernel executions",
			Destination: &flagVerbosity,
		},
	}
}

// before loads the config file and sets up logging.
func before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := loadConfig(flagConfig, cmd.IsSet("config"))
	if err != nil {
		return ctx, err
	}
	cfg.apply(cmd)
	debugSyncSet = cmd.IsSet("debug-sync") || cfg.DebugSync != nil
	if flagVerbosity > 0 {
		if err := flag.Set("v", strconv.Itoa(flagVerbosity)); err != nil {
			return ctx, err
		}
	}
	return ctx, nil
}

// newBackend creates the backend selected by --backend, or the default one.
func newBackend() (backends.Backend, error) {
	if flagBackend != "" {
		return backends.NewWithConfig(flagBackend)
	}
	return backends.New()
}

func main() {
	klog.InitFlags(nil)
	defer klog.Flush()
	app := &cli.Command{
		Name:   "kernelcache",
		Usage:  "inspect kernel sources and exercise the kernel cache",
		Flags:  globalFlags(),
		Before: before,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			kernelsCmd(),
			runCmd(),
		},
	}
	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%+v\n", err)
		klog.Flush()
		os.Exit(1)
	}
}
