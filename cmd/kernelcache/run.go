// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
	"k8s.io/klog/v2"

	"github.com/gomlx/kernelcache/backends/hostgo"
	"github.com/gomlx/kernelcache/pkg/core/arrays"
	"github.com/gomlx/kernelcache/pkg/kernels/cache"
	"github.com/gomlx/kernelcache/pkg/kernels/ktypes"
	"github.com/gomlx/kernelcache/pkg/ops"
)

// Report of a run.
type Report struct {
	Op       string        `json:"op"`
	DType    string        `json:"dtype"`
	Backend  string        `json:"backend"`
	Device   string        `json:"device"`
	Repeat   int           `json:"repeat"`
	Elapsed  time.Duration `json:"elapsed"`
	Elements int           `json:"elements"`
	Cache    cache.Stats   `json:"cache"`
}

func (r Report) String() string {
	perRun := time.Duration(0)
	if r.Repeat > 0 {
		perRun = r.Elapsed / time.Duration(r.Repeat)
	}
	return fmt.Sprintf("%s of %s on %s (%s): %d runs verified in %s (%s/run, %s elements)\n%s",
		r.Op, r.DType, r.Backend, r.Device, r.Repeat, r.Elapsed, perRun, humanize.Comma(int64(r.Elements)), r.Cache)
}

type runOptions struct {
	op, dtype string
	repeat    int
	asJSON    bool
}

func runCmd() *cli.Command {
	var opts runOptions
	return &cli.Command{
		Name:  "run",
		Usage: "run an operation repeatedly on the active device, verify its results and report the cache counters",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "op",
				Usage:       fmt.Sprintf("operation to run, one of %v", workloadOps),
				Value:       "tile",
				Destination: &opts.op,
			},
			&cli.StringFlag{
				Name:        "dtype",
				Usage:       "element type, by its short name: f32, f64, c32, c64, s32 or s64",
				Value:       "f32",
				Destination: &opts.dtype,
			},
			&cli.IntFlag{
				Name:        "repeat",
				Usage:       "number of times to run the operation",
				Value:       10,
				Destination: &opts.repeat,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the report as JSON",
				Destination: &opts.asJSON,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			backend, err := newBackend()
			if err != nil {
				return err
			}
			defer backend.Finalize()
			var engineOpts []ops.Option
			if debugSyncSet {
				engineOpts = append(engineOpts, ops.WithDebugSync(flagDebugSync))
			}
			engine := ops.New(backend, engineOpts...)
			report, err := run(ctx, engine, opts, progressWriter(opts.asJSON))
			if closeErr := engine.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				return err
			}
			return printReport(os.Stdout, report, opts.asJSON)
		},
	}
}

// progressWriter is where the progress bar goes, nil if it is disabled.
func progressWriter(asJSON bool) io.Writer {
	if asJSON {
		return nil
	}
	return os.Stderr
}

func printReport(w io.Writer, report Report, asJSON bool) error {
	if !asJSON {
		_, err := fmt.Fprintln(w, report)
		return err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding report")
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// run executes the operation opts.repeat times, verifying every result.
func run(ctx context.Context, engine *ops.Engine, opts runOptions, progress io.Writer) (Report, error) {
	report := Report{Op: opts.op, DType: opts.dtype, Backend: engine.Backend().Name(), Repeat: opts.repeat}
	if opts.repeat < 1 {
		return report, errors.Errorf("--repeat=%d: at least one run is required", opts.repeat)
	}
	host, ok := engine.Backend().(*hostgo.Backend)
	if !ok {
		return report, errors.Errorf("run generates its inputs on the host, it requires the %q backend, got %q",
			hostgo.BackendName, engine.Backend().Name())
	}
	report.Device = host.ActiveDevice().Name()
	dtype, found := ktypes.DTypeForShortName(opts.dtype)
	if !found {
		return report, errors.Errorf("unknown element type %q", opts.dtype)
	}

	var bar *progressbar.ProgressBar
	if progress != nil {
		bar = progressbar.NewOptions(opts.repeat,
			progressbar.OptionSetDescription(fmt.Sprintf("%s(%s)", opts.op, opts.dtype)),
			progressbar.OptionSetWriter(progress),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("runs"),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionClearOnFinish(),
		)
	} else {
		bar = progressbar.DefaultSilent(int64(opts.repeat))
	}

	start := time.Now()
	var err error
	switch dtype {
	case dtypes.Float32:
		report.Elements, err = execute[float32](ctx, engine, host, opts, bar)
	case dtypes.Float64:
		report.Elements, err = execute[float64](ctx, engine, host, opts, bar)
	case dtypes.Complex64:
		report.Elements, err = execute[complex64](ctx, engine, host, opts, bar)
	case dtypes.Complex128:
		report.Elements, err = execute[complex128](ctx, engine, host, opts, bar)
	case dtypes.Int32:
		report.Elements, err = execute[int32](ctx, engine, host, opts, bar)
	case dtypes.Int64:
		report.Elements, err = execute[int64](ctx, engine, host, opts, bar)
	default:
		err = errors.Errorf("element type %q (%s) not supported by the run command", opts.dtype, dtype)
	}
	report.Elapsed = time.Since(start)
	_ = bar.Finish()
	report.Cache = engine.Cache().Stats()
	return report, err
}

// execute runs the workload, returning the number of elements of the result.
func execute[T element](ctx context.Context, engine *ops.Engine, host *hostgo.Backend, opts runOptions, bar *progressbar.ProgressBar) (int, error) {
	w, err := newWorkload[T](opts.op)
	if err != nil {
		return 0, err
	}
	buf, err := host.FromFlat(host.ActiveDevice().ID(), w.input, w.dims[:]...)
	if err != nil {
		return 0, err
	}
	defer buf.Finalize()
	in := arrays.Contiguous(buf)
	for i := range opts.repeat {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		out, err := w.run(engine, in)
		if err != nil {
			return 0, err
		}
		if err := verify(engine, in, out, w.want); err != nil {
			return 0, errors.WithMessagef(err, "run #%d", i)
		}
		_ = bar.Add(1)
	}
	klog.V(1).Infof("%s: %d runs of %s(%s) verified", host.ActiveDevice().Name(), opts.repeat, opts.op, opts.dtype)
	return len(w.want), nil
}

// verify waits for the result and compares it to want. The output is released, unless it aliases the input.
func verify[T element](engine *ops.Engine, in, out arrays.View, want []T) error {
	if out.Buffer != in.Buffer {
		defer out.Buffer.Finalize()
	}
	if err := engine.Sync(); err != nil {
		return err
	}
	got, err := hostgo.Gather[T](out)
	if err != nil {
		return err
	}
	if len(got) != len(want) {
		return errors.Errorf("result has %d elements, expected %d", len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			return errors.Errorf("result element #%d is %v, expected %v", i, got[i], want[i])
		}
	}
	return nil
}
