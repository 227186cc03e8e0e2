package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kerneltune/internal/autotune"
	"github.com/samcharles93/kerneltune/internal/logger"
	"github.com/samcharles93/kerneltune/internal/tensor"
)

func sweepCmd() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Tune a grid of problem shapes, filling the tuning cache",
		Commands: []*cli.Command{
			sweepConvTranspose2dCmd(),
			sweepMatmulCmd(),
		},
	}
}

func sweepConvTranspose2dCmd() *cli.Command {
	var (
		shape   convShape
		sizes   string
		batches string
	)
	flags := append(shape.flags(false),
		&cli.StringFlag{Name: "sizes", Usage: "comma separated square input sizes (height = width)", Value: "8,16,32,64", Destination: &sizes},
		&cli.StringFlag{Name: "batches", Usage: "comma separated batch sizes", Value: "1,4", Destination: &batches},
	)
	return &cli.Command{
		Name:    "conv-transpose2d",
		Aliases: []string{"conv_transpose2d"},
		Usage:   "Sweep transposed convolution input sizes and batch sizes",
		Flags:   flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			hw, err := parseInts(sizes)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: --sizes: %v", err), 1)
			}
			bs, err := parseInts(batches)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: --batches: %v", err), 1)
			}
			base, err := shape.key()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			var keys []autotune.Key
			for _, b := range bs {
				for _, s := range hw {
					k := base
					k.BatchSize, k.Height, k.Width = b, s, s
					keys = append(keys, k)
				}
			}
			return runSweep(ctx, cmd, keys)
		},
	}
}

func sweepMatmulCmd() *cli.Command {
	var (
		sizes string
		dtype string
	)
	return &cli.Command{
		Name:  "matmul",
		Usage: "Sweep square matrix multiplies (M = K = N)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "sizes", Usage: "comma separated sizes", Value: "32,64,128,256,512", Destination: &sizes},
			&cli.StringFlag{Name: "dtype", Usage: "element type (f32, f16, bf16)", Value: "f32", Destination: &dtype},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ns, err := parseInts(sizes)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: --sizes: %v", err), 1)
			}
			dt, err := tensor.ParseDType(dtype)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			keys := make([]autotune.Key, 0, len(ns))
			for _, n := range ns {
				keys = append(keys, autotune.MatmulKey{M: n, K: n, N: n, DType: dt})
			}
			return runSweep(ctx, cmd, keys)
		},
	}
}

type sweepResult struct {
	key    autotune.Key
	status autotune.Status
	entry  autotune.Entry
	err    error
}

// runSweep tunes keys in order. A key without a viable candidate is reported
// and skipped; any other error stops the sweep.
func runSweep(ctx context.Context, cmd *cli.Command, keys []autotune.Key) error {
	ctx, _, err := prepare(ctx, cmd)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := k.Validate(); err != nil {
			return cli.Exit(fmt.Sprintf("error: %v", err), 1)
		}
	}
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()
	log := logger.FromContext(ctx)

	bar := progressbar.NewOptions(len(keys),
		progressbar.OptionSetDescription("Tuning: "),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("keys"),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		progressbar.OptionClearOnFinish(),
	)
	results := make([]sweepResult, 0, len(keys))
	for _, k := range keys {
		r := sweepResult{key: k, status: eng.registry.Status(eng.device, k)}
		r.entry, r.err = eng.registry.Tune(ctx, eng.device, k)
		if r.err != nil && !errors.Is(r.err, autotune.ErrNoViableCandidate) {
			_ = bar.Exit()
			return r.err
		}
		if r.err != nil {
			log.Warn("no viable candidate", "key", k.String(), "error", r.err)
		}
		results = append(results, r)
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	renderSweep(os.Stdout, results)
	return nil
}

func renderSweep(w io.Writer, results []sweepResult) {
	table := newTable(nil, lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right, lipgloss.Left).
		Headers("key", "family", "candidate", "median", "source")
	for _, r := range results {
		if r.err != nil {
			table.Row(r.key.String(), r.key.Family().String(), "-", "-", "no viable candidate")
			continue
		}
		source := "tuned"
		if r.status == autotune.StatusCached {
			source = "cache"
		}
		var median time.Duration
		if r.entry.Index < len(r.entry.Durations) {
			median = r.entry.Durations[r.entry.Index]
		}
		table.Row(r.key.String(), r.entry.Family.String(), r.entry.Name, formatDuration(median), source)
	}
	_, _ = fmt.Fprintln(w, table.Render())
}
