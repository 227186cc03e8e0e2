package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kerneltune/internal/autotune"
	"github.com/samcharles93/kerneltune/internal/logger"
	"github.com/samcharles93/kerneltune/internal/tensor"
)

// convShape holds the conv_transpose2d flags shared by tune and sweep.
type convShape struct {
	kernel, stride, padding, paddingOut, dilation string
	groups, batch, inChannels, outChannels        int64
	height, width                                 int64
	bias                                          bool
	dtype                                         string
}

func (s *convShape) flags(withSpatial bool) []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "kernel", Aliases: []string{"k"}, Usage: "kernel size, N or HxW", Value: "3", Destination: &s.kernel},
		&cli.StringFlag{Name: "stride", Usage: "stride, N or HxW", Value: "1", Destination: &s.stride},
		&cli.StringFlag{Name: "padding", Usage: "padding, N or HxW", Value: "0", Destination: &s.padding},
		&cli.StringFlag{Name: "padding-out", Usage: "extra output padding, N or HxW", Value: "0", Destination: &s.paddingOut},
		&cli.StringFlag{Name: "dilation", Usage: "dilation, N or HxW", Value: "1", Destination: &s.dilation},
		&cli.Int64Flag{Name: "groups", Usage: "channel groups", Value: 1, Destination: &s.groups},
		&cli.Int64Flag{Name: "in-channels", Usage: "input channels", Value: 3, Destination: &s.inChannels},
		&cli.Int64Flag{Name: "out-channels", Usage: "output channels", Value: 8, Destination: &s.outChannels},
		&cli.BoolFlag{Name: "bias", Usage: "include a bias vector", Value: true, Destination: &s.bias},
		&cli.StringFlag{Name: "dtype", Usage: "element type (f32, f16, bf16)", Value: "f32", Destination: &s.dtype},
	}
	if withSpatial {
		flags = append(flags,
			&cli.Int64Flag{Name: "batch", Aliases: []string{"b"}, Usage: "batch size", Value: 1, Destination: &s.batch},
			&cli.Int64Flag{Name: "height", Usage: "input height", Value: 32, Destination: &s.height},
			&cli.Int64Flag{Name: "width", Usage: "input width", Value: 32, Destination: &s.width},
		)
	}
	return flags
}

func (s *convShape) key() (autotune.ConvTranspose2dKey, error) {
	var k autotune.ConvTranspose2dKey
	var err error
	for _, p := range []struct {
		dst *[2]int
		src string
	}{
		{&k.KernelSize, s.kernel},
		{&k.Stride, s.stride},
		{&k.Padding, s.padding},
		{&k.PaddingOut, s.paddingOut},
		{&k.Dilation, s.dilation},
	} {
		if *p.dst, err = parsePair(p.src); err != nil {
			return k, err
		}
	}
	if k.DType, err = tensor.ParseDType(s.dtype); err != nil {
		return k, err
	}
	k.Groups = int(s.groups)
	k.InChannels = int(s.inChannels)
	k.OutChannels = int(s.outChannels)
	k.BatchSize = int(s.batch)
	k.Height = int(s.height)
	k.Width = int(s.width)
	k.HasBias = s.bias
	return k, nil
}

func tuneCmd() *cli.Command {
	return &cli.Command{
		Name:  "tune",
		Usage: "Tune one problem shape and print the decision",
		Commands: []*cli.Command{
			tuneConvTranspose2dCmd(),
			tuneMatmulCmd(),
		},
	}
}

func tuneConvTranspose2dCmd() *cli.Command {
	var shape convShape
	return &cli.Command{
		Name:    "conv-transpose2d",
		Aliases: []string{"conv_transpose2d"},
		Usage:   "Tune a transposed 2D convolution (input [B, Cin, H, W])",
		Flags:   shape.flags(true),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			key, err := shape.key()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			return runTune(ctx, cmd, key)
		},
	}
}

func tuneMatmulCmd() *cli.Command {
	var (
		m, k, n int64
		dtype   string
	)
	return &cli.Command{
		Name:  "matmul",
		Usage: "Tune a matrix multiply C[M, N] = A[M, K] x B[K, N]",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "m", Usage: "rows of A", Value: 256, Destination: &m},
			&cli.Int64Flag{Name: "k", Usage: "columns of A, rows of B", Value: 256, Destination: &k},
			&cli.Int64Flag{Name: "n", Usage: "columns of B", Value: 256, Destination: &n},
			&cli.StringFlag{Name: "dtype", Usage: "element type (f32, f16, bf16)", Value: "f32", Destination: &dtype},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dt, err := tensor.ParseDType(dtype)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			return runTune(ctx, cmd, autotune.MatmulKey{M: int(m), K: int(k), N: int(n), DType: dt})
		},
	}
}

func runTune(ctx context.Context, cmd *cli.Command, key autotune.Key) error {
	ctx, _, err := prepare(ctx, cmd)
	if err != nil {
		return err
	}
	if err := key.Validate(); err != nil {
		return cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	log := logger.FromContext(ctx)
	status := eng.registry.Status(eng.device, key)
	start := time.Now()
	e, err := eng.registry.Tune(ctx, eng.device, key)
	if err != nil {
		return exitOnTuneError(err)
	}
	if status == autotune.StatusCached {
		log.Info("decision loaded from cache", "candidate", e.Name, "tuned_at", e.TunedAt.Local().Format(time.RFC3339))
	} else {
		log.Info("tuned", "candidate", e.Name, "elapsed", time.Since(start))
	}
	if eng.state.MemoryOnly(eng.device.ID()) && eng.store != nil {
		log.Warn("tuning cache is memory only for this run", "path", eng.store.Path(eng.device.ID()))
	}

	set := eng.registry.Candidates(e.Family)
	renderDecision(os.Stdout, e, set, func(i int) bool { return eng.registry.Eligible(key, i) })
	return nil
}
