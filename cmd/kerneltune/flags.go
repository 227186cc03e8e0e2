package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kerneltune/internal/autotune"
	"github.com/samcharles93/kerneltune/internal/kernels"
)

var (
	cacheDir         string
	backendName      string
	memoryOnly       bool
	retune           bool
	warmup           int64
	samples          int64
	seed             int64
	col2imMaxColumns int64
	logLevel         string
	logFormat        string
	debug            bool
)

func engineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "cache-dir",
			Usage:       "directory holding persisted tuning decisions (default: $" + envCacheDir + " or the user cache dir)",
			Destination: &cacheDir,
		},
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "execution backend (auto, cpu, cuda)",
			Value:       "auto",
			Destination: &backendName,
		},
		&cli.BoolFlag{
			Name:        "memory-only",
			Usage:       "do not read or write the tuning cache on disk",
			Destination: &memoryOnly,
		},
		&cli.BoolFlag{
			Name:        "retune",
			Usage:       "ignore persisted decisions and tune every key again",
			Destination: &retune,
		},
		&cli.Int64Flag{
			Name:        "warmup",
			Usage:       "discarded runs per candidate before timing",
			Value:       autotune.DefaultWarmup,
			Destination: &warmup,
		},
		&cli.Int64Flag{
			Name:        "samples",
			Usage:       "timed runs per candidate; the median is the score",
			Value:       autotune.DefaultSamples,
			Destination: &samples,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "seed for synthetic benchmark inputs",
			Value:       autotune.DefaultSeed,
			Destination: &seed,
		},
		&cli.Int64Flag{
			Name:        "col2im-max-columns",
			Usage:       "largest col2im GEMM width (batches x height x width) before col2im is ineligible",
			Value:       int64(kernels.DefaultCol2ImColumns),
			Destination: &col2imMaxColumns,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
