package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kerneltune/internal/autotune"
	"github.com/samcharles93/kerneltune/internal/backend"
	"github.com/samcharles93/kerneltune/internal/kernels"
	"github.com/samcharles93/kerneltune/internal/logger"
	"github.com/samcharles93/kerneltune/internal/tunestore"
)

// prepare loads the config file, applies it under the command line flags
// and installs the logger in the returned context.
func prepare(ctx context.Context, cmd *cli.Command) (context.Context, Config, error) {
	cfg, err := LoadConfig(configPath())
	if err != nil {
		return ctx, Config{}, err
	}
	applyConfig(cmd, cfg)
	if debug {
		logLevel = "debug"
	}
	log, err := logger.Setup(os.Stderr, logLevel, logFormat)
	if err != nil {
		return ctx, Config{}, err
	}
	return logger.WithContext(ctx, log), cfg, nil
}

// engine is the tuning stack one command runs against.
type engine struct {
	log      logger.Logger
	store    *tunestore.FileStore
	state    *autotune.State
	registry *kernels.Registry
	device   backend.Device
}

func openEngine(ctx context.Context) (*engine, error) {
	log := logger.FromContext(ctx)

	if col2imMaxColumns <= 0 {
		return nil, fmt.Errorf("--col2im-max-columns must be positive, got %d", col2imMaxColumns)
	}
	dev, err := backend.Open(backendName)
	if err != nil {
		return nil, fmt.Errorf("open backend %q: %w (available: %s)", backendName, err, backend.Available())
	}

	opts := autotune.Options{
		Retune: retune,
		Benchmark: autotune.Benchmarker{
			Warmup:  int(warmup),
			Samples: int(samples),
			Seed:    seed,
		},
		Logger: log,
	}
	var store *tunestore.FileStore
	if !memoryOnly {
		dir, err := resolveCacheDir(cacheDir)
		if err != nil {
			_ = dev.Close()
			return nil, err
		}
		store = tunestore.New(dir)
		opts.Store = store
		log.Debug("using tuning cache", "path", store.Path(dev.ID()))
	}

	state := autotune.NewState(opts)
	reg, err := kernels.NewRegistry(state, kernels.ColumnBudget(col2imMaxColumns))
	if err != nil {
		_ = dev.Close()
		return nil, err
	}
	return &engine{
		log:      log,
		store:    store,
		state:    state,
		registry: reg,
		device:   dev,
	}, nil
}

func (e *engine) Close() error {
	return e.device.Close()
}

// exitOnTuneError maps a no-viable-candidate failure to exit code 2 so
// scripts can tell it from usage errors.
func exitOnTuneError(err error) error {
	if errors.Is(err, autotune.ErrNoViableCandidate) {
		return cli.Exit(fmt.Sprintf("error: %v", err), 2)
	}
	return err
}
