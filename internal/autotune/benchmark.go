package autotune

import (
	"context"
	"fmt"
	"math/rand"
	"slices"
	"time"

	"github.com/gomlx/exceptions"

	"github.com/samcharles93/kerneltune/internal/backend"
)

const (
	DefaultWarmup  = 1
	DefaultSamples = 5
	DefaultSeed    = 42
)

// Benchmarker times candidates on synthetic inputs. Each candidate gets its
// own input built from the same seed, is run Warmup times with the results
// discarded, then Samples times; the median of the samples is its score.
type Benchmarker struct {
	Warmup  int
	Samples int
	Seed    int64

	// Now is the clock used to time runs. Defaults to time.Now.
	Now func() time.Time
}

func (b Benchmarker) withDefaults() Benchmarker {
	if b.Warmup < 1 {
		b.Warmup = DefaultWarmup
	}
	if b.Samples < 1 {
		b.Samples = DefaultSamples
	}
	if b.Now == nil {
		b.Now = time.Now
	}
	return b
}

// Measurement is the outcome of benchmarking one candidate.
type Measurement struct {
	Index   int
	Median  time.Duration
	Samples []time.Duration
}

// Measure benchmarks candidate index of set for key on dev. Each run is
// submitted to the device and timed from inside the submitted work, so queue
// wait is not counted. Caller inputs are never touched.
func Measure[In, Out any](ctx context.Context, b Benchmarker, dev backend.Device, set *Set[In, Out], key Key, index int) (Measurement, error) {
	b = b.withDefaults()
	c := set.Candidates[index]
	fail := func(err error) (Measurement, error) {
		return Measurement{}, &BenchmarkError{Candidate: c.Name, Index: index, Err: err}
	}

	in, err := set.Synthesize(key, rand.New(rand.NewSource(b.Seed)))
	if err != nil {
		return fail(fmt.Errorf("synthesize input: %w", err))
	}

	run := func() (time.Duration, error) {
		var elapsed time.Duration
		err := dev.Submit(ctx, func() error {
			start := b.Now()
			err := runCandidate(ctx, c, in)
			elapsed = b.Now().Sub(start)
			return err
		})
		return elapsed, err
	}

	for range b.Warmup {
		if _, err := run(); err != nil {
			return fail(err)
		}
	}
	samples := make([]time.Duration, b.Samples)
	for i := range samples {
		d, err := run()
		if err != nil {
			return fail(err)
		}
		samples[i] = d
	}
	return Measurement{Index: index, Median: median(samples), Samples: samples}, nil
}

// runCandidate turns a panicking candidate into an error.
func runCandidate[In, Out any](ctx context.Context, c Candidate[In, Out], in In) (err error) {
	exception := exceptions.Try(func() {
		_, err = c.Run(ctx, in)
	})
	if exception != nil {
		if e, ok := exception.(error); ok {
			return fmt.Errorf("panic: %w", e)
		}
		return fmt.Errorf("panic: %v", exception)
	}
	return err
}

func median(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	s := slices.Clone(samples)
	slices.Sort(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}
