package autotune

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMedian(t *testing.T) {
	t.Parallel()

	us := time.Microsecond
	tests := []struct {
		in   []time.Duration
		want time.Duration
	}{
		{nil, 0},
		{[]time.Duration{7 * us}, 7 * us},
		{[]time.Duration{9 * us, 1 * us, 5 * us}, 5 * us},
		{[]time.Duration{4 * us, 1 * us, 3 * us, 100 * us}, 3500 * time.Nanosecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, median(tt.in), "%v", tt.in)
	}

	in := []time.Duration{3, 1, 2}
	median(in)
	assert.Equal(t, []time.Duration{3, 1, 2}, in, "median must not reorder its input")
}

func TestMeasureDiscardsWarmupAndTakesMedian(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	costs := []time.Duration{time.Second, 5 * time.Microsecond, time.Microsecond, 9 * time.Microsecond}
	calls := 0
	h := newHarness(0)
	set := h.set(nil)
	set.Candidates[0].Run = func(ctx context.Context, in vec) (float32, error) {
		clock.Advance(costs[calls])
		calls++
		return 0, nil
	}

	dev := newFakeDevice("dev0")
	b := Benchmarker{Warmup: 1, Samples: 3, Now: clock.Now}
	m, err := Measure(context.Background(), b, dev, set, vecKey(4), 0)
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{5 * time.Microsecond, time.Microsecond, 9 * time.Microsecond}, m.Samples)
	assert.Equal(t, 5*time.Microsecond, m.Median)
	assert.Equal(t, int64(4), dev.submits.Load(), "every run goes through the device")
}

func TestMeasureUsesSeededInputs(t *testing.T) {
	t.Parallel()

	var seen [][]float32
	h := newHarness(time.Microsecond)
	set := h.set(nil)
	set.Candidates[0].Run = func(ctx context.Context, in vec) (float32, error) {
		seen = append(seen, append([]float32(nil), in.data...))
		return 0, nil
	}
	b := Benchmarker{Warmup: 1, Samples: 1, Seed: 7}
	for range 2 {
		_, err := Measure(context.Background(), b, newFakeDevice("dev0"), set, vecKey(16), 0)
		require.NoError(t, err)
	}

	want, err := set.Synthesize(vecKey(16), rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	require.Len(t, seen, 4)
	for _, got := range seen {
		assert.Equal(t, want.data, got)
	}
	for _, v := range want.data {
		assert.True(t, v >= -1 && v < 1)
	}
}

func TestMeasureWrapsFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(time.Microsecond, time.Microsecond)
	cause := errors.New("bad shape")
	h.fail[0] = cause
	h.panics[1] = true
	set := h.set(nil)
	b := Benchmarker{Now: h.clock.Now}

	_, err := Measure(context.Background(), b, newFakeDevice("dev0"), set, vecKey(4), 0)
	var be *BenchmarkError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "canda", be.Candidate)
	assert.ErrorIs(t, err, cause)

	_, err = Measure(context.Background(), b, newFakeDevice("dev0"), set, vecKey(4), 1)
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 1, be.Index)
	assert.Contains(t, err.Error(), "candidate exploded")
}

func TestBenchmarkerDefaults(t *testing.T) {
	t.Parallel()

	b := Benchmarker{Warmup: -3}.withDefaults()
	assert.Equal(t, DefaultWarmup, b.Warmup)
	assert.Equal(t, DefaultSamples, b.Samples)
	assert.NotNil(t, b.Now)
}

func TestCachePutIsIdempotent(t *testing.T) {
	t.Parallel()

	c := NewCache()
	e := Entry{Family: FamilyMatmul, Key: vecKey(3), Index: 1, Name: "b", Durations: []time.Duration{2, 1}}
	c.Put(e)
	c.Put(e)
	assert.Equal(t, 1, c.Len())

	got, ok := c.Get(FamilyMatmul, vecKey(3))
	require.True(t, ok)
	assert.Equal(t, e, got)

	// Stored entries are detached from the caller's slices.
	e.Durations[0] = 99
	got, _ = c.Get(FamilyMatmul, vecKey(3))
	assert.Equal(t, time.Duration(2), got.Durations[0])

	_, ok = c.Get(FamilyConvTranspose2d, vecKey(3))
	assert.False(t, ok)
}

func TestCacheReadsAreCopies(t *testing.T) {
	t.Parallel()

	c := NewCache()
	c.Put(Entry{Family: FamilyMatmul, Key: vecKey(3), Index: 1, Name: "b", Durations: []time.Duration{2, 1}})

	got, ok := c.Get(FamilyMatmul, vecKey(3))
	require.True(t, ok)
	got.Durations[0] = 99
	c.Entries()[0].Durations[1] = 99

	again, _ := c.Get(FamilyMatmul, vecKey(3))
	assert.Equal(t, []time.Duration{2, 1}, again.Durations)
}

func TestCacheEntriesSorted(t *testing.T) {
	t.Parallel()

	c := NewCache()
	for _, n := range []int{5, 1, 3} {
		c.Put(Entry{Family: FamilyMatmul, Key: vecKey(n)})
	}
	var got []int
	for _, e := range c.Entries() {
		got = append(got, e.Key.(MatmulKey).M)
	}
	assert.Equal(t, []int{1, 3, 5}, got)
}

func TestChecksum(t *testing.T) {
	t.Parallel()

	a := Checksum([]string{"device=cpu", "cpus=8"})
	assert.Len(t, a, 64)
	assert.Equal(t, a, Checksum([]string{"device=cpu", "cpus=8"}))
	assert.NotEqual(t, a, Checksum([]string{"device=cpu", "cpus=16"}))
	assert.NotEqual(t, Checksum([]string{"ab", "c"}), Checksum([]string{"a", "bc"}))
}
