package autotune

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func input(n int) vec {
	v := vec{data: make([]float32, n)}
	for i := range v.data {
		v.data[i] = float32(i + 1)
	}
	return v
}

func TestExecutePicksFastestAndDelegates(t *testing.T) {
	t.Parallel()

	h := newHarness(30*time.Microsecond, 10*time.Microsecond, 20*time.Microsecond)
	tuner, err := NewTuner(NewState(h.options()), h.set(nil))
	require.NoError(t, err)
	dev := newFakeDevice("dev0")

	in := input(4)
	got, err := tuner.Execute(context.Background(), dev, in)
	require.NoError(t, err)

	// Candidate 1 is fastest and returns sum*2.
	assert.Equal(t, sum(in)*2, got)
	e, ok := tuner.Lookup("dev0", vecKey(4))
	require.True(t, ok)
	assert.Equal(t, 1, e.Index)
	assert.Equal(t, "candb", e.Name)
	assert.Equal(t, []time.Duration{30 * time.Microsecond, 10 * time.Microsecond, 20 * time.Microsecond}, e.Durations)
	assert.Equal(t, StatusCached, tuner.Status("dev0", vecKey(4)))
}

func TestExecuteIsDeterministic(t *testing.T) {
	t.Parallel()

	decide := func() int {
		h := newHarness(5*time.Microsecond, 7*time.Microsecond, 3*time.Microsecond)
		tuner, err := NewTuner(NewState(h.options()), h.set(nil))
		require.NoError(t, err)
		e, err := tuner.Tune(context.Background(), newFakeDevice("dev0"), vecKey(8))
		require.NoError(t, err)
		return e.Index
	}
	first := decide()
	for range 5 {
		assert.Equal(t, first, decide())
	}
	assert.Equal(t, 2, first)
}

func TestTieGoesToLowestIndex(t *testing.T) {
	t.Parallel()

	h := newHarness(9*time.Microsecond, 4*time.Microsecond, 4*time.Microsecond)
	tuner, err := NewTuner(NewState(h.options()), h.set(nil))
	require.NoError(t, err)
	e, err := tuner.Tune(context.Background(), newFakeDevice("dev0"), vecKey(2))
	require.NoError(t, err)
	assert.Equal(t, 1, e.Index)
}

func TestIneligibleCandidateIsNeverRunOrChosen(t *testing.T) {
	t.Parallel()

	h := newHarness(10*time.Microsecond, time.Microsecond)
	eligible := func(key Key, index int) bool {
		return index != 1 || key.(MatmulKey).M < 100
	}
	tuner, err := NewTuner(NewState(h.options()), h.set(eligible))
	require.NoError(t, err)
	dev := newFakeDevice("dev0")

	_, err = tuner.Execute(context.Background(), dev, input(200))
	require.NoError(t, err)
	assert.Zero(t, h.runs[1].Load(), "ineligible candidate must not run")

	e, ok := tuner.Lookup("dev0", vecKey(200))
	require.True(t, ok)
	assert.Equal(t, 0, e.Index)
	assert.Zero(t, e.Durations[1])

	// Small inputs may use it.
	e, err = tuner.Tune(context.Background(), dev, vecKey(10))
	require.NoError(t, err)
	assert.Equal(t, 1, e.Index)
}

func TestCachedKeySkipsBenchmarking(t *testing.T) {
	t.Parallel()

	h := newHarness(2*time.Microsecond, time.Microsecond)
	tuner, err := NewTuner(NewState(h.options()), h.set(nil))
	require.NoError(t, err)
	dev := newFakeDevice("dev0")

	_, err = tuner.Execute(context.Background(), dev, input(3))
	require.NoError(t, err)
	synth := h.synthCalls.Load()
	runsA, runsB := h.runs[0].Load(), h.runs[1].Load()

	// Same shape, different values.
	other := vec{data: []float32{-1, 0.5, 7}}
	got, err := tuner.Execute(context.Background(), dev, other)
	require.NoError(t, err)
	assert.Equal(t, sum(other)*2, got)
	assert.Equal(t, synth, h.synthCalls.Load(), "no benchmark inputs built on a cache hit")
	assert.Equal(t, runsA, h.runs[0].Load())
	assert.Equal(t, runsB+1, h.runs[1].Load(), "only the real run of the cached candidate")
}

func TestSynthesizedInputsDoNotTouchCallerData(t *testing.T) {
	t.Parallel()

	h := newHarness(time.Microsecond)
	s := h.set(nil)
	run := s.Candidates[0].Run
	s.Candidates[0].Run = func(ctx context.Context, in vec) (float32, error) {
		out, err := run(ctx, in)
		for i := range in.data {
			in.data[i] = 0
		}
		return out, err
	}
	tuner, err := NewTuner(NewState(h.options()), s)
	require.NoError(t, err)

	in := input(3)
	_, err = tuner.Tune(context.Background(), newFakeDevice("dev0"), vecKey(3))
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, in.data)
}

func TestConcurrentCallersTuneOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(3*time.Microsecond, 2*time.Microsecond)
	release := make(chan struct{})
	h.gate[0] = release
	tuner, err := NewTuner(NewState(h.options()), h.set(nil))
	require.NoError(t, err)
	dev := newFakeDevice("dev0")

	const callers = 16
	var wg sync.WaitGroup
	results := make([]float32, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = tuner.Execute(context.Background(), dev, input(5))
		}()
	}

	require.Eventually(t, func() bool {
		return tuner.Status("dev0", vecKey(5)) == StatusTuning
	}, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, sum(input(5))*2, results[i])
	}
	// One synthetic input per eligible candidate, in exactly one cycle.
	assert.Equal(t, int64(2), h.synthCalls.Load())
	// Warmup + samples for each candidate, plus the real runs of candidate 1.
	assert.Equal(t, int64(4), h.runs[0].Load())
	assert.Equal(t, int64(4+callers), h.runs[1].Load())
}

func TestDifferentKeysDoNotWaitOnEachOther(t *testing.T) {
	t.Parallel()

	h := newHarness(time.Microsecond)
	blocked := make(chan struct{})
	s := h.set(nil)
	run := s.Candidates[0].Run
	s.Candidates[0].Run = func(ctx context.Context, in vec) (float32, error) {
		if len(in.data) == 64 {
			<-blocked
		}
		return run(ctx, in)
	}
	tuner, err := NewTuner(NewState(h.options()), s)
	require.NoError(t, err)
	dev := newFakeDevice("dev0")

	done := make(chan error, 1)
	go func() {
		_, err := tuner.Tune(context.Background(), dev, vecKey(64))
		done <- err
	}()
	require.Eventually(t, func() bool {
		return tuner.Status("dev0", vecKey(64)) == StatusTuning
	}, time.Second, time.Millisecond)

	_, err = tuner.Tune(context.Background(), dev, vecKey(8))
	require.NoError(t, err)
	assert.Equal(t, StatusTuning, tuner.Status("dev0", vecKey(64)))

	close(blocked)
	require.NoError(t, <-done)
	assert.Equal(t, StatusCached, tuner.Status("dev0", vecKey(64)))
}

func TestAbandonedCallerLeavesTuningToFinish(t *testing.T) {
	t.Parallel()

	h := newHarness(time.Microsecond)
	release := make(chan struct{})
	h.gate[0] = release
	tuner, err := NewTuner(NewState(h.options()), h.set(nil))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := tuner.Tune(ctx, newFakeDevice("dev0"), vecKey(6))
		done <- err
	}()
	require.Eventually(t, func() bool {
		return tuner.Status("dev0", vecKey(6)) == StatusTuning
	}, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	close(release)
	require.Eventually(t, func() bool {
		return tuner.Status("dev0", vecKey(6)) == StatusCached
	}, time.Second, time.Millisecond)
}

func TestFailingCandidateIsExcluded(t *testing.T) {
	t.Parallel()

	h := newHarness(5*time.Microsecond, time.Microsecond, 3*time.Microsecond)
	h.fail[1] = errors.New("unsupported layout")
	tuner, err := NewTuner(NewState(h.options()), h.set(nil))
	require.NoError(t, err)

	e, err := tuner.Tune(context.Background(), newFakeDevice("dev0"), vecKey(4))
	require.NoError(t, err)
	assert.Equal(t, 2, e.Index)
	assert.Zero(t, e.Durations[1])
}

func TestPanickingCandidateIsExcluded(t *testing.T) {
	t.Parallel()

	h := newHarness(time.Microsecond, 5*time.Microsecond)
	h.panics[0] = true
	tuner, err := NewTuner(NewState(h.options()), h.set(nil))
	require.NoError(t, err)

	e, err := tuner.Tune(context.Background(), newFakeDevice("dev0"), vecKey(4))
	require.NoError(t, err)
	assert.Equal(t, 1, e.Index)
}

func TestNoViableCandidate(t *testing.T) {
	t.Parallel()

	h := newHarness(time.Microsecond, time.Microsecond)
	h.fail[0] = errors.New("out of memory")
	h.panics[1] = true
	store := newMemStore()
	opts := h.options()
	opts.Store = store
	tuner, err := NewTuner(NewState(opts), h.set(nil))
	require.NoError(t, err)

	_, err = tuner.Execute(context.Background(), newFakeDevice("dev0"), input(4))
	require.ErrorIs(t, err, ErrNoViableCandidate)

	var nv *NoViableCandidateError
	require.ErrorAs(t, err, &nv)
	assert.Len(t, nv.Failures, 2)
	var be *BenchmarkError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 0, be.Index)

	assert.Equal(t, StatusUncached, tuner.Status("dev0", vecKey(4)))
	assert.Zero(t, store.saves.Load(), "nothing is cached or persisted")
}

func TestNoEligibleCandidate(t *testing.T) {
	t.Parallel()

	h := newHarness(time.Microsecond)
	tuner, err := NewTuner(NewState(h.options()), h.set(func(Key, int) bool { return false }))
	require.NoError(t, err)

	_, err = tuner.Tune(context.Background(), newFakeDevice("dev0"), vecKey(4))
	require.ErrorIs(t, err, ErrNoViableCandidate)
	assert.Zero(t, h.runs[0].Load())
}

func TestPersistedDecisionIsReused(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	h1 := newHarness(4*time.Microsecond, time.Microsecond)
	opts := h1.options()
	opts.Store = store
	tuner1, err := NewTuner(NewState(opts), h1.set(nil))
	require.NoError(t, err)
	_, err = tuner1.Tune(context.Background(), newFakeDevice("dev0", "cpu=a"), vecKey(9))
	require.NoError(t, err)
	require.Equal(t, int64(1), store.saves.Load())

	// A new process on the same hardware.
	h2 := newHarness(4*time.Microsecond, time.Microsecond)
	opts2 := h2.options()
	opts2.Store = store
	tuner2, err := NewTuner(NewState(opts2), h2.set(nil))
	require.NoError(t, err)
	e, err := tuner2.Tune(context.Background(), newFakeDevice("dev0", "cpu=a"), vecKey(9))
	require.NoError(t, err)
	assert.Equal(t, 1, e.Index)
	assert.Zero(t, h2.synthCalls.Load(), "persisted decision must not be re-benchmarked")
}

func TestOpenLoadsPersistedDecisions(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	h1 := newHarness(4*time.Microsecond, time.Microsecond)
	opts := h1.options()
	opts.Store = store
	tuner1, err := NewTuner(NewState(opts), h1.set(nil))
	require.NoError(t, err)
	_, err = tuner1.Tune(context.Background(), newFakeDevice("dev0", "cpu=a"), vecKey(9))
	require.NoError(t, err)

	h2 := newHarness(4*time.Microsecond, time.Microsecond)
	opts2 := h2.options()
	opts2.Store = store
	state2 := NewState(opts2)
	tuner2, err := NewTuner(state2, h2.set(nil))
	require.NoError(t, err)
	assert.Equal(t, StatusUncached, tuner2.Status("dev0", vecKey(9)), "device not opened yet")

	state2.Open(newFakeDevice("dev0", "cpu=a"))
	assert.Equal(t, StatusCached, tuner2.Status("dev0", vecKey(9)))
	e, ok := tuner2.Lookup("dev0", vecKey(9))
	require.True(t, ok)
	assert.Equal(t, 1, e.Index)
	assert.Zero(t, h2.synthCalls.Load())
}

func TestChecksumMismatchDiscardsStore(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	h1 := newHarness(4*time.Microsecond, time.Microsecond)
	opts := h1.options()
	opts.Store = store
	tuner1, err := NewTuner(NewState(opts), h1.set(nil))
	require.NoError(t, err)
	_, err = tuner1.Tune(context.Background(), newFakeDevice("dev0", "cpu=a"), vecKey(9))
	require.NoError(t, err)
	_, err = tuner1.Tune(context.Background(), newFakeDevice("dev0", "cpu=a"), vecKey(10))
	require.NoError(t, err)

	// Same device ID, different hardware: every key is tuned again.
	h2 := newHarness(time.Microsecond, 4*time.Microsecond)
	opts2 := h2.options()
	opts2.Store = store
	tuner2, err := NewTuner(NewState(opts2), h2.set(nil))
	require.NoError(t, err)
	dev := newFakeDevice("dev0", "cpu=b")
	e, err := tuner2.Tune(context.Background(), dev, vecKey(9))
	require.NoError(t, err)
	assert.Equal(t, 0, e.Index)
	assert.Equal(t, int64(2), h2.synthCalls.Load())

	_, ok := tuner2.Lookup("dev0", vecKey(10))
	assert.False(t, ok, "entries from other hardware must not survive")
	assert.Equal(t, int64(2), store.loads.Load(), "store is consulted once per device per process")
}

func TestRetuneIgnoresPersistedDecisions(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	h1 := newHarness(4*time.Microsecond, time.Microsecond)
	opts := h1.options()
	opts.Store = store
	tuner1, err := NewTuner(NewState(opts), h1.set(nil))
	require.NoError(t, err)
	_, err = tuner1.Tune(context.Background(), newFakeDevice("dev0"), vecKey(9))
	require.NoError(t, err)

	h2 := newHarness(time.Microsecond, 4*time.Microsecond)
	opts2 := h2.options()
	opts2.Store = store
	opts2.Retune = true
	tuner2, err := NewTuner(NewState(opts2), h2.set(nil))
	require.NoError(t, err)
	e, err := tuner2.Tune(context.Background(), newFakeDevice("dev0"), vecKey(9))
	require.NoError(t, err)
	assert.Equal(t, 0, e.Index)
	assert.Equal(t, int64(1), store.loads.Load(), "retune must not load the store")

	saved := store.entries["dev0"]
	require.Len(t, saved, 1)
	assert.Equal(t, 0, saved[0].Index)
}

func TestStaleEntryIsRetuned(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	dev := newFakeDevice("dev0")
	require.NoError(t, store.Save("dev0", Checksum(dev.Identity()), []Entry{
		{Family: FamilyMatmul, Key: vecKey(9), Index: 1, Name: "renamed"},
	}))

	h := newHarness(time.Microsecond, 4*time.Microsecond)
	opts := h.options()
	opts.Store = store
	tuner, err := NewTuner(NewState(opts), h.set(nil))
	require.NoError(t, err)
	e, err := tuner.Tune(context.Background(), dev, vecKey(9))
	require.NoError(t, err)
	assert.Equal(t, 0, e.Index)
	assert.Equal(t, "canda", e.Name)
}

func TestPersistenceFailureDegradesToMemory(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.saveErr = errors.New("read-only file system")
	h := newHarness(2*time.Microsecond, time.Microsecond)
	opts := h.options()
	opts.Store = store
	state := NewState(opts)
	tuner, err := NewTuner(state, h.set(nil))
	require.NoError(t, err)
	dev := newFakeDevice("dev0")

	got, err := tuner.Execute(context.Background(), dev, input(3))
	require.NoError(t, err)
	assert.Equal(t, sum(input(3))*2, got)
	assert.True(t, state.MemoryOnly("dev0"))

	_, err = tuner.Tune(context.Background(), dev, vecKey(4))
	require.NoError(t, err)
	assert.Equal(t, int64(1), store.saves.Load(), "no further saves once memory-only")
	assert.Equal(t, StatusCached, tuner.Status("dev0", vecKey(4)))
}

func TestPartitionsAreIsolatedPerDevice(t *testing.T) {
	t.Parallel()

	h := newHarness(2*time.Microsecond, time.Microsecond)
	state := NewState(h.options())
	tuner, err := NewTuner(state, h.set(nil))
	require.NoError(t, err)

	_, err = tuner.Tune(context.Background(), newFakeDevice("dev0"), vecKey(3))
	require.NoError(t, err)
	assert.Equal(t, StatusUncached, tuner.Status("dev1", vecKey(3)))
	_, ok := tuner.Lookup("dev1", vecKey(3))
	assert.False(t, ok)

	_, err = tuner.Tune(context.Background(), newFakeDevice("dev1"), vecKey(3))
	require.NoError(t, err)
	assert.Equal(t, []string{"dev0", "dev1"}, state.Devices())
}

func TestTuneRejectsForeignKeys(t *testing.T) {
	t.Parallel()

	h := newHarness(time.Microsecond)
	tuner, err := NewTuner(NewState(h.options()), h.set(nil))
	require.NoError(t, err)

	_, err = tuner.Tune(context.Background(), newFakeDevice("dev0"), ConvTranspose2dKey{})
	require.ErrorIs(t, err, ErrInvalidKey)
	_, err = tuner.Tune(context.Background(), newFakeDevice("dev0"), vecKey(0))
	require.ErrorIs(t, err, ErrInvalidKey)
	_, err = tuner.Execute(context.Background(), newFakeDevice("dev0"), vec{})
	require.Error(t, err)
}

func TestNewTunerValidatesSet(t *testing.T) {
	t.Parallel()

	h := newHarness(time.Microsecond, time.Microsecond)
	s := h.set(nil)
	s.Candidates[1].Name = s.Candidates[0].Name
	_, err := NewTuner(NewState(Options{}), s)
	require.ErrorIs(t, err, ErrInvalidSet)

	_, err = NewTuner(NewState(Options{}), &Set[vec, float32]{Family: FamilyMatmul})
	require.ErrorIs(t, err, ErrInvalidSet)
}
