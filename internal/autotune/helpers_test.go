package autotune

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samcharles93/kerneltune/internal/tensor"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeDevice runs submitted work inline on the caller goroutine.
type fakeDevice struct {
	id       string
	identity []string
	submits  atomic.Int64
}

func newFakeDevice(id string, identity ...string) *fakeDevice {
	return &fakeDevice{id: id, identity: identity}
}

func (d *fakeDevice) ID() string         { return d.id }
func (d *fakeDevice) Name() string       { return "fake " + d.id }
func (d *fakeDevice) Identity() []string { return d.identity }
func (d *fakeDevice) Close() error       { return nil }

func (d *fakeDevice) Submit(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.submits.Add(1)
	return fn()
}

// vec is the test operation input: a vector whose length is the key.
type vec struct {
	data []float32
}

func vecKey(n int) MatmulKey {
	return MatmulKey{M: n, K: 1, N: 1, DType: tensor.F32}
}

func sum(v vec) float32 {
	var s float32
	for _, x := range v.data {
		s += x
	}
	return s
}

// harness builds a set of len(costs) candidates. Candidate i advances the
// clock by costs[i] per run and returns sum(in) * (i+1).
type harness struct {
	clock      *fakeClock
	costs      []time.Duration
	runs       []atomic.Int64
	synthCalls atomic.Int64
	fail       map[int]error
	panics     map[int]bool
	gate       map[int]chan struct{}
}

func newHarness(costs ...time.Duration) *harness {
	return &harness{
		clock:  newFakeClock(),
		costs:  costs,
		runs:   make([]atomic.Int64, len(costs)),
		fail:   map[int]error{},
		panics: map[int]bool{},
		gate:   map[int]chan struct{}{},
	}
}

func (h *harness) set(eligible EligibilityFunc) *Set[vec, float32] {
	s := &Set[vec, float32]{
		Family: FamilyMatmul,
		KeyFunc: func(in vec) (Key, error) {
			if len(in.data) == 0 {
				return nil, errors.New("empty input")
			}
			return vecKey(len(in.data)), nil
		},
		Eligible: eligible,
		Synthesize: func(key Key, rng *rand.Rand) (vec, error) {
			h.synthCalls.Add(1)
			k := key.(MatmulKey)
			v := vec{data: make([]float32, k.M)}
			for i := range v.data {
				v.data[i] = rng.Float32()*2 - 1
			}
			return v, nil
		},
	}
	for i := range h.costs {
		s.Candidates = append(s.Candidates, Candidate[vec, float32]{
			Name: "cand" + string(rune('a'+i)),
			Run: func(ctx context.Context, in vec) (float32, error) {
				h.runs[i].Add(1)
				if g, ok := h.gate[i]; ok {
					<-g
				}
				if h.panics[i] {
					panic("candidate exploded")
				}
				if err := h.fail[i]; err != nil {
					return 0, err
				}
				h.clock.Advance(h.costs[i])
				return sum(in) * float32(i+1), nil
			},
		})
	}
	return s
}

func (h *harness) options() Options {
	return Options{Benchmark: Benchmarker{Warmup: 1, Samples: 3, Now: h.clock.Now}}
}

// memStore is an in-memory Store keyed by device ID.
type memStore struct {
	mu        sync.Mutex
	checksums map[string]string
	entries   map[string][]Entry
	saveErr   error
	loads     atomic.Int64
	saves     atomic.Int64
}

func newMemStore() *memStore {
	return &memStore{checksums: map[string]string{}, entries: map[string][]Entry{}}
}

func (s *memStore) Load(deviceID, checksum string) ([]Entry, error) {
	s.loads.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, ok := s.checksums[deviceID]
	if !ok {
		return nil, nil
	}
	if sum != checksum {
		return nil, ErrChecksumMismatch
	}
	return append([]Entry(nil), s.entries[deviceID]...), nil
}

func (s *memStore) Save(deviceID, checksum string, entries []Entry) error {
	s.saves.Add(1)
	if s.saveErr != nil {
		return s.saveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checksums[deviceID] = checksum
	s.entries[deviceID] = append([]Entry(nil), entries...)
	return nil
}
