package autotune

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/kerneltune/internal/backend"
)

// Status is the tuning state of one key on one device.
type Status uint8

const (
	StatusUncached Status = iota
	StatusTuning
	StatusCached
)

func (s Status) String() string {
	switch s {
	case StatusUncached:
		return "uncached"
	case StatusTuning:
		return "tuning"
	case StatusCached:
		return "cached"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Tuner dispatches one family's operation to its fastest candidate.
type Tuner[In, Out any] struct {
	state *State
	set   *Set[In, Out]
}

func NewTuner[In, Out any](state *State, set *Set[In, Out]) (*Tuner[In, Out], error) {
	if state == nil {
		return nil, errors.New("autotune: nil state")
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return &Tuner[In, Out]{state: state, set: set}, nil
}

func (t *Tuner[In, Out]) Set() *Set[In, Out] {
	return t.set
}

// Execute runs in with the candidate chosen for its key on dev, tuning the
// key first if no decision exists. Concurrent callers with the same key
// share one tuning cycle. The only tuning error returned is a
// *NoViableCandidateError; errors from the chosen candidate itself are
// returned as is.
func (t *Tuner[In, Out]) Execute(ctx context.Context, dev backend.Device, in In) (Out, error) {
	var zero Out
	key, err := t.set.KeyFunc(in)
	if err != nil {
		return zero, fmt.Errorf("autotune %s: build key: %w", t.set.Family, err)
	}
	entry, err := t.Tune(ctx, dev, key)
	if err != nil {
		return zero, err
	}

	c := t.set.Candidates[entry.Index]
	var out Out
	err = dev.Submit(ctx, func() error {
		var err error
		out, err = c.Run(ctx, in)
		return err
	})
	if err != nil {
		return zero, fmt.Errorf("autotune %s: run %s: %w", t.set.Family, c.Name, err)
	}
	return out, nil
}

// Tune returns the decision for key on dev, running a tuning cycle if there
// is none. It does not need a real input.
//
// If ctx ends while another caller's cycle is running, Tune returns
// ctx.Err() and the cycle runs on to completion.
func (t *Tuner[In, Out]) Tune(ctx context.Context, dev backend.Device, key Key) (Entry, error) {
	if key == nil || key.Family() != t.set.Family {
		return Entry{}, fmt.Errorf("%w: %v is not a %s key", ErrInvalidKey, key, t.set.Family)
	}
	if err := key.Validate(); err != nil {
		return Entry{}, err
	}

	p := t.state.partition(dev)
	if e, ok := t.cached(p, key); ok {
		return e, nil
	}

	ch := p.group.DoChan(t.set.Family.String()+"/"+key.String(), func() (any, error) {
		if e, ok := t.cached(p, key); ok {
			return e, nil
		}
		return t.tune(context.WithoutCancel(ctx), dev, p, key)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Entry{}, res.Err
		}
		return res.Val.(Entry), nil
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	}
}

// Status reports whether key has a decision on the device with deviceID, is
// being tuned, or neither. Persisted decisions count once the device has
// been opened with State.Open or tuned on in this process.
func (t *Tuner[In, Out]) Status(deviceID string, key Key) Status {
	p, ok := t.state.lookup(deviceID)
	if !ok {
		return StatusUncached
	}
	if _, ok := t.cached(p, key); ok {
		return StatusCached
	}
	if p.tuning(cacheKey{t.set.Family, key}) {
		return StatusTuning
	}
	return StatusUncached
}

// Lookup returns the decision for key on the device with deviceID.
func (t *Tuner[In, Out]) Lookup(deviceID string, key Key) (Entry, bool) {
	p, ok := t.state.lookup(deviceID)
	if !ok {
		return Entry{}, false
	}
	return t.cached(p, key)
}

// cached returns a usable decision. A decision naming a candidate that no
// longer exists at its index, or that is no longer eligible, is ignored and
// the key is tuned again.
func (t *Tuner[In, Out]) cached(p *partition, key Key) (Entry, bool) {
	e, ok := p.cache.Get(t.set.Family, key)
	if !ok {
		return Entry{}, false
	}
	if e.Index < 0 || e.Index >= len(t.set.Candidates) {
		return Entry{}, false
	}
	if e.Name != "" && e.Name != t.set.Candidates[e.Index].Name {
		return Entry{}, false
	}
	if !t.set.eligible(key, e.Index) {
		return Entry{}, false
	}
	return e, true
}

func (t *Tuner[In, Out]) tune(ctx context.Context, dev backend.Device, p *partition, key Key) (Entry, error) {
	ck := cacheKey{t.set.Family, key}
	p.setTuning(ck, true)
	defer p.setTuning(ck, false)

	log := p.log.With("cycle", uuid.NewString(), "family", t.set.Family.String(), "key", key.String())
	start := time.Now()

	durations := make([]time.Duration, len(t.set.Candidates))
	var failures []*BenchmarkError
	best := -1
	for i, c := range t.set.Candidates {
		if !t.set.eligible(key, i) {
			log.Debug("candidate ineligible", "candidate", c.Name, "index", i)
			continue
		}
		m, err := Measure(ctx, t.state.bench, dev, t.set, key, i)
		if err != nil {
			var be *BenchmarkError
			if !errors.As(err, &be) {
				be = &BenchmarkError{Candidate: c.Name, Index: i, Err: err}
			}
			failures = append(failures, be)
			log.Warn("candidate failed", "candidate", c.Name, "index", i, "error", be.Err)
			continue
		}
		durations[i] = m.Median
		log.Debug("candidate measured", "candidate", c.Name, "index", i, "median", m.Median)
		if best < 0 || m.Median < durations[best] {
			best = i
		}
	}
	if best < 0 {
		return Entry{}, &NoViableCandidateError{Family: t.set.Family, Key: key, Failures: failures}
	}

	e := Entry{
		Family:    t.set.Family,
		Key:       key,
		Index:     best,
		Name:      t.set.Candidates[best].Name,
		Durations: durations,
		TunedAt:   time.Now().UTC(),
	}
	t.state.record(p, e)
	log.Info("tuned", "candidate", e.Name, "index", best, "median", durations[best], "elapsed", time.Since(start))
	return e, nil
}
