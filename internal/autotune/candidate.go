package autotune

import (
	"context"
	"fmt"
	"math/rand"
)

// Candidate is one implementation of an operation. Run must not branch on
// input values: benchmarks use synthetic data, so a data-dependent fast path
// would make the decision unsound for real inputs.
type Candidate[In, Out any] struct {
	Name string
	Run  func(ctx context.Context, in In) (Out, error)
}

// EligibilityFunc reports whether the candidate at index can handle the
// problem described by key. It must be cheap and conservative.
type EligibilityFunc func(key Key, index int) bool

// AllEligible accepts every candidate for every key.
func AllEligible(Key, int) bool { return true }

// Set is the fixed, ordered list of candidates for one family. The position
// of a candidate is what the cache persists, so reordering a registered set
// invalidates stored decisions.
type Set[In, Out any] struct {
	Family     Family
	Candidates []Candidate[In, Out]

	// KeyFunc builds the key from an input. It looks at shapes and options
	// only, never at values.
	KeyFunc func(in In) (Key, error)

	// Eligible filters candidates before benchmarking. Nil means all.
	Eligible EligibilityFunc

	// Synthesize builds a representative input for key, drawing values
	// from rng.
	Synthesize func(key Key, rng *rand.Rand) (In, error)
}

func (s *Set[In, Out]) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil set", ErrInvalidSet)
	}
	if !s.Family.Valid() {
		return fmt.Errorf("%w: unknown family %v", ErrInvalidSet, s.Family)
	}
	if len(s.Candidates) == 0 {
		return fmt.Errorf("%w: %s has no candidates", ErrInvalidSet, s.Family)
	}
	if s.KeyFunc == nil || s.Synthesize == nil {
		return fmt.Errorf("%w: %s is missing KeyFunc or Synthesize", ErrInvalidSet, s.Family)
	}
	seen := make(map[string]struct{}, len(s.Candidates))
	for i, c := range s.Candidates {
		if c.Name == "" || c.Run == nil {
			return fmt.Errorf("%w: %s candidate %d is incomplete", ErrInvalidSet, s.Family, i)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("%w: %s candidate name %q repeated", ErrInvalidSet, s.Family, c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

// Names returns the candidate names in index order.
func (s *Set[In, Out]) Names() []string {
	out := make([]string, len(s.Candidates))
	for i, c := range s.Candidates {
		out[i] = c.Name
	}
	return out
}

func (s *Set[In, Out]) eligible(key Key, index int) bool {
	if s.Eligible == nil {
		return true
	}
	return s.Eligible(key, index)
}
