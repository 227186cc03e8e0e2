package autotune

import (
	"errors"
	"fmt"
)

var (
	// ErrNoViableCandidate reports that no candidate was eligible, or that
	// every eligible candidate failed its benchmark.
	ErrNoViableCandidate = errors.New("no viable candidate")

	// ErrChecksumMismatch is returned by a Store whose persisted decisions
	// were made under a different checksum.
	ErrChecksumMismatch = errors.New("tuning cache checksum mismatch")

	ErrInvalidKey = errors.New("invalid autotune key")
	ErrInvalidSet = errors.New("invalid candidate set")
)

// BenchmarkError is a candidate failure during a tuning cycle. It excludes
// the candidate from that cycle only.
type BenchmarkError struct {
	Candidate string
	Index     int
	Err       error
}

func (e *BenchmarkError) Error() string {
	return fmt.Sprintf("candidate %d (%s) failed: %v", e.Index, e.Candidate, e.Err)
}

func (e *BenchmarkError) Unwrap() error {
	return e.Err
}

// NoViableCandidateError is the only tuning error Execute propagates.
// Nothing is cached when it is returned.
type NoViableCandidateError struct {
	Family   Family
	Key      Key
	Failures []*BenchmarkError
}

func (e *NoViableCandidateError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("autotune %s %s: no eligible candidate", e.Family, e.Key)
	}
	return fmt.Sprintf("autotune %s %s: all %d eligible candidates failed: %v",
		e.Family, e.Key, len(e.Failures), errors.Join(e.failureErrors()...))
}

func (e *NoViableCandidateError) Unwrap() []error {
	return append([]error{ErrNoViableCandidate}, e.failureErrors()...)
}

func (e *NoViableCandidateError) failureErrors() []error {
	out := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f
	}
	return out
}
