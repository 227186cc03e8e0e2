package kernels

import (
	"context"
	"fmt"

	"github.com/samcharles93/kerneltune/internal/autotune"
	"github.com/samcharles93/kerneltune/internal/backend"
	"github.com/samcharles93/kerneltune/internal/tensor"
)

// Registry holds one tuner per family, all sharing a State.
type Registry struct {
	State           *autotune.State
	ConvTranspose2d *autotune.Tuner[ConvTranspose2dInput, *tensor.Tensor]
	Matmul          *autotune.Tuner[MatmulInput, *tensor.Tensor]
}

func NewRegistry(state *autotune.State, policy BatchingPolicy) (*Registry, error) {
	conv, err := autotune.NewTuner(state, ConvTranspose2dSet(policy))
	if err != nil {
		return nil, err
	}
	mm, err := autotune.NewTuner(state, MatmulSet())
	if err != nil {
		return nil, err
	}
	return &Registry{State: state, ConvTranspose2d: conv, Matmul: mm}, nil
}

// Tune ensures a decision exists for key on dev.
func (r *Registry) Tune(ctx context.Context, dev backend.Device, key autotune.Key) (autotune.Entry, error) {
	switch key.(type) {
	case autotune.ConvTranspose2dKey:
		return r.ConvTranspose2d.Tune(ctx, dev, key)
	case autotune.MatmulKey:
		return r.Matmul.Tune(ctx, dev, key)
	default:
		return autotune.Entry{}, fmt.Errorf("%w: %T", autotune.ErrInvalidKey, key)
	}
}

// Status reports the tuning state of key on dev. Decisions persisted by an
// earlier process count as cached.
func (r *Registry) Status(dev backend.Device, key autotune.Key) autotune.Status {
	r.State.Open(dev)
	switch key.(type) {
	case autotune.ConvTranspose2dKey:
		return r.ConvTranspose2d.Status(dev.ID(), key)
	case autotune.MatmulKey:
		return r.Matmul.Status(dev.ID(), key)
	default:
		return autotune.StatusUncached
	}
}

// Candidates returns the candidate names of family in index order.
func (r *Registry) Candidates(f autotune.Family) []string {
	switch f {
	case autotune.FamilyConvTranspose2d:
		return r.ConvTranspose2d.Set().Names()
	case autotune.FamilyMatmul:
		return r.Matmul.Set().Names()
	default:
		return nil
	}
}

// Eligible reports whether candidate index of key's family may run for key.
func (r *Registry) Eligible(key autotune.Key, index int) bool {
	switch key.(type) {
	case autotune.ConvTranspose2dKey:
		set := r.ConvTranspose2d.Set()
		return index >= 0 && index < len(set.Candidates) && set.Eligible(key, index)
	case autotune.MatmulKey:
		set := r.Matmul.Set()
		return index >= 0 && index < len(set.Candidates) && set.Eligible(key, index)
	default:
		return false
	}
}
