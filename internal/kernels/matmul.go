package kernels

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/samcharles93/kerneltune/internal/autotune"
	"github.com/samcharles93/kerneltune/internal/tensor"
)

const (
	MatmulNaive = 0

	// naiveMaxWork bounds M*K*N for the triple loop.
	naiveMaxWork = 1 << 27

	// parallelMinRows is the smallest row chunk worth handing to a worker.
	parallelMinRows = 8
)

// matmulTiles are the blocked candidates, built once so the candidate order
// is fixed for the life of the binary.
var matmulTiles = tensor.GemmConfigCandidates(tensor.DefaultGemmConfig())

// MatmulParallel is the index of the multi-worker candidate.
var MatmulParallel = 1 + len(matmulTiles)

// MatmulInput holds A [M, K] and B [K, N].
type MatmulInput struct {
	A *tensor.Tensor
	B *tensor.Tensor
}

func MatmulKeyOf(in MatmulInput) (autotune.MatmulKey, error) {
	if in.A == nil || in.B == nil || in.A.Rank() != 2 || in.B.Rank() != 2 {
		return autotune.MatmulKey{}, fmt.Errorf("%w: matmul needs two matrices", tensor.ErrShapeMismatch)
	}
	if in.A.Shape[1] != in.B.Shape[0] {
		return autotune.MatmulKey{}, fmt.Errorf("%w: %v x %v", tensor.ErrShapeMismatch, in.A.Shape, in.B.Shape)
	}
	if in.A.DType != in.B.DType {
		return autotune.MatmulKey{}, fmt.Errorf("%w: dtypes %s and %s", tensor.ErrShapeMismatch, in.A.DType, in.B.DType)
	}
	key := autotune.MatmulKey{M: in.A.Shape[0], K: in.A.Shape[1], N: in.B.Shape[1], DType: in.A.DType}
	return key, key.Validate()
}

func SynthesizeMatmul(key autotune.MatmulKey, rng *rand.Rand) (MatmulInput, error) {
	a, err := tensor.RandomUniform(rng, key.DType, -1, 1, key.M, key.K)
	if err != nil {
		return MatmulInput{}, err
	}
	b, err := tensor.RandomUniform(rng, key.DType, -1, 1, key.K, key.N)
	if err != nil {
		return MatmulInput{}, err
	}
	return MatmulInput{A: a, B: b}, nil
}

// MatmulSet returns the matmul candidates: the naive loop, one blocked GEMM
// per tile configuration, then the parallel GEMM.
func MatmulSet() *autotune.Set[MatmulInput, *tensor.Tensor] {
	cands := []autotune.Candidate[MatmulInput, *tensor.Tensor]{{
		Name: "naive",
		Run: func(_ context.Context, in MatmulInput) (*tensor.Tensor, error) {
			return runMatmul(in, func(c, a, b *tensor.Mat) { tensor.GemmNaive(c, a, b) })
		},
	}}
	for _, cfg := range matmulTiles {
		cands = append(cands, autotune.Candidate[MatmulInput, *tensor.Tensor]{
			Name: "blocked_" + cfg.String(),
			Run: func(_ context.Context, in MatmulInput) (*tensor.Tensor, error) {
				return runMatmul(in, func(c, a, b *tensor.Mat) { tensor.Gemm(cfg, c, a, b, 1, 0) })
			},
		})
	}
	cands = append(cands, autotune.Candidate[MatmulInput, *tensor.Tensor]{
		Name: "parallel",
		Run: func(_ context.Context, in MatmulInput) (*tensor.Tensor, error) {
			return runMatmul(in, func(c, a, b *tensor.Mat) {
				tensor.GemmPar(tensor.SelectGemmConfig(a.R, a.C, b.C), c, a, b, 1, 0, 0)
			})
		},
	})

	return &autotune.Set[MatmulInput, *tensor.Tensor]{
		Family:     autotune.FamilyMatmul,
		Candidates: cands,
		KeyFunc: func(in MatmulInput) (autotune.Key, error) {
			return MatmulKeyOf(in)
		},
		Eligible: func(key autotune.Key, index int) bool {
			k, ok := key.(autotune.MatmulKey)
			if !ok {
				return false
			}
			switch index {
			case MatmulNaive:
				return naiveFits(k)
			case MatmulParallel:
				return tensor.GemmWorkers() > 1 && k.M >= 2*parallelMinRows
			default:
				return true
			}
		},
		Synthesize: func(key autotune.Key, rng *rand.Rand) (MatmulInput, error) {
			k, ok := key.(autotune.MatmulKey)
			if !ok {
				return MatmulInput{}, fmt.Errorf("%w: %T", autotune.ErrInvalidKey, key)
			}
			return SynthesizeMatmul(k, rng)
		},
	}
}

func runMatmul(in MatmulInput, gemm func(c, a, b *tensor.Mat)) (*tensor.Tensor, error) {
	key, err := MatmulKeyOf(in)
	if err != nil {
		return nil, err
	}
	out, err := tensor.New(key.DType, key.M, key.N)
	if err != nil {
		return nil, err
	}
	a, _ := in.A.Matrix()
	b, _ := in.B.Matrix()
	c, _ := out.Matrix()
	gemm(&c, &a, &b)
	roundTo(out)
	return out, nil
}

// naiveFits reports whether m*k*n is at most naiveMaxWork without forming
// the product, which can overflow for large dims.
func naiveFits(k autotune.MatmulKey) bool {
	if k.M <= 0 || k.K <= 0 || k.N <= 0 {
		return false
	}
	return k.M <= naiveMaxWork/k.K/k.N
}
