package kernels

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/samcharles93/kerneltune/internal/autotune"
	"github.com/samcharles93/kerneltune/internal/tensor"
)

// Candidate positions in the conv-transpose-2d set. They are persisted.
const (
	ConvTranspose2dDirect = iota
	ConvTranspose2dCol2Im
)

var errCol2ImBatching = errors.New("col2im: no batching fits the column budget")

// ConvTranspose2dOptions are the non-shape parameters of a transposed
// convolution. Pairs are (height, width).
type ConvTranspose2dOptions struct {
	Stride     [2]int
	Padding    [2]int
	PaddingOut [2]int
	Dilation   [2]int
	Groups     int
}

func DefaultConvTranspose2dOptions() ConvTranspose2dOptions {
	return ConvTranspose2dOptions{
		Stride:   [2]int{1, 1},
		Dilation: [2]int{1, 1},
		Groups:   1,
	}
}

// ConvTranspose2dInput holds the operands. Input is [N, Cin, H, W], Weight
// is [Cin, Cout/groups, kh, kw] and Bias, if set, is [Cout].
type ConvTranspose2dInput struct {
	Input   *tensor.Tensor
	Weight  *tensor.Tensor
	Bias    *tensor.Tensor
	Options ConvTranspose2dOptions
}

// ConvTranspose2dKeyOf builds the tuning key from operand shapes.
func ConvTranspose2dKeyOf(in ConvTranspose2dInput) (autotune.ConvTranspose2dKey, error) {
	if in.Input == nil || in.Weight == nil {
		return autotune.ConvTranspose2dKey{}, fmt.Errorf("%w: missing input or weight", tensor.ErrShapeMismatch)
	}
	n, cin, h, w, err := in.Input.Dims4()
	if err != nil {
		return autotune.ConvTranspose2dKey{}, fmt.Errorf("input: %w", err)
	}
	wcin, coutG, kh, kw, err := in.Weight.Dims4()
	if err != nil {
		return autotune.ConvTranspose2dKey{}, fmt.Errorf("weight: %w", err)
	}
	if wcin != cin {
		return autotune.ConvTranspose2dKey{}, fmt.Errorf("%w: weight has %d input channels, input has %d", tensor.ErrShapeMismatch, wcin, cin)
	}
	if in.Weight.DType != in.Input.DType {
		return autotune.ConvTranspose2dKey{}, fmt.Errorf("%w: weight dtype %s, input dtype %s", tensor.ErrShapeMismatch, in.Weight.DType, in.Input.DType)
	}
	opts := in.Options
	cout := coutG * opts.Groups
	if in.Bias != nil && (in.Bias.Rank() != 1 || in.Bias.Shape[0] != cout) {
		return autotune.ConvTranspose2dKey{}, fmt.Errorf("%w: bias shape %v, want [%d]", tensor.ErrShapeMismatch, in.Bias.Shape, cout)
	}
	key := autotune.ConvTranspose2dKey{
		KernelSize:  [2]int{kh, kw},
		Stride:      opts.Stride,
		Padding:     opts.Padding,
		PaddingOut:  opts.PaddingOut,
		Dilation:    opts.Dilation,
		Groups:      opts.Groups,
		InChannels:  cin,
		OutChannels: cout,
		Height:      h,
		Width:       w,
		BatchSize:   n,
		HasBias:     in.Bias != nil,
		DType:       in.Input.DType,
	}
	if err := key.Validate(); err != nil {
		return autotune.ConvTranspose2dKey{}, err
	}
	return key, nil
}

// SynthesizeConvTranspose2d builds operands for key with values uniform on
// [-1, 1].
func SynthesizeConvTranspose2d(key autotune.ConvTranspose2dKey, rng *rand.Rand) (ConvTranspose2dInput, error) {
	if err := key.Validate(); err != nil {
		return ConvTranspose2dInput{}, err
	}
	in := ConvTranspose2dInput{
		Options: ConvTranspose2dOptions{
			Stride:     key.Stride,
			Padding:    key.Padding,
			PaddingOut: key.PaddingOut,
			Dilation:   key.Dilation,
			Groups:     key.Groups,
		},
	}
	var err error
	if in.Input, err = tensor.RandomUniform(rng, key.DType, -1, 1, key.BatchSize, key.InChannels, key.Height, key.Width); err != nil {
		return ConvTranspose2dInput{}, err
	}
	if in.Weight, err = tensor.RandomUniform(rng, key.DType, -1, 1,
		key.InChannels, key.OutChannels/key.Groups, key.KernelSize[0], key.KernelSize[1]); err != nil {
		return ConvTranspose2dInput{}, err
	}
	if key.HasBias {
		if in.Bias, err = tensor.RandomUniform(rng, key.DType, -1, 1, key.OutChannels); err != nil {
			return ConvTranspose2dInput{}, err
		}
	}
	return in, nil
}

// ConvTranspose2dSet returns the conv-transpose-2d candidates in their
// persisted order. policy decides when col2im can run; nil uses
// DefaultCol2ImColumns.
func ConvTranspose2dSet(policy BatchingPolicy) *autotune.Set[ConvTranspose2dInput, *tensor.Tensor] {
	if policy == nil {
		policy = DefaultCol2ImColumns
	}
	return &autotune.Set[ConvTranspose2dInput, *tensor.Tensor]{
		Family: autotune.FamilyConvTranspose2d,
		Candidates: []autotune.Candidate[ConvTranspose2dInput, *tensor.Tensor]{
			ConvTranspose2dDirect: {
				Name: "direct",
				Run: func(_ context.Context, in ConvTranspose2dInput) (*tensor.Tensor, error) {
					return ConvTranspose2dDirectRun(in)
				},
			},
			ConvTranspose2dCol2Im: {
				Name: "col2im",
				Run: func(_ context.Context, in ConvTranspose2dInput) (*tensor.Tensor, error) {
					return ConvTranspose2dCol2ImRun(in, policy)
				},
			},
		},
		KeyFunc: func(in ConvTranspose2dInput) (autotune.Key, error) {
			return ConvTranspose2dKeyOf(in)
		},
		Eligible: func(key autotune.Key, index int) bool {
			k, ok := key.(autotune.ConvTranspose2dKey)
			if !ok {
				return false
			}
			switch index {
			case ConvTranspose2dCol2Im:
				_, ok := policy.BatchesPerRun(k.BatchSize, k.Height, k.Width)
				return ok
			default:
				return true
			}
		},
		Synthesize: func(key autotune.Key, rng *rand.Rand) (ConvTranspose2dInput, error) {
			k, ok := key.(autotune.ConvTranspose2dKey)
			if !ok {
				return ConvTranspose2dInput{}, fmt.Errorf("%w: %T", autotune.ErrInvalidKey, key)
			}
			return SynthesizeConvTranspose2d(k, rng)
		},
	}
}

// convGeom caches the derived sizes of one problem.
type convGeom struct {
	key            autotune.ConvTranspose2dKey
	cinG, coutG    int
	kh, kw         int
	outH, outW     int
	hw, outHW      int
	kernelElements int
}

func newConvGeom(in ConvTranspose2dInput) (convGeom, error) {
	key, err := ConvTranspose2dKeyOf(in)
	if err != nil {
		return convGeom{}, err
	}
	oh, ow := key.OutputSize()
	g := convGeom{
		key:   key,
		cinG:  key.InChannels / key.Groups,
		coutG: key.OutChannels / key.Groups,
		kh:    key.KernelSize[0],
		kw:    key.KernelSize[1],
		outH:  oh,
		outW:  ow,
		hw:    key.Height * key.Width,
		outHW: oh * ow,
	}
	g.kernelElements = g.coutG * g.kh * g.kw
	return g, nil
}

// newOutput allocates [N, Cout, OH, OW], pre-filled with the bias.
func (g convGeom) newOutput(bias *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := tensor.New(g.key.DType, g.key.BatchSize, g.key.OutChannels, g.outH, g.outW)
	if err != nil {
		return nil, err
	}
	if bias != nil {
		for n := range g.key.BatchSize {
			for co := range g.key.OutChannels {
				plane := out.Data[(n*g.key.OutChannels+co)*g.outHW:][:g.outHW]
				for i := range plane {
					plane[i] = bias.Data[co]
				}
			}
		}
	}
	return out, nil
}

// outPos maps an input position and kernel tap to an output position.
func (g convGeom) outPos(ih, iw, kh, kw int) (int, int, bool) {
	k := g.key
	oh := ih*k.Stride[0] - k.Padding[0] + kh*k.Dilation[0]
	ow := iw*k.Stride[1] - k.Padding[1] + kw*k.Dilation[1]
	return oh, ow, oh >= 0 && oh < g.outH && ow >= 0 && ow < g.outW
}

func roundTo(t *tensor.Tensor) {
	if t.DType == tensor.F32 {
		return
	}
	for i, v := range t.Data {
		t.Data[i] = t.DType.Round(v)
	}
}

// ConvTranspose2dDirectRun scatters every input element through the kernel
// straight into the output.
func ConvTranspose2dDirectRun(in ConvTranspose2dInput) (*tensor.Tensor, error) {
	g, err := newConvGeom(in)
	if err != nil {
		return nil, err
	}
	out, err := g.newOutput(in.Bias)
	if err != nil {
		return nil, err
	}
	k := g.key
	x, w, y := in.Input.Data, in.Weight.Data, out.Data

	for n := range k.BatchSize {
		for ci := range k.InChannels {
			grp := ci / g.cinG
			xPlane := x[(n*k.InChannels+ci)*g.hw:][:g.hw]
			for ih := range k.Height {
				for iw := range k.Width {
					xv := xPlane[ih*k.Width+iw]
					for co := range g.coutG {
						yPlane := y[(n*k.OutChannels+grp*g.coutG+co)*g.outHW:][:g.outHW]
						wTap := w[(ci*g.coutG+co)*g.kh*g.kw:][:g.kh*g.kw]
						for kh := range g.kh {
							for kw := range g.kw {
								oh, ow, ok := g.outPos(ih, iw, kh, kw)
								if !ok {
									continue
								}
								yPlane[oh*g.outW+ow] += xv * wTap[kh*g.kw+kw]
							}
						}
					}
				}
			}
		}
	}
	roundTo(out)
	return out, nil
}

// ConvTranspose2dCol2ImRun computes the per-group product
// W^T[Cout/g*kh*kw, Cin/g] x X[Cin/g, batches*H*W] with the blocked GEMM,
// then folds the columns back into the output (col2im). Batches are packed
// side by side as policy allows.
func ConvTranspose2dCol2ImRun(in ConvTranspose2dInput, policy BatchingPolicy) (*tensor.Tensor, error) {
	g, err := newConvGeom(in)
	if err != nil {
		return nil, err
	}
	k := g.key
	batches, ok := policy.BatchesPerRun(k.BatchSize, k.Height, k.Width)
	if !ok {
		return nil, errCol2ImBatching
	}
	out, err := g.newOutput(in.Bias)
	if err != nil {
		return nil, err
	}

	// Per-group transposed weights, [Cout/g*kh*kw, Cin/g].
	wt := make([]tensor.Mat, k.Groups)
	for grp := range k.Groups {
		src := tensor.NewMatFromData(g.cinG, g.kernelElements,
			in.Weight.Data[grp*g.cinG*g.kernelElements:][:g.cinG*g.kernelElements])
		wt[grp] = tensor.NewMat(g.kernelElements, g.cinG)
		tensor.Transpose(&wt[grp], &src)
	}

	cols := batches * g.hw
	xm := tensor.NewMat(g.cinG, cols)
	colm := tensor.NewMat(g.kernelElements, cols)
	cfg := tensor.SelectGemmConfig(g.kernelElements, g.cinG, cols)
	x, y := in.Input.Data, out.Data

	for n0 := 0; n0 < k.BatchSize; n0 += batches {
		for grp := range k.Groups {
			for b := range batches {
				for c := range g.cinG {
					src := x[((n0+b)*k.InChannels+grp*g.cinG+c)*g.hw:][:g.hw]
					copy(xm.Data[c*cols+b*g.hw:][:g.hw], src)
				}
			}
			tensor.Gemm(cfg, &colm, &wt[grp], &xm, 1, 0)

			for co := range g.coutG {
				for kh := range g.kh {
					for kw := range g.kw {
						row := colm.Row((co*g.kh+kh)*g.kw + kw)
						for b := range batches {
							yPlane := y[((n0+b)*k.OutChannels+grp*g.coutG+co)*g.outHW:][:g.outHW]
							src := row[b*g.hw:][:g.hw]
							for ih := range k.Height {
								for iw := range k.Width {
									oh, ow, ok := g.outPos(ih, iw, kh, kw)
									if !ok {
										continue
									}
									yPlane[oh*g.outW+ow] += src[ih*k.Width+iw]
								}
							}
						}
					}
				}
			}
		}
	}
	roundTo(out)
	return out, nil
}
