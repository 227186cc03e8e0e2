package tensor

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"
)

var (
	ErrShapeMismatch = errors.New("tensor: shape mismatch")
	errInvalidDim    = errors.New("tensor: dimension must be positive")
	errTooLarge      = errors.New("tensor: too large")
)

// Tensor is a dense row-major tensor. Values are stored as float32 whatever
// the DType; see DType.Round.
type Tensor struct {
	Shape []int
	DType DType
	Data  []float32
}

// New allocates a zero tensor of the given shape.
func New(dtype DType, shape ...int) (*Tensor, error) {
	n, err := NumElements(shape)
	if err != nil {
		return nil, err
	}
	return &Tensor{
		Shape: slices.Clone(shape),
		DType: dtype,
		Data:  make([]float32, n),
	}, nil
}

// FromData wraps data without copying. len(data) must match the shape.
func FromData(dtype DType, data []float32, shape ...int) (*Tensor, error) {
	n, err := NumElements(shape)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrShapeMismatch, len(data), shape)
	}
	return &Tensor{Shape: slices.Clone(shape), DType: dtype, Data: data}, nil
}

// RandomUniform fills a new tensor with values drawn uniformly from [lo, hi)
// using rng, rounded to dtype. The same rng state yields the same tensor.
func RandomUniform(rng *rand.Rand, dtype DType, lo, hi float32, shape ...int) (*Tensor, error) {
	t, err := New(dtype, shape...)
	if err != nil {
		return nil, err
	}
	span := hi - lo
	for i := range t.Data {
		t.Data[i] = dtype.Round(lo + rng.Float32()*span)
	}
	return t, nil
}

// NumElements returns the product of shape, rejecting empty shapes,
// non-positive dims and overflow.
func NumElements(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, errInvalidDim
	}
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return 0, fmt.Errorf("%w: %v", errInvalidDim, shape)
		}
		if n > math.MaxInt/d {
			return 0, errTooLarge
		}
		n *= d
	}
	return n, nil
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.Shape) }

// Len returns the number of elements.
func (t *Tensor) Len() int { return len(t.Data) }

// Dims4 returns the four dims of a rank-4 tensor.
func (t *Tensor) Dims4() (int, int, int, int, error) {
	if len(t.Shape) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("%w: expected rank 4, got %v", ErrShapeMismatch, t.Shape)
	}
	return t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3], nil
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Shape: slices.Clone(t.Shape),
		DType: t.DType,
		Data:  slices.Clone(t.Data),
	}
}

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b *Tensor) bool {
	return slices.Equal(a.Shape, b.Shape)
}

// MaxAbsDiff returns the largest element-wise absolute difference.
// Tensors of different shapes compare as +Inf.
func MaxAbsDiff(a, b *Tensor) float64 {
	if !SameShape(a, b) {
		return math.Inf(1)
	}
	var maxAbs float64
	for i := range a.Data {
		d := math.Abs(float64(a.Data[i] - b.Data[i]))
		if d > maxAbs {
			maxAbs = d
		}
	}
	return maxAbs
}

// AllClose reports whether a and b match within atol + rtol*|b|.
func AllClose(a, b *Tensor, rtol, atol float64) bool {
	if !SameShape(a, b) {
		return false
	}
	for i := range a.Data {
		x, y := float64(a.Data[i]), float64(b.Data[i])
		if math.Abs(x-y) > atol+rtol*math.Abs(y) {
			return false
		}
	}
	return true
}
