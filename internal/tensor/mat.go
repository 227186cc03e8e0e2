package tensor

import "fmt"

// Mat is a row-major float32 matrix view used by the GEMM kernels. Stride is
// the distance between row starts; it equals C for a dense matrix.
type Mat struct {
	R, C   int
	Stride int
	Data   []float32
}

func NewMat(r, c int) Mat {
	if r < 0 || c < 0 {
		panic(fmt.Sprintf("tensor: negative matrix dims %dx%d", r, c))
	}
	return Mat{R: r, C: c, Stride: c, Data: make([]float32, r*c)}
}

// NewMatFromData wraps data as an r×c matrix without copying. It panics if
// len(data) != r*c.
func NewMatFromData(r, c int, data []float32) Mat {
	if r*c != len(data) {
		panic(fmt.Sprintf("tensor: %d values for a %dx%d matrix", len(data), r, c))
	}
	return Mat{R: r, C: c, Stride: c, Data: data}
}

// Matrix views a rank-2 tensor as a Mat sharing its storage.
func (t *Tensor) Matrix() (Mat, error) {
	if t.Rank() != 2 {
		return Mat{}, fmt.Errorf("%w: rank %d is not a matrix", ErrShapeMismatch, t.Rank())
	}
	return NewMatFromData(t.Shape[0], t.Shape[1], t.Data), nil
}

func (m *Mat) Row(i int) []float32 {
	if i < 0 || i >= m.R {
		panic(fmt.Sprintf("tensor: row %d out of range [0, %d)", i, m.R))
	}
	start := i * m.Stride
	return m.Data[start : start+m.C]
}
