package tensor

import (
	"math"
	"math/rand"
	"testing"
)

func randMat(t *testing.T, r, c int, seed int64) Mat {
	t.Helper()
	x, err := RandomUniform(rand.New(rand.NewSource(seed)), F32, -0.01, 0.01, r, c)
	if err != nil {
		t.Fatalf("random matrix: %v", err)
	}
	m, err := x.Matrix()
	if err != nil {
		t.Fatalf("matrix view: %v", err)
	}
	return m
}

func maxAbsDiff(a, b []float32) float64 {
	var maxAbs float64
	for i := range a {
		d := math.Abs(float64(a[i] - b[i]))
		if d > maxAbs {
			maxAbs = d
		}
	}
	return maxAbs
}

func TestGemmParMatchesNaive(t *testing.T) {
	A := NewMat(50, 70)
	B := NewMat(70, 45)
	C0 := NewMat(50, 45)
	C1 := NewMat(50, 45)

	A = randMat(t, A.R, A.C, 1)
	B = randMat(t, B.R, B.C, 2)

	GemmNaive(&C0, &A, &B)
	cfg := SelectGemmConfig(A.R, A.C, B.C)
	GemmPar(cfg, &C1, &A, &B, 1, 0, 4)

	if maxAbs := maxAbsDiff(C0.Data, C1.Data); maxAbs > 1e-5 {
		t.Fatalf("max abs diff %g", maxAbs)
	}
}

func TestGemmEveryCandidateMatchesNaive(t *testing.T) {
	t.Parallel()

	A := NewMat(33, 130)
	B := NewMat(130, 17)
	want := NewMat(33, 17)
	A = randMat(t, A.R, A.C, 5)
	B = randMat(t, B.R, B.C, 6)
	GemmNaive(&want, &A, &B)

	for _, cfg := range GemmConfigCandidates(SelectGemmConfig(A.R, A.C, B.C)) {
		got := NewMat(33, 17)
		Gemm(cfg, &got, &A, &B, 1, 0)
		if maxAbs := maxAbsDiff(want.Data, got.Data); maxAbs > 1e-5 {
			t.Fatalf("cfg %s: max abs diff %g", cfg, maxAbs)
		}
	}
}

func TestGemmAlphaBeta(t *testing.T) {
	t.Parallel()

	A := NewMatFromData(1, 2, []float32{1, 2})
	B := NewMatFromData(2, 1, []float32{3, 4})
	C := NewMatFromData(1, 1, []float32{10})

	Gemm(DefaultGemmConfig(), &C, &A, &B, 2, 0.5)
	// 2*(1*3+2*4) + 0.5*10
	if C.Data[0] != 27 {
		t.Fatalf("got %v want 27", C.Data[0])
	}
}

func TestGemmConfigCandidatesUniqueAndOrdered(t *testing.T) {
	t.Parallel()

	base := DefaultGemmConfig()
	got := GemmConfigCandidates(base)
	if got[0] != base {
		t.Fatalf("first candidate must be the base config, got %v", got[0])
	}
	seen := map[GemmConfig]bool{}
	for _, cfg := range got {
		if seen[cfg] {
			t.Fatalf("duplicate candidate %v in %v", cfg, got)
		}
		seen[cfg] = true
	}
	// 16 -> 8, 32, 24 (32 is already present)
	if len(got) != 4 {
		t.Fatalf("unexpected candidates: %v", got)
	}
}

func TestSelectGemmConfigDeepK(t *testing.T) {
	t.Parallel()
	if cfg := SelectGemmConfig(8, 256, 8); cfg.TileK != 32 {
		t.Fatalf("expected TileK 32 for deep K, got %d", cfg.TileK)
	}
	if cfg := SelectGemmConfig(8, 100, 8); cfg.TileK != 24 {
		t.Fatalf("expected TileK 24, got %d", cfg.TileK)
	}
}

func TestTranspose(t *testing.T) {
	t.Parallel()
	src := NewMatFromData(2, 3, []float32{1, 2, 3, 4, 5, 6})
	dst := NewMat(3, 2)
	Transpose(&dst, &src)
	want := []float32{1, 4, 2, 5, 3, 6}
	for i := range want {
		if dst.Data[i] != want[i] {
			t.Fatalf("transpose mismatch at %d: got %v want %v", i, dst.Data, want)
		}
	}
}

func TestGemmParNoAllocs(t *testing.T) {
	A := NewMat(16, 16)
	B := NewMat(16, 16)
	C := NewMat(16, 16)

	A = randMat(t, A.R, A.C, 3)
	B = randMat(t, B.R, B.C, 4)

	cfg := DefaultGemmConfig()
	allocs := testing.AllocsPerRun(100, func() {
		GemmPar(cfg, &C, &A, &B, 1, 0, 2)
	})

	if allocs != 0 {
		t.Fatalf("unexpected allocs: %v", allocs)
	}
}
