package tensor

import (
	"fmt"
	"runtime"
)

// Tuned for the benchmark shape (256^3).
const (
	defaultTileM = 32
	defaultTileN = 32
	defaultTileK = 16

	maxTileM = 64
	maxTileN = 64
	maxTileK = 64
)

// GemmConfig holds the blocking parameters of the tiled GEMM kernel.
type GemmConfig struct {
	TileM int
	TileN int
	TileK int
}

func (c GemmConfig) String() string {
	return fmt.Sprintf("%dx%dx%d", c.TileM, c.TileN, c.TileK)
}

func DefaultGemmConfig() GemmConfig {
	return GemmConfig{
		TileM: defaultTileM,
		TileN: defaultTileN,
		TileK: defaultTileK,
	}
}

// SelectGemmConfig is the static heuristic: larger K blocks for deep
// contractions.
func SelectGemmConfig(m, k, n int) GemmConfig {
	cfg := DefaultGemmConfig()

	switch {
	case k >= 192:
		cfg.TileK = 32
	case k >= 96:
		cfg.TileK = 24
	}

	return cfg.clamped()
}

// GemmConfigCandidates returns the tile variants worth timing around base,
// in a fixed order, without duplicates.
func GemmConfigCandidates(base GemmConfig) []GemmConfig {
	base = base.clamped()
	out := []GemmConfig{base}
	seen := map[GemmConfig]struct{}{base: {}}

	for _, tk := range []int{
		base.TileK / 2,
		base.TileK * 2,
		24,
		32,
	} {
		if tk <= 0 {
			continue
		}
		cfg := base
		cfg.TileK = clampTile(tk, maxTileK)
		if _, ok := seen[cfg]; ok {
			continue
		}
		seen[cfg] = struct{}{}
		out = append(out, cfg)
	}

	return out
}

func (c GemmConfig) clamped() GemmConfig {
	c.TileM = clampTile(c.TileM, maxTileM)
	c.TileN = clampTile(c.TileN, maxTileN)
	c.TileK = clampTile(c.TileK, maxTileK)
	return c
}

func clampTile(v, max int) int {
	if v < 1 {
		return 1
	}
	if v > max {
		return max
	}
	return v
}

func checkGemmDims(C, A, B *Mat) {
	if A.C != B.R || C.R != A.R || C.C != B.C {
		panic("gemm: dimension mismatch")
	}
}

// GemmNaive computes C = A*B with the textbook triple loop.
func GemmNaive(C, A, B *Mat) {
	checkGemmDims(C, A, B)
	for i := 0; i < A.R; i++ {
		aRow := A.Row(i)
		cRow := C.Row(i)
		for j := 0; j < B.C; j++ {
			var sum float32
			for kk := 0; kk < A.C; kk++ {
				sum += aRow[kk] * B.Data[kk*B.Stride+j]
			}
			cRow[j] = sum
		}
	}
}

// Gemm computes C = alpha*A*B + beta*C on the calling goroutine.
func Gemm(cfg GemmConfig, C, A, B *Mat, alpha, beta float32) {
	checkGemmDims(C, A, B)
	if C.R == 0 || C.C == 0 {
		return
	}
	gemmRangeRows(cfg.clamped(), C, A, B, alpha, beta, 0, C.R)
}

type gemmTask struct {
	C, A, B     *Mat
	alpha, beta float32
	rs, re      int
	cfg         GemmConfig
	done        chan struct{}
}

type gemmPool struct {
	size      int
	tasks     chan gemmTask
	doneSlots chan chan struct{}
}

func newGemmPool() *gemmPool {
	size := max(runtime.GOMAXPROCS(0), 1)
	p := &gemmPool{
		size:      size,
		tasks:     make(chan gemmTask, size*2),
		doneSlots: make(chan chan struct{}, size),
	}
	for range size {
		p.doneSlots <- make(chan struct{}, size)
	}
	for range size {
		go func() {
			for task := range p.tasks {
				gemmRangeRows(task.cfg, task.C, task.A, task.B, task.alpha, task.beta, task.rs, task.re)
				task.done <- struct{}{}
			}
		}()
	}
	return p
}

var gemmWorkPool = newGemmPool()

// GemmWorkers is the parallelism GemmPar uses when workers <= 0.
func GemmWorkers() int {
	return gemmWorkPool.size
}

// GemmPar computes C = alpha*A*B + beta*C, splitting the rows of C across
// the shared worker pool.
func GemmPar(cfg GemmConfig, C, A, B *Mat, alpha, beta float32, workers int) {
	checkGemmDims(C, A, B)
	if C.R == 0 || C.C == 0 {
		return
	}
	cfg = cfg.clamped()

	if workers <= 0 {
		workers = gemmWorkPool.size
	}
	workers = min(workers, C.R, gemmWorkPool.size)
	if workers <= 1 {
		gemmRangeRows(cfg, C, A, B, alpha, beta, 0, C.R)
		return
	}

	chunk := (C.R + workers - 1) / workers
	done := <-gemmWorkPool.doneSlots

	sent := 0
	for rs := 0; rs < C.R; rs += chunk {
		gemmWorkPool.tasks <- gemmTask{
			C:     C,
			A:     A,
			B:     B,
			alpha: alpha,
			beta:  beta,
			rs:    rs,
			re:    min(rs+chunk, C.R),
			cfg:   cfg,
			done:  done,
		}
		sent++
	}

	for range sent {
		<-done
	}
	gemmWorkPool.doneSlots <- done
}

// gemmRangeRows performs a blocked GEMM on rows [rs, re) of C.
func gemmRangeRows(cfg GemmConfig, C, A, B *Mat, alpha, beta float32, rs, re int) {
	n := C.C
	cStride := C.Stride
	switch beta {
	case 0:
		for i := rs; i < re; i++ {
			base := i * cStride
			clear(C.Data[base : base+n])
		}
	case 1:
	default:
		for i := rs; i < re; i++ {
			base := i * cStride
			for j := 0; j < n; j++ {
				C.Data[base+j] *= beta
			}
		}
	}

	k := A.C
	for i0 := rs; i0 < re; i0 += cfg.TileM {
		iMax := min(i0+cfg.TileM, re)
		for k0 := 0; k0 < k; k0 += cfg.TileK {
			kMax := min(k0+cfg.TileK, k)
			for j0 := 0; j0 < n; j0 += cfg.TileN {
				jMax := min(j0+cfg.TileN, n)
				blockUpdate(C.Data, A.Data, B.Data, cStride, A.Stride, B.Stride, alpha, i0, iMax, j0, jMax, k0, kMax)
			}
		}
	}
}

func blockUpdate(cData, aData, bData []float32, cStride, aStride, bStride int, alpha float32, i0, iMax, j0, jMax, k0, kMax int) {
	width := jMax - j0
	for i := i0; i < iMax; i++ {
		aRow := aData[i*aStride:]
		cOff := i*cStride + j0
		cRow := cData[cOff : cOff+width]

		for kk := k0; kk < kMax; kk++ {
			aik := aRow[kk] * alpha
			bOff := kk*bStride + j0
			bRow := bData[bOff : bOff+width]

			j := 0
			for ; j+7 < width; j += 8 {
				cRow[j+0] += aik * bRow[j+0]
				cRow[j+1] += aik * bRow[j+1]
				cRow[j+2] += aik * bRow[j+2]
				cRow[j+3] += aik * bRow[j+3]
				cRow[j+4] += aik * bRow[j+4]
				cRow[j+5] += aik * bRow[j+5]
				cRow[j+6] += aik * bRow[j+6]
				cRow[j+7] += aik * bRow[j+7]
			}
			for ; j < width; j++ {
				cRow[j] += aik * bRow[j]
			}
		}
	}
}

// Transpose writes the transpose of src into dst (dst must be src.C×src.R).
func Transpose(dst, src *Mat) {
	if dst.R != src.C || dst.C != src.R {
		panic("transpose: dimension mismatch")
	}
	for i := 0; i < src.R; i++ {
		row := src.Row(i)
		for j, v := range row {
			dst.Data[j*dst.Stride+i] = v
		}
	}
}
