package kernels

// BatchingPolicy decides how many images col2im packs into one GEMM. ok is
// false when not even one image fits, which makes col2im ineligible.
type BatchingPolicy interface {
	BatchesPerRun(batch, height, width int) (n int, ok bool)
}

// ColumnBudget caps the GEMM width of one col2im run, counted in input
// positions (batches × height × width). The number of batches per run is the
// largest divisor of the batch size that fits.
type ColumnBudget int

// DefaultCol2ImColumns is the budget used when none is configured.
const DefaultCol2ImColumns ColumnBudget = 1<<16 - 1

func (b ColumnBudget) BatchesPerRun(batch, height, width int) (int, bool) {
	per := height * width
	if batch <= 0 || per <= 0 {
		return 0, false
	}
	most := min(int(b)/per, batch)
	for n := most; n > 0; n-- {
		if batch%n == 0 {
			return n, true
		}
	}
	return 0, false
}
