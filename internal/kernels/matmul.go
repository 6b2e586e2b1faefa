package kernels

import (
	"fmt"

	qerrors "github.com/23skdu/qkernels/internal/errors"
)

// DefaultBlockSize is the tile edge used by MatMulBlocked when bs <= 0.
const DefaultBlockSize = 64

// CheckMatMul validates row-major operand sizes for C[MxN] = A[MxK] * B[KxN].
func CheckMatMul(a, b, c []float32, m, k, n int) error {
	if m <= 0 || k <= 0 || n <= 0 {
		return qerrors.NewValidationError("matmul",
			fmt.Sprintf("dimensions must be positive, got M=%d K=%d N=%d", m, k, n))
	}
	if len(a) < m*k || len(b) < k*n || len(c) < m*n {
		return qerrors.NewValidationError("matmul",
			fmt.Sprintf("operands too small: len(A)=%d len(B)=%d len(C)=%d for M=%d K=%d N=%d",
				len(a), len(b), len(c), m, k, n))
	}
	return nil
}

// MatMulBaseline computes C = A * B with the textbook i/j/k loop.
// All matrices are row-major; C is overwritten.
func MatMulBaseline(a, b, c []float32, m, k, n int) {
	for i := 0; i < m; i++ {
		aRow := a[i*k : i*k+k]
		for j := 0; j < n; j++ {
			var acc float32
			for p, av := range aRow {
				acc += av * b[p*n+j]
			}
			c[i*n+j] = acc
		}
	}
}

// MatMulBlocked computes C = A * B over bs x bs tiles in i/k/j order so that
// rows of B and C are streamed contiguously. Results match MatMulBaseline up
// to float reassociation. C is overwritten.
func MatMulBlocked(a, b, c []float32, m, k, n, bs int) {
	if bs <= 0 {
		bs = DefaultBlockSize
	}
	clear(c[:m*n])

	for i0 := 0; i0 < m; i0 += bs {
		iMax := min(i0+bs, m)
		for k0 := 0; k0 < k; k0 += bs {
			kMax := min(k0+bs, k)
			for j0 := 0; j0 < n; j0 += bs {
				jMax := min(j0+bs, n)
				for i := i0; i < iMax; i++ {
					cRow := c[i*n+j0 : i*n+jMax]
					for p := k0; p < kMax; p++ {
						aip := a[i*k+p]
						bRow := b[p*n+j0 : p*n+jMax]
						for j, bv := range bRow {
							cRow[j] += aip * bv
						}
					}
				}
			}
		}
	}
}
