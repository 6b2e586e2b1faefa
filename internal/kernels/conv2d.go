package kernels

import (
	"fmt"

	qerrors "github.com/23skdu/qkernels/internal/errors"
)

// Conv2D computes a valid (unpadded, stride 1) 2D cross-correlation of in with
// kernel k. The output has shape (H-KH+1) x (W-KW+1).
func Conv2D(in, k [][]float32) ([][]float32, error) {
	h, w, err := dims("conv2d", "input", in)
	if err != nil {
		return nil, err
	}
	kh, kw, err := dims("conv2d", "kernel", k)
	if err != nil {
		return nil, err
	}
	if kh > h || kw > w {
		return nil, qerrors.NewValidationError("conv2d",
			fmt.Sprintf("kernel %dx%d larger than input %dx%d", kh, kw, h, w))
	}

	outH, outW := h-kh+1, w-kw+1
	out := make([][]float32, outH)
	for i := 0; i < outH; i++ {
		row := make([]float32, outW)
		for j := 0; j < outW; j++ {
			var s float32
			for ki := 0; ki < kh; ki++ {
				inRow := in[i+ki][j : j+kw]
				kRow := k[ki]
				for kj, kv := range kRow {
					s += inRow[kj] * kv
				}
			}
			row[j] = s
		}
		out[i] = row
	}
	return out, nil
}

// dims returns the shape of a non-empty rectangular matrix.
func dims(op, name string, m [][]float32) (rows, cols int, err error) {
	if len(m) == 0 || len(m[0]) == 0 {
		return 0, 0, qerrors.NewValidationError(op, name+" is empty")
	}
	cols = len(m[0])
	for i, r := range m {
		if len(r) != cols {
			return 0, 0, qerrors.NewValidationError(op,
				fmt.Sprintf("%s row %d has %d columns, want %d", name, i, len(r), cols))
		}
	}
	return len(m), cols, nil
}
