package kernels

import "math"

// Verification summarizes how far a kernel result is from a reference.
type Verification struct {
	RMSE float64
	// Rel is ||got-ref|| / (||ref|| + 1e-12).
	Rel float64
}

// Compare measures got against ref element-wise over the common length.
func Compare(got, ref []float32) Verification {
	n := min(len(got), len(ref))
	var err2, ref2 float64
	for i := 0; i < n; i++ {
		d := float64(got[i]) - float64(ref[i])
		err2 += d * d
		ref2 += float64(ref[i]) * float64(ref[i])
	}
	return Verification{
		RMSE: math.Sqrt(err2 / float64(max(1, n))),
		Rel:  math.Sqrt(err2) / (math.Sqrt(ref2) + 1e-12),
	}
}
