package quant

import (
	"fmt"
	"math"

	qerrors "github.com/23skdu/qkernels/internal/errors"
)

// CheckFinite returns a validation error naming the first NaN or infinite
// value in sample, or nil when every value is finite.
func CheckFinite(sample []float32) error {
	for i, v := range sample {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return qerrors.NewValidationError("check_finite",
				fmt.Sprintf("non-finite value %v at index %d", v, i)).
				WithContext("index", i)
		}
	}
	return nil
}
