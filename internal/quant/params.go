package quant

import "math"

// =============================================================================
// Symmetric INT8 Quantization
// =============================================================================
// Maps real values to int8 codes with code = clamp(round(v * scale), -127, 127)
// and back with v ~= code / scale. The zero point is fixed at 0 and -128 is
// never produced, so the code range is symmetric around zero.

const (
	// MaxCode is the largest code produced by Quantize. MinCode is its negation;
	// -128 is deliberately unused.
	MaxCode = 127
	MinCode = -MaxCode
)

// Params holds the per-sample quantization parameters.
type Params struct {
	Scale     float32 // real value -> code multiplier
	ZeroPoint int32   // always 0 for symmetric quantization
}

// DefaultParams is returned for empty or all-zero samples.
func DefaultParams() Params {
	return Params{Scale: 1.0, ZeroPoint: 0}
}

// StepSize returns the real-valued width of one code (1/scale), or 1 when the
// scale is zero.
func (p Params) StepSize() float32 {
	if p.Scale == 0 {
		return 1.0
	}
	return 1.0 / p.Scale
}

// ComputeParams derives symmetric parameters from sample: scale = 127 / amax,
// where amax is the larger of |min| and |max|. For amax below roughly 3.7e-37
// the quotient overflows float32 and the scale is capped at math.MaxFloat32,
// so every product stays finite and the step size stays non-zero.
func ComputeParams(sample []float32) Params {
	if len(sample) == 0 {
		return DefaultParams()
	}

	minVal, maxVal := Bounds(sample)
	amax := float32(math.Max(math.Abs(float64(minVal)), math.Abs(float64(maxVal))))
	if amax > 0 {
		scale := MaxCode / amax
		if math.IsInf(float64(scale), 1) {
			scale = math.MaxFloat32
		}
		return Params{Scale: scale, ZeroPoint: 0}
	}
	return DefaultParams()
}

// Bounds returns the minimum and maximum of sample in a single pass.
// It returns 0, 0 for an empty sample.
func Bounds(sample []float32) (minVal, maxVal float32) {
	if len(sample) == 0 {
		return 0, 0
	}
	minVal = sample[0]
	maxVal = sample[0]
	for _, v := range sample[1:] {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	return minVal, maxVal
}
