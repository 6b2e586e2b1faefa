package quant

import "math"

// Quantize converts sample to int8 codes using p. The output is positionally
// aligned with sample.
//
// Each value is multiplied by p.Scale in float32, rounded half to even and
// saturated to [MinCode, MaxCode] before narrowing. Infinities saturate and a
// NaN product (NaN input, or 0 times an infinite scale) becomes 0. Use
// CheckFinite first when the sample is untrusted.
func Quantize(sample []float32, p Params) []int8 {
	codes := make([]int8, len(sample))
	QuantizeInto(codes, sample, p)
	return codes
}

// QuantizeInto quantizes sample into a pre-allocated destination slice.
// dst must be at least len(sample) long.
func QuantizeInto(dst []int8, sample []float32, p Params) {
	_ = dst[:len(sample)]
	for i, v := range sample {
		dst[i], _ = quantizeValue(v, p.Scale)
	}
}

// Dequantize converts codes back to approximate real values using p. The
// output is positionally aligned with codes.
func Dequantize(codes []int8, p Params) []float32 {
	out := make([]float32, len(codes))
	DequantizeInto(out, codes, p)
	return out
}

// DequantizeInto dequantizes codes into a pre-allocated destination slice.
// dst must be at least len(codes) long.
func DequantizeInto(dst []float32, codes []int8, p Params) {
	_ = dst[:len(codes)]
	invScale := p.StepSize()
	for i, c := range codes {
		dst[i] = float32(c) * invScale
	}
}

// quantizeValue returns the code for v and whether it had to be saturated.
func quantizeValue(v, scale float32) (int8, bool) {
	// Round the product to float32 first so ties are detected at single precision.
	scaled := float32(v * scale)
	r := math.RoundToEven(float64(scaled))
	switch {
	case math.IsNaN(r):
		return 0, false
	case r > MaxCode:
		return MaxCode, true
	case r < MinCode:
		return MinCode, true
	}
	return int8(r), false
}
