package quant

import (
	"context"
	"math"
	"unsafe"

	"github.com/23skdu/qkernels/internal/metrics"
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/cespare/xxhash/v2"
)

// Report is the outcome of a full quantize/dequantize round trip.
type Report struct {
	Params        Params
	Codes         []int8
	Reconstructed []float32

	// L2 is the sum of squared differences between sample and reconstruction.
	L2 float64
	// MaxAbsError is the largest per-value reconstruction error.
	MaxAbsError float64
	// Saturated holds the indices whose rounded value was clamped to +/-127.
	Saturated *roaring.Bitmap
	// Checksum fingerprints Codes, see Checksum.
	Checksum uint64
}

// Run quantizes sample with p, reconstructs it and measures the error.
func Run(sample []float32, p Params) *Report {
	return finishReport(sample, p, Quantize(sample, p), "round_trip")
}

// RunParallel is Run with the quantize pass split across goroutines, see
// QuantizeParallel.
func RunParallel(ctx context.Context, sample []float32, p Params, chunk int) (*Report, error) {
	codes, err := QuantizeParallel(ctx, sample, p, chunk)
	if err != nil {
		return nil, err
	}
	return finishReport(sample, p, codes, "round_trip_parallel"), nil
}

func finishReport(sample []float32, p Params, codes []int8, op string) *Report {
	r := &Report{
		Params:        p,
		Codes:         codes,
		Reconstructed: make([]float32, len(sample)),
		Saturated:     roaring.New(),
	}

	// Only codes at the rails can have been clamped.
	for i, c := range codes {
		if c != MaxCode && c != MinCode {
			continue
		}
		if _, clamped := quantizeValue(sample[i], p.Scale); clamped {
			r.Saturated.Add(uint32(i))
		}
	}
	DequantizeInto(r.Reconstructed, r.Codes, p)

	for i, v := range sample {
		d := float64(v) - float64(r.Reconstructed[i])
		r.L2 += d * d
		if ad := math.Abs(d); ad > r.MaxAbsError {
			r.MaxAbsError = ad
		}
	}
	r.Checksum = Checksum(r.Codes)

	metrics.QuantizeCallsTotal.WithLabelValues(op).Inc()
	metrics.QuantizeValuesTotal.WithLabelValues(op).Add(float64(len(sample)))
	metrics.QuantizeSaturatedTotal.Add(float64(r.Saturated.GetCardinality()))
	metrics.QuantizeScale.Observe(float64(p.Scale))
	metrics.ReconstructionL2.Observe(r.L2)

	return r
}

// SaturatedCount returns how many values were clamped.
func (r *Report) SaturatedCount() int {
	return int(r.Saturated.GetCardinality())
}

// Checksum returns the xxhash64 of the code bytes.
func Checksum(codes []int8) uint64 {
	if len(codes) == 0 {
		return xxhash.Sum64(nil)
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(&codes[0])), len(codes))
	return xxhash.Sum64(b)
}
