package kernels

import (
	"time"

	"github.com/23skdu/qkernels/internal/metrics"
)

// Time runs fn, records its duration under kernel in
// qkernels_kernel_duration_seconds and returns it.
func Time(kernel string, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	metrics.KernelDurationSeconds.WithLabelValues(kernel).Observe(d.Seconds())
	return d
}

// Milliseconds converts d to fractional milliseconds for reporting.
func Milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
