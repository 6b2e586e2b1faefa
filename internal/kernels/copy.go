package kernels

// CopyUnrolled copies min(len(dst), len(src)) floats from src to dst in
// 8-element chunks followed by a scalar tail, and returns the count copied.
func CopyUnrolled(dst, src []float32) int {
	n := min(len(dst), len(src))
	i := 0
	for ; i+8 <= n; i += 8 {
		d := dst[i : i+8 : i+8]
		s := src[i : i+8 : i+8]
		d[0], d[1], d[2], d[3] = s[0], s[1], s[2], s[3]
		d[4], d[5], d[6], d[7] = s[4], s[5], s[6], s[7]
	}
	for ; i < n; i++ {
		dst[i] = src[i]
	}
	return n
}
