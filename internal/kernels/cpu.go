package kernels

import (
	"github.com/klauspost/cpuid/v2"
)

// CPUFeatures describes the host CPU as seen by the kernels.
type CPUFeatures struct {
	Vendor        string
	Brand         string
	PhysicalCores int
	LogicalCores  int
	L1DataCache   int
	L2Cache       int
	HasAVX2       bool
	HasAVX512     bool
	HasNEON       bool
	HasVNNI       bool
}

// CPUInfo detects the host CPU.
func CPUInfo() CPUFeatures {
	return CPUFeatures{
		Vendor:        cpuid.CPU.VendorString,
		Brand:         cpuid.CPU.BrandName,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		L1DataCache:   cpuid.CPU.Cache.L1D,
		L2Cache:       cpuid.CPU.Cache.L2,
		HasAVX2:       cpuid.CPU.Supports(cpuid.AVX2),
		HasAVX512: cpuid.CPU.Supports(cpuid.AVX512F) &&
			cpuid.CPU.Supports(cpuid.AVX512BW),
		HasNEON: cpuid.CPU.Supports(cpuid.ASIMD),
		HasVNNI: cpuid.CPU.Supports(cpuid.AVX512VNNI) || cpuid.CPU.Supports(cpuid.AVXVNNI),
	}
}

// SuggestedBlockSize picks a square matmul tile whose three float32 tiles fit
// in the L1 data cache, rounded down to a multiple of 16 and clamped to [16, 128].
func (f CPUFeatures) SuggestedBlockSize() int {
	l1 := f.L1DataCache
	if l1 <= 0 {
		return DefaultBlockSize
	}
	bs := 16
	for next := bs + 16; next <= 128 && 3*next*next*4 <= l1; next += 16 {
		bs = next
	}
	return bs
}
