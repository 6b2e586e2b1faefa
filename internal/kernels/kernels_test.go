package kernels

import (
	"math/rand"
	"testing"
	"time"

	qerrors "github.com/23skdu/qkernels/internal/errors"
	"github.com/23skdu/qkernels/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConv2D_Demo(t *testing.T) {
	in := [][]float32{
		{1, 2, 3},
		{4, 5, 6},
		{7, 8, 9},
	}
	k := [][]float32{
		{1, 0},
		{0, -1},
	}

	out, err := Conv2D(in, k)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{-4, -4}, {-4, -4}}, out)
}

func TestConv2D_Shapes(t *testing.T) {
	in := make([][]float32, 5)
	for i := range in {
		in[i] = []float32{1, 1, 1, 1, 1, 1, 1}
	}
	k := [][]float32{{1, 1, 1}, {1, 1, 1}}

	out, err := Conv2D(in, k)
	require.NoError(t, err)
	require.Len(t, out, 4)
	for _, row := range out {
		assert.Equal(t, []float32{6, 6, 6, 6, 6}, row)
	}

	same, err := Conv2D(k, k)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{6}}, same)
}

func TestConv2D_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		in   [][]float32
		k    [][]float32
	}{
		{"empty input", nil, [][]float32{{1}}},
		{"empty kernel", [][]float32{{1}}, [][]float32{}},
		{"ragged input", [][]float32{{1, 2}, {3}}, [][]float32{{1}}},
		{"ragged kernel", [][]float32{{1, 2}, {3, 4}}, [][]float32{{1, 2}, {1}}},
		{"kernel too tall", [][]float32{{1, 2}}, [][]float32{{1}, {1}}},
		{"kernel too wide", [][]float32{{1}, {2}}, [][]float32{{1, 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Conv2D(tt.in, tt.k)
			require.Error(t, err)
			assert.True(t, qerrors.IsValidation(err))
		})
	}
}

func randomMatrix(rng *rand.Rand, n int) []float32 {
	m := make([]float32, n)
	for i := range m {
		m[i] = rng.Float32()*2 - 1
	}
	return m
}

func TestMatMulBaseline_Small(t *testing.T) {
	// [1 2 3]   [7  8 ]   [ 58  64]
	// [4 5 6] x [9  10] = [139 154]
	//           [11 12]
	a := []float32{1, 2, 3, 4, 5, 6}
	b := []float32{7, 8, 9, 10, 11, 12}
	c := make([]float32, 4)

	MatMulBaseline(a, b, c, 2, 3, 2)
	assert.Equal(t, []float32{58, 64, 139, 154}, c)
}

func TestMatMulBlocked_MatchesBaseline(t *testing.T) {
	rng := rand.New(rand.NewSource(123))

	shapes := []struct{ m, k, n, bs int }{
		{1, 1, 1, 4},
		{17, 33, 9, 8},
		{64, 64, 64, 16},
		{70, 31, 45, 0},
		{5, 7, 3, 100},
	}

	for _, s := range shapes {
		a := randomMatrix(rng, s.m*s.k)
		b := randomMatrix(rng, s.k*s.n)
		ref := make([]float32, s.m*s.n)
		got := make([]float32, s.m*s.n)
		for i := range got {
			got[i] = 99 // must be overwritten
		}

		MatMulBaseline(a, b, ref, s.m, s.k, s.n)
		MatMulBlocked(a, b, got, s.m, s.k, s.n, s.bs)

		v := Compare(got, ref)
		assert.Less(t, v.RMSE, 1e-5, "shape %+v", s)
		assert.Less(t, v.Rel, 1e-5, "shape %+v", s)
	}
}

func TestCheckMatMul(t *testing.T) {
	require.NoError(t, CheckMatMul(make([]float32, 6), make([]float32, 6), make([]float32, 4), 2, 3, 2))

	err := CheckMatMul(nil, nil, nil, 0, 1, 1)
	assert.True(t, qerrors.IsValidation(err))

	err = CheckMatMul(make([]float32, 5), make([]float32, 6), make([]float32, 4), 2, 3, 2)
	assert.True(t, qerrors.IsValidation(err))
}

func TestCopyUnrolled(t *testing.T) {
	for _, n := range []int{0, 1, 7, 8, 9, 16, 1023} {
		src := make([]float32, n)
		for i := range src {
			src[i] = float32(i)
		}
		dst := make([]float32, n)

		assert.Equal(t, n, CopyUnrolled(dst, src))
		assert.Equal(t, src, dst, "n=%d", n)
	}
}

func TestCopyUnrolled_ShorterSide(t *testing.T) {
	src := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	dst := make([]float32, 4)
	assert.Equal(t, 4, CopyUnrolled(dst, src))
	assert.Equal(t, []float32{1, 2, 3, 4}, dst)

	dst = make([]float32, 12)
	assert.Equal(t, 10, CopyUnrolled(dst, src))
	assert.Equal(t, float32(0), dst[10])
}

func TestCompare(t *testing.T) {
	v := Compare([]float32{1, 2, 3}, []float32{1, 2, 3})
	assert.Zero(t, v.RMSE)
	assert.Zero(t, v.Rel)

	v = Compare([]float32{0, 0}, []float32{3, 4})
	assert.InDelta(t, 3.5355, v.RMSE, 1e-4)
	assert.InDelta(t, 1.0, v.Rel, 1e-9)

	v = Compare(nil, nil)
	assert.Zero(t, v.RMSE)
}

func TestTime_RecordsMetric(t *testing.T) {
	before := testutil.CollectAndCount(metrics.KernelDurationSeconds)
	d := Time("test-kernel", func() { time.Sleep(time.Millisecond) })
	assert.GreaterOrEqual(t, d, time.Millisecond)
	assert.GreaterOrEqual(t, Milliseconds(d), 1.0)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(metrics.KernelDurationSeconds), before)
}

func TestSuggestedBlockSize(t *testing.T) {
	assert.Equal(t, DefaultBlockSize, CPUFeatures{}.SuggestedBlockSize())
	assert.Equal(t, 48, CPUFeatures{L1DataCache: 32 * 1024}.SuggestedBlockSize())
	assert.Equal(t, 128, CPUFeatures{L1DataCache: 1 << 30}.SuggestedBlockSize())
	assert.Equal(t, 16, CPUFeatures{L1DataCache: 1024}.SuggestedBlockSize())
}

func TestCPUInfo(t *testing.T) {
	info := CPUInfo()
	assert.GreaterOrEqual(t, info.LogicalCores, 0)
	assert.Positive(t, info.SuggestedBlockSize())
}

func BenchmarkMatMul(b *testing.B) {
	const n = 128
	rng := rand.New(rand.NewSource(1))
	a := randomMatrix(rng, n*n)
	bm := randomMatrix(rng, n*n)
	c := make([]float32, n*n)

	b.Run("Baseline", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			MatMulBaseline(a, bm, c, n, n, n)
		}
	})
	b.Run("Blocked", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			MatMulBlocked(a, bm, c, n, n, n, DefaultBlockSize)
		}
	})
}

func BenchmarkCopyUnrolled(b *testing.B) {
	src := make([]float32, 1<<20)
	dst := make([]float32, 1<<20)
	b.SetBytes(int64(len(src) * 4))
	for i := 0; i < b.N; i++ {
		CopyUnrolled(dst, src)
	}
}
