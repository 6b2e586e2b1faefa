package main

import (
	"bytes"
	"context"
	"regexp"
	"strconv"
	"testing"

	qerrors "github.com/23skdu/qkernels/internal/errors"
	"github.com/23skdu/qkernels/internal/kernels"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConf(t *testing.T) {
	c, err := parseConf(nil, false)
	require.NoError(t, err)
	assert.Equal(t, conf{M: 1024, K: 1024, N: 1024, Blocked: true, BS: kernels.DefaultBlockSize}, c)

	c, err = parseConf([]string{"4", "5", "6", "baseline"}, false)
	require.NoError(t, err)
	assert.Equal(t, 4, c.M)
	assert.Equal(t, 6, c.N)
	assert.False(t, c.Blocked)

	c, err = parseConf([]string{"4", "5", "6", "blocked", "16"}, false)
	require.NoError(t, err)
	assert.Equal(t, 16, c.BS)

	c, err = parseConf(nil, true)
	require.NoError(t, err)
	assert.Equal(t, kernels.CPUInfo().SuggestedBlockSize(), c.BS)
}

func TestParseConf_Errors(t *testing.T) {
	for _, pos := range [][]string{
		{"4"},
		{"4", "x", "6"},
		{"4", "0", "6"},
		{"4", "5", "6", "fast"},
		{"4", "5", "6", "blocked", "-1"},
	} {
		_, err := parseConf(pos, false)
		require.Error(t, err, pos)
		assert.True(t, qerrors.IsValidation(err), pos)
	}
}

var rmseRe = regexp.MustCompile(`\[verify\] RMSE=(\S+) rel=(\S+)`)

func TestRun_BlockedMatchesBaseline(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"33", "17", "29", "blocked", "8"}, &out, zerolog.Nop()))

	s := out.String()
	assert.Contains(t, s, "[conf] M=33 K=17 N=29 mode=blocked, BS=8\n")
	assert.Contains(t, s, "[time] baseline(ref) = ")
	assert.Contains(t, s, "[time] test(blocked) = ")

	m := rmseRe.FindStringSubmatch(s)
	require.Len(t, m, 3)
	rmse, err := strconv.ParseFloat(m[1], 64)
	require.NoError(t, err)
	rel, err := strconv.ParseFloat(m[2], 64)
	require.NoError(t, err)
	assert.Less(t, rmse, 1e-5)
	assert.Less(t, rel, 1e-5)
}

func TestRun_BaselineIsExact(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"8", "8", "8", "baseline"}, &out, zerolog.Nop()))
	assert.Contains(t, out.String(), "[conf] M=8 K=8 N=8 mode=baseline\n")
	assert.Contains(t, out.String(), "[verify] RMSE=0 rel=0\n")
}
