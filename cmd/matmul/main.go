package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"

	qerrors "github.com/23skdu/qkernels/internal/errors"
	"github.com/23skdu/qkernels/internal/kernels"
	"github.com/23skdu/qkernels/internal/logging"
	"github.com/23skdu/qkernels/internal/tracing"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

type conf struct {
	M, K, N int
	Blocked bool
	BS      int
}

func main() {
	logger, err := logging.NewLogger(logging.Config{Format: "console", Level: "info", Output: os.Stderr})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := run(context.Background(), os.Args[1:], os.Stdout, logger); err != nil {
		logger.Error().Err(err).Msg("matmul demo failed")
		os.Exit(1)
	}
}

// parseConf reads the positional arguments M K N [baseline|blocked] [BS].
func parseConf(pos []string, autoBS bool) (conf, error) {
	c := conf{M: 1024, K: 1024, N: 1024, Blocked: true, BS: kernels.DefaultBlockSize}
	if autoBS {
		c.BS = kernels.CPUInfo().SuggestedBlockSize()
	}

	atoi := func(s, name string) (int, error) {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			return 0, qerrors.NewValidationError("matmul", fmt.Sprintf("%s must be a positive integer, got %q", name, s))
		}
		return v, nil
	}

	var err error
	if len(pos) >= 3 {
		if c.M, err = atoi(pos[0], "M"); err != nil {
			return c, err
		}
		if c.K, err = atoi(pos[1], "K"); err != nil {
			return c, err
		}
		if c.N, err = atoi(pos[2], "N"); err != nil {
			return c, err
		}
	} else if len(pos) > 0 {
		return c, qerrors.NewValidationError("matmul", "usage: matmul [flags] M K N [baseline|blocked] [BS]")
	}
	if len(pos) >= 4 {
		switch pos[3] {
		case "baseline":
			c.Blocked = false
		case "blocked":
			c.Blocked = true
		default:
			return c, qerrors.NewValidationError("matmul", "mode must be baseline or blocked, got "+pos[3])
		}
	}
	if len(pos) >= 5 {
		if c.BS, err = atoi(pos[4], "BS"); err != nil {
			return c, err
		}
	}
	return c, nil
}

func run(ctx context.Context, args []string, stdout io.Writer, logger zerolog.Logger) error {
	fs := flag.NewFlagSet("matmul", flag.ContinueOnError)
	trace := fs.Bool("trace", false, "Print phase spans to stderr")
	autoBS := fs.Bool("auto-bs", false, "Pick the block size from the L1 data cache size")
	seed := fs.Int64("seed", 123, "Seed for the operand values")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := parseConf(fs.Args(), *autoBS)
	if err != nil {
		return err
	}

	if *trace {
		shutdown, err := tracing.Init(ctx, tracing.SpanConfig{ServiceName: "matmul", SampleRate: 1, Output: os.Stderr})
		if err != nil {
			return err
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	mode := "baseline"
	if c.Blocked {
		mode = "blocked"
	}
	fmt.Fprintf(stdout, "[conf] M=%d K=%d N=%d mode=%s", c.M, c.K, c.N, mode)
	if c.Blocked {
		fmt.Fprintf(stdout, ", BS=%d", c.BS)
	}
	fmt.Fprintln(stdout)

	cpu := kernels.CPUInfo()
	runID := uuid.NewString()
	logger.Info().
		Str("run_id", runID).
		Str("cpu", cpu.Brand).
		Bool("avx2", cpu.HasAVX2).
		Bool("neon", cpu.HasNEON).
		Int("l1d", cpu.L1DataCache).
		Msg("matmul run")

	ctx, mainSpan := tracing.Range(ctx, "main",
		attribute.String("run_id", runID),
		attribute.Int("m", c.M), attribute.Int("k", c.K), attribute.Int("n", c.N),
		attribute.String("mode", mode), attribute.Int("bs", c.BS))
	defer mainSpan.End()

	_, span := tracing.Range(ctx, "alloc")
	a := make([]float32, c.M*c.K)
	b := make([]float32, c.K*c.N)
	out := make([]float32, c.M*c.N)
	ref := make([]float32, c.M*c.N)
	span.End()

	_, span = tracing.Range(ctx, "init")
	rng := rand.New(rand.NewSource(*seed))
	for i := range a {
		a[i] = rng.Float32()*2 - 1
	}
	for i := range b {
		b[i] = rng.Float32()*2 - 1
	}
	span.End()

	_, span = tracing.Range(ctx, "run-baseline(ref)")
	tRef := kernels.Time("matmul_baseline", func() {
		kernels.MatMulBaseline(a, b, ref, c.M, c.K, c.N)
	})
	span.End()

	_, span = tracing.Range(ctx, "run-"+mode)
	tTest := kernels.Time("matmul_"+mode, func() {
		if c.Blocked {
			kernels.MatMulBlocked(a, b, out, c.M, c.K, c.N, c.BS)
		} else {
			kernels.MatMulBaseline(a, b, out, c.M, c.K, c.N)
		}
	})
	span.End()

	_, span = tracing.Range(ctx, "verify")
	v := kernels.Compare(out, ref)
	span.SetAttributes(attribute.Float64("rmse", v.RMSE), attribute.Float64("rel", v.Rel))
	span.End()

	fmt.Fprintf(stdout, "[verify] RMSE=%g rel=%g\n", v.RMSE, v.Rel)
	msRef, msTest := kernels.Milliseconds(tRef), kernels.Milliseconds(tTest)
	fmt.Fprintf(stdout, "[time] baseline(ref) = %g ms\n", msRef)
	fmt.Fprintf(stdout, "[time] test(%s) = %g ms\n", mode, msTest)
	if msTest > 0 {
		fmt.Fprintf(stdout, "[speedup] %gx\n", msRef/msTest)
	}

	tracing.Mark(ctx, "done")
	return nil
}
