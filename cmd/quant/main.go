package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/23skdu/qkernels/internal/logging"
	"github.com/23skdu/qkernels/internal/quant"
	"github.com/23skdu/qkernels/internal/storage"
	"github.com/rs/zerolog"
)

var demoSample = []float32{-1.0, -0.5, 0.0, 0.5, 1.0, 2.0, -3.0}

func main() {
	logger, err := logging.NewLogger(logging.Config{Format: "console", Level: "info", Output: os.Stderr})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := run(os.Args[1:], os.Stdout, logger); err != nil {
		logger.Error().Err(err).Msg("quant demo failed")
		os.Exit(1)
	}
}

func parseValues(s string) ([]float32, error) {
	if strings.TrimSpace(s) == "" {
		return append([]float32(nil), demoSample...), nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", p, err)
		}
		out = append(out, float32(v))
	}
	return out, nil
}

func run(args []string, stdout io.Writer, logger zerolog.Logger) error {
	fs := flag.NewFlagSet("quant", flag.ContinueOnError)
	values := fs.String("values", "", "Comma-separated sample values (default: the demo sample)")
	parquetPath := fs.String("parquet", "", "Write the per-value report to this Parquet file")
	strict := fs.Bool("strict", false, "Reject NaN and infinite values")
	chunk := fs.Int("chunk", 0, "Quantize in parallel chunks of this many values (0 = serial)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sample, err := parseValues(*values)
	if err != nil {
		return err
	}
	if *strict {
		if err := quant.CheckFinite(sample); err != nil {
			return err
		}
	}

	p := quant.ComputeParams(sample)
	var r *quant.Report
	if *chunk > 0 {
		r, err = quant.RunParallel(context.Background(), sample, p, *chunk)
		if err != nil {
			return err
		}
	} else {
		r = quant.Run(sample, p)
	}

	fmt.Fprintf(stdout, "[qparams] scale=%g zero_point=%d\n", p.Scale, p.ZeroPoint)
	fmt.Fprint(stdout, "[q]")
	for _, c := range r.Codes {
		fmt.Fprintf(stdout, " %d", c)
	}
	fmt.Fprint(stdout, "\n[x_recon]")
	for _, v := range r.Reconstructed {
		fmt.Fprintf(stdout, " %g", v)
	}
	fmt.Fprintf(stdout, "\n[recon_L2] %g\n", r.L2)
	if n := r.SaturatedCount(); n > 0 {
		fmt.Fprintf(stdout, "[saturated] %d\n", n)
	}

	logger.Debug().
		Int("count", len(sample)).
		Float64("max_abs_error", r.MaxAbsError).
		Uint64("checksum", r.Checksum).
		Msg("round trip complete")

	if *parquetPath != "" {
		f, err := os.Create(*parquetPath)
		if err != nil {
			return err
		}
		if err := storage.WriteReport(f, sample, r); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "[parquet] %s\n", *parquetPath)
	}
	return nil
}
