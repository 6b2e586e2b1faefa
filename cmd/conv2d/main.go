package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/23skdu/qkernels/internal/kernels"
	"github.com/23skdu/qkernels/internal/logging"
	"github.com/rs/zerolog"
)

var (
	demoInput  = [][]float32{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}}
	demoKernel = [][]float32{{1, 0}, {0, -1}}
)

func main() {
	logger, err := logging.NewLogger(logging.Config{Format: "console", Level: "info", Output: os.Stderr})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := run(os.Args[1:], os.Stdout, logger); err != nil {
		logger.Error().Err(err).Msg("conv2d demo failed")
		os.Exit(1)
	}
}

func parseMatrix(s string, def [][]float32) ([][]float32, error) {
	if s == "" {
		return def, nil
	}
	var m [][]float32
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("invalid matrix %q: %w", s, err)
	}
	return m, nil
}

func run(args []string, stdout io.Writer, logger zerolog.Logger) error {
	fs := flag.NewFlagSet("conv2d", flag.ContinueOnError)
	input := fs.String("input", "", "Input matrix as JSON, e.g. [[1,2],[3,4]] (default: 3x3 of 1..9)")
	kernel := fs.String("kernel", "", "Kernel matrix as JSON (default: [[1,0],[0,-1]])")
	if err := fs.Parse(args); err != nil {
		return err
	}

	in, err := parseMatrix(*input, demoInput)
	if err != nil {
		return err
	}
	k, err := parseMatrix(*kernel, demoKernel)
	if err != nil {
		return err
	}

	var out [][]float32
	d := kernels.Time("conv2d", func() {
		out, err = kernels.Conv2D(in, k)
	})
	if err != nil {
		return err
	}
	logger.Debug().Float64("ms", kernels.Milliseconds(d)).Msg("conv2d done")

	fmt.Fprintln(stdout, "[conv2d] out:")
	for _, row := range out {
		for _, v := range row {
			fmt.Fprintf(stdout, "%g ", v)
		}
		fmt.Fprintln(stdout)
	}
	return nil
}
