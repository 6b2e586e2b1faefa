package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/23skdu/qkernels/internal/kernels"
	"github.com/23skdu/qkernels/internal/logging"
	"github.com/rs/zerolog"
)

func main() {
	logger, err := logging.NewLogger(logging.Config{Format: "console", Level: "info", Output: os.Stderr})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := run(os.Args[1:], os.Stdout, logger); err != nil {
		logger.Error().Err(err).Msg("memcpy demo failed")
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer, logger zerolog.Logger) error {
	fs := flag.NewFlagSet("memcpy", flag.ContinueOnError)
	n := fs.Int("n", 1<<20, "Number of float32 values to copy")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *n <= 0 {
		return fmt.Errorf("n must be positive, got %d", *n)
	}

	a := make([]float32, *n)
	b := make([]float32, *n)
	for i := range a {
		a[i] = float32(i)
	}

	var copied int
	d := kernels.Time("copy_unrolled", func() {
		copied = kernels.CopyUnrolled(b, a)
	})
	logger.Debug().Int("copied", copied).Msg("copy done")

	fmt.Fprintf(stdout, "[memcpy_opt] time(ms): %g\n", kernels.Milliseconds(d))
	fmt.Fprintf(stdout, "b[0]=%g, b[N-1]=%g\n", b[0], b[*n-1])
	return nil
}
