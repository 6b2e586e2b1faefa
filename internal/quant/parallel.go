package quant

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize is the number of values each worker quantizes at a time.
const DefaultChunkSize = 64 * 1024

// QuantizeParallel produces the same codes as Quantize, splitting sample into
// chunks handled by up to GOMAXPROCS goroutines. Cancellation is checked
// before each chunk; a cancelled context yields ctx.Err() and no codes.
func QuantizeParallel(ctx context.Context, sample []float32, p Params, chunk int) ([]int8, error) {
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	codes := make([]int8, len(sample))
	if len(sample) <= chunk {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		QuantizeInto(codes, sample, p)
		return codes, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for start := 0; start < len(sample); start += chunk {
		end := min(start+chunk, len(sample))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			QuantizeInto(codes[start:end], sample[start:end], p)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return codes, nil
}
