package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/23skdu/qkernels/client"
	"github.com/google/uuid"
	"google.golang.org/grpc"
)

type benchConfig struct {
	Addr        string
	Duration    time.Duration
	Concurrency int
	Mode        string
	Size        int
}

func main() {
	var cfg benchConfig
	flag.StringVar(&cfg.Addr, "addr", "127.0.0.1:3000", "Quantization server address")
	flag.DurationVar(&cfg.Duration, "duration", 10*time.Second, "Duration of the benchmark")
	flag.IntVar(&cfg.Concurrency, "concurrency", 1, "Number of concurrent workers")
	flag.StringVar(&cfg.Mode, "mode", "put", "Benchmark mode: 'put' or 'get'")
	flag.IntVar(&cfg.Size, "size", 4096, "Values per uploaded sample")
	flag.Parse()

	fmt.Printf("Starting benchmark:\n")
	fmt.Printf("  Mode:        %s\n", cfg.Mode)
	fmt.Printf("  Server:      %s\n", cfg.Addr)
	fmt.Printf("  Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("  Duration:    %s\n", cfg.Duration)
	fmt.Printf("  Sample Size: %d\n", cfg.Size)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration+5*time.Second)
	defer cancel()

	res, err := runBench(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	res.print(os.Stdout)
}

// runBench drives cfg.Concurrency workers against the server until
// cfg.Duration elapses.
func runBench(ctx context.Context, cfg benchConfig, dialOpts ...grpc.DialOption) (*results, error) {
	if cfg.Mode != "put" && cfg.Mode != "get" {
		return nil, fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
	if cfg.Concurrency <= 0 || cfg.Size < 0 {
		return nil, fmt.Errorf("concurrency must be positive and size non-negative")
	}

	// get mode reads back one dataset uploaded up front.
	const getTarget = "bench_get"
	if cfg.Mode == "get" {
		c, err := client.NewQuantClient(cfg.Addr, dialOpts...)
		if err != nil {
			return nil, err
		}
		_, err = c.Put(ctx, getTarget, randomSample(rand.New(rand.NewSource(1)), cfg.Size))
		_ = c.Close()
		if err != nil {
			return nil, fmt.Errorf("seeding get target: %w", err)
		}
	}

	res := &results{}
	start := time.Now()
	end := start.Add(cfg.Duration)
	var wg sync.WaitGroup

	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			c, err := client.NewQuantClient(cfg.Addr, dialOpts...)
			if err != nil {
				res.errors.Add(1)
				return
			}
			defer func() { _ = c.Close() }()

			rng := rand.New(rand.NewSource(int64(id) + 1))
			name := "bench_" + uuid.NewString()[:8]

			for time.Now().Before(end) && ctx.Err() == nil {
				t0 := time.Now()
				if cfg.Mode == "put" {
					_, err = c.Put(ctx, name, randomSample(rng, cfg.Size))
				} else {
					_, err = c.Get(ctx, getTarget)
				}
				res.latency.record(time.Since(t0))

				if err != nil {
					res.errors.Add(1)
				} else {
					res.ops.Add(1)
				}
			}
		}(i)
	}

	wg.Wait()
	res.elapsed = time.Since(start)
	return res, nil
}

func randomSample(rng *rand.Rand, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(rng.NormFloat64())
	}
	return out
}

type latency struct {
	totalNs atomic.Int64
	count   atomic.Int64
	maxNs   atomic.Int64
}

func (l *latency) record(d time.Duration) {
	ns := d.Nanoseconds()
	l.totalNs.Add(ns)
	l.count.Add(1)
	for {
		current := l.maxNs.Load()
		if ns <= current || l.maxNs.CompareAndSwap(current, ns) {
			return
		}
	}
}

type results struct {
	elapsed time.Duration
	ops     atomic.Int64
	errors  atomic.Int64
	latency latency
}

func (r *results) print(w io.Writer) {
	seconds := r.elapsed.Seconds()
	var throughput float64
	if seconds > 0 {
		throughput = float64(r.ops.Load()) / seconds
	}
	var avg time.Duration
	if n := r.latency.count.Load(); n > 0 {
		avg = time.Duration(r.latency.totalNs.Load() / n)
	}

	fmt.Fprintln(w, "\n--- Results ---")
	fmt.Fprintf(w, "Elapsed:     %.2fs\n", seconds)
	fmt.Fprintf(w, "Total Ops:   %d\n", r.ops.Load())
	fmt.Fprintf(w, "Errors:      %d\n", r.errors.Load())
	fmt.Fprintf(w, "Throughput:  %.2f ops/sec\n", throughput)
	fmt.Fprintf(w, "Avg Latency: %v\n", avg)
	fmt.Fprintf(w, "Max Latency: %v\n", time.Duration(r.latency.maxNs.Load()))
}
