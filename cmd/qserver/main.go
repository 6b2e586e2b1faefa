package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/23skdu/qkernels/internal/config"
	"github.com/23skdu/qkernels/internal/health"
	"github.com/23skdu/qkernels/internal/limiter"
	"github.com/23skdu/qkernels/internal/logging"
	"github.com/23skdu/qkernels/internal/server"
	"github.com/23skdu/qkernels/internal/tracing"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
)

const version = "0.1.0"

func main() {
	envFile := flag.String("env", ".env", "Optional dotenv file read before the environment")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.NewLogger(cfg.Logging())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TraceEnabled {
		shutdown, err := tracing.Init(ctx, tracing.SpanConfig{
			ServiceName:    "qserver",
			ServiceVersion: version,
			SampleRate:     cfg.TraceSampleRate,
			OTLPEndpoint:   cfg.OTLPEndpoint,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to init tracing")
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
	}

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Fatal().Err(err).Str("address", cfg.ListenAddr).Msg("Failed to listen")
	}

	logger.Info().
		Str("address", cfg.ListenAddr).
		Str("data_path", cfg.DataPath).
		Bool("strict_input", cfg.StrictInput).
		Int("rate_limit_rps", cfg.RateLimitRPS).
		Msg("Quantization Flight server starting")

	if err := run(ctx, cfg, logger, lis, startMetrics); err != nil {
		logger.Error().Err(err).Msg("Server stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("Server stopped")
}

// startMetrics serves /metrics and /healthz on addr.
func startMetrics(addr string, hm *health.Manager, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", hm.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info().Str("address", addr).Msg("Starting metrics server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	return srv
}

// newGRPCServer builds the gRPC server with rate limiting in front of the
// Flight service.
func newGRPCServer(cfg config.Config, logger zerolog.Logger) (*grpc.Server, *server.QuantServer) {
	rl := limiter.NewRateLimiter(cfg.Limiter())
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(tracing.UnaryServerInterceptor(), rl.UnaryInterceptor()),
		grpc.ChainStreamInterceptor(tracing.StreamServerInterceptor(), rl.StreamInterceptor()),
		grpc.MaxRecvMsgSize(cfg.GRPCMaxRecvMsgSize),
	)

	qs := server.NewQuantServer(server.Options{
		DataPath:       cfg.DataPath,
		StrictInput:    cfg.StrictInput,
		ParallelChunk:  cfg.ParallelChunk,
		ChunkMinRows:   cfg.ChunkMinRows,
		ChunkMaxRows:   cfg.ChunkMaxRows,
		QueryCacheSize: cfg.QueryCacheSize,
		QueryCacheTTL:  cfg.QueryCacheTTL,
		Allocator:      memory.NewGoAllocator(),
	}, logger)
	flight.RegisterFlightServiceServer(s, qs)
	return s, qs
}

type metricsStarter func(addr string, hm *health.Manager, logger zerolog.Logger) *http.Server

// run serves on lis until ctx is done, then stops gracefully. startHTTP may
// be nil to skip the metrics and health endpoint.
func run(ctx context.Context, cfg config.Config, logger zerolog.Logger, lis net.Listener, startHTTP metricsStarter) error {
	s, qs := newGRPCServer(cfg, logger)

	hm := health.NewManager(version, logger)
	hm.Register(health.NewDataPathChecker(cfg.DataPath))
	hm.Register(health.NewDatasetChecker(qs.DatasetCount, cfg.DatasetSoftLimit))
	if startHTTP != nil {
		httpSrv := startHTTP(cfg.MetricsAddr, hm, logger)
		defer func() { _ = httpSrv.Close() }()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(lis) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
		s.GracefulStop()
		<-errCh
		return nil
	}
}
