// Package limiter throttles inbound Flight calls with a single token bucket.
package limiter

import (
	"context"
	"time"

	"github.com/23skdu/qkernels/internal/metrics"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Config sizes the bucket. RPS 0 turns limiting off and Burst 0 means RPS.
// MaxWait caps how long a call may queue for a token; 0 leaves that to the
// caller's deadline.
type Config struct {
	RPS     int
	Burst   int
	MaxWait time.Duration
}

type RateLimiter struct {
	bucket  *rate.Limiter
	maxWait time.Duration
}

func NewRateLimiter(cfg Config) *RateLimiter {
	l := &RateLimiter{maxWait: cfg.MaxWait}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = cfg.RPS
		}
		l.bucket = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return l
}

func (l *RateLimiter) Enabled() bool { return l != nil && l.bucket != nil }

// Wait takes one token. A disabled limiter never blocks. When the caller's
// own context ends first its Canceled or DeadlineExceeded code is kept;
// a MaxWait expiry is ResourceExhausted.
func (l *RateLimiter) Wait(ctx context.Context) error {
	if !l.Enabled() {
		return nil
	}
	waitCtx := ctx
	if l.maxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.maxWait)
		defer cancel()
	}

	err := l.bucket.Wait(waitCtx)
	switch {
	case err == nil:
		metrics.RateLimitRequestsTotal.WithLabelValues("allowed").Inc()
		return nil
	case ctx.Err() != nil:
		metrics.RateLimitRequestsTotal.WithLabelValues("cancelled").Inc()
		return status.FromContextError(ctx.Err()).Err()
	default:
		metrics.RateLimitRequestsTotal.WithLabelValues("throttled").Inc()
		return status.Error(codes.ResourceExhausted, "rate limit exceeded")
	}
}

func (l *RateLimiter) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := l.Wait(ctx); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamInterceptor charges a stream once when it opens. Messages on an
// admitted stream are free.
func (l *RateLimiter) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := l.Wait(ss.Context()); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}
