package health

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/23skdu/qkernels/internal/metrics"
	"github.com/23skdu/qkernels/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Status of a component or of the whole process.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) value() float64 {
	switch s {
	case StatusHealthy:
		return 1
	case StatusDegraded:
		return 0.5
	}
	return 0
}

type ComponentHealth struct {
	Name        string                 `json:"name"`
	Status      Status                 `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

type SystemHealth struct {
	Status        Status                      `json:"status"`
	Timestamp     time.Time                   `json:"timestamp"`
	Uptime        string                      `json:"uptime"`
	Version       string                      `json:"version"`
	GoVersion     string                      `json:"go_version"`
	NumGoroutines int                         `json:"num_goroutines"`
	HeapAlloc     uint64                      `json:"heap_alloc_bytes"`
	Components    map[string]*ComponentHealth `json:"components"`
	CheckCount    int64                       `json:"check_count"`
}

// Checker reports the health of one component.
type Checker interface {
	Name() string
	Check(ctx context.Context) *ComponentHealth
}

// Manager runs registered checkers and aggregates their status.
type Manager struct {
	startTime  time.Time
	version    string
	logger     zerolog.Logger
	checkCount atomic.Int64

	mu       sync.RWMutex
	checkers []Checker
}

func NewManager(version string, logger zerolog.Logger) *Manager {
	return &Manager{
		startTime: time.Now(),
		version:   version,
		logger:    logger,
	}
}

func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	m.checkers = append(m.checkers, c)
	m.mu.Unlock()
	m.logger.Debug().Str("component", c.Name()).Msg("Registered health checker")
}

// Check runs every checker. The overall status is the worst component status.
func (m *Manager) Check(ctx context.Context) *SystemHealth {
	ctx, span := tracing.Range(ctx, "health.Check")
	defer span.End()

	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	m.mu.RUnlock()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	h := &SystemHealth{
		Status:        StatusHealthy,
		Timestamp:     time.Now(),
		Uptime:        time.Since(m.startTime).Round(time.Second).String(),
		Version:       m.version,
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		HeapAlloc:     ms.HeapAlloc,
		Components:    make(map[string]*ComponentHealth, len(checkers)),
		CheckCount:    m.checkCount.Add(1),
	}

	for _, c := range checkers {
		start := time.Now()
		ch := c.Check(ctx)
		metrics.HealthCheckDurationSeconds.WithLabelValues(c.Name()).Observe(time.Since(start).Seconds())
		metrics.HealthStatus.WithLabelValues(c.Name()).Set(ch.Status.value())

		h.Components[c.Name()] = ch
		switch {
		case ch.Status == StatusUnhealthy:
			h.Status = StatusUnhealthy
		case ch.Status == StatusDegraded && h.Status == StatusHealthy:
			h.Status = StatusDegraded
		}
	}

	span.SetAttributes(
		attribute.String("health.status", string(h.Status)),
		attribute.Int("health.components", len(checkers)),
	)
	if h.Status != StatusHealthy {
		m.logger.Warn().Str("status", string(h.Status)).Msg("Health check not healthy")
	}
	return h
}

// Handler serves the health report as JSON, with 503 when unhealthy.
func (m *Manager) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := m.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if h.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(h); err != nil {
			http.Error(w, "Failed to encode health response", http.StatusInternalServerError)
		}
	})
}
