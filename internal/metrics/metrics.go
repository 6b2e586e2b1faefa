package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QuantizeCallsTotal counts codec invocations by operation (compute_params, quantize, dequantize)
	QuantizeCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qkernels_quantize_calls_total",
			Help: "Total number of quantization codec calls",
		},
		[]string{"op"},
	)

	// QuantizeValuesTotal counts values passed through the codec
	QuantizeValuesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qkernels_quantize_values_total",
			Help: "Total number of values processed by the quantization codec",
		},
		[]string{"op"},
	)

	// QuantizeSaturatedTotal counts values clamped to the symmetric int8 boundary
	QuantizeSaturatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qkernels_quantize_saturated_total",
			Help: "Total number of values whose rounded code was saturated to +/-127",
		},
	)

	// QuantizeScale tracks the distribution of computed scales
	QuantizeScale = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qkernels_quantize_scale",
			Help:    "Scale factors produced by parameter computation",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 12),
		},
	)

	// ReconstructionL2 tracks squared L2 reconstruction error per report
	ReconstructionL2 = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qkernels_reconstruction_l2",
			Help:    "Squared L2 error between a sample and its reconstruction",
			Buckets: prometheus.ExponentialBuckets(1e-8, 10, 12),
		},
	)

	// KernelDurationSeconds measures kernel execution time
	KernelDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qkernels_kernel_duration_seconds",
			Help:    "Duration of CPU kernel executions",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 14),
		},
		[]string{"kernel"},
	)

	// FlightOperationsTotal counts Flight operations
	FlightOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qkernels_flight_operations_total",
			Help: "The total number of processed Arrow Flight operations",
		},
		[]string{"method", "status"},
	)

	// FlightDurationSeconds measures the latency of Flight operations
	FlightDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qkernels_flight_duration_seconds",
			Help:    "Duration of Arrow Flight operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// DatasetsStored is the number of quantized datasets held by the Flight service
	DatasetsStored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qkernels_datasets_stored",
			Help: "Number of quantized datasets currently held in memory",
		},
	)

	// ReportExportsTotal counts Parquet report exports
	ReportExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qkernels_report_exports_total",
			Help: "Total number of Parquet report exports",
		},
		[]string{"status"},
	)

	// RateLimitRequestsTotal counts requests seen by the rate limiter
	RateLimitRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qkernels_rate_limit_requests_total",
			Help: "Total requests processed by the rate limiter",
		},
		[]string{"result"},
	)

	// LogEntriesTotal counts log entries by level
	LogEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qkernels_log_entries_total",
			Help: "Total number of log entries by level",
		},
		[]string{"level"},
	)

	// HealthCheckDurationSeconds measures each component health check
	HealthCheckDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qkernels_health_check_duration_seconds",
			Help:    "Duration of component health checks",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"component"},
	)

	// HealthStatus is the last observed component status (1=healthy, 0.5=degraded, 0=unhealthy)
	HealthStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qkernels_health_status",
			Help: "Component health status (1=healthy, 0.5=degraded, 0=unhealthy)",
		},
		[]string{"component"},
	)

	// CircuitBreakerState is the state of each named breaker (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qkernels_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// CircuitBreakerRejectionsTotal counts calls refused by an open breaker
	CircuitBreakerRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qkernels_circuit_breaker_rejections_total",
			Help: "Calls rejected because a circuit breaker was open",
		},
		[]string{"name"},
	)

	// QueryCacheRequestsTotal counts analytics cache lookups by result (hit, miss)
	QueryCacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qkernels_query_cache_requests_total",
			Help: "Analytics query cache lookups by result",
		},
		[]string{"result"},
	)

	// QueryCacheEvictionsTotal counts entries evicted for capacity
	QueryCacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qkernels_query_cache_evictions_total",
			Help: "Analytics query cache entries evicted for capacity",
		},
	)

	// QueryCacheSize is the number of cached analytics results
	QueryCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qkernels_query_cache_size",
			Help: "Number of cached analytics query results",
		},
	)
)
