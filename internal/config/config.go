package config

import (
	"errors"
	"os"
	"time"

	"github.com/23skdu/qkernels/internal/limiter"
	"github.com/23skdu/qkernels/internal/logging"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "QKERNELS"

// Config validation errors
var (
	ErrInvalidListenAddr    = errors.New("listen_addr cannot be empty")
	ErrInvalidMetricsAddr   = errors.New("metrics_addr cannot be empty")
	ErrInvalidDataPath      = errors.New("data_path cannot be empty")
	ErrInvalidLogFormat     = errors.New("log_format must be 'json' or 'console'")
	ErrInvalidLogLevel      = errors.New("log_level must be debug, info, warn, or error")
	ErrInvalidRateLimit     = errors.New("rate_limit_rps and rate_limit_burst must not be negative")
	ErrInvalidParallelChunk = errors.New("parallel_chunk must be positive")
	ErrInvalidSampleRate    = errors.New("trace_sample_rate must be between 0 and 1")
	ErrInvalidMaxRecvSize   = errors.New("grpc_max_recv_msg_size must be positive")
	ErrInvalidSoftLimit     = errors.New("dataset_soft_limit must not be negative")
	ErrInvalidChunkRows     = errors.New("doget chunk rows must be positive with max >= min")
	ErrInvalidQueryCache    = errors.New("query_cache_size must not be negative and query_cache_ttl must be positive")
)

type Config struct {
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:"0.0.0.0:3000"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:"0.0.0.0:9090"`
	DataPath    string `envconfig:"DATA_PATH" default:"./data"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	RateLimitRPS     int           `envconfig:"RATE_LIMIT_RPS" default:"0"`
	RateLimitBurst   int           `envconfig:"RATE_LIMIT_BURST" default:"0"`
	RateLimitMaxWait time.Duration `envconfig:"RATE_LIMIT_MAX_WAIT" default:"0s"`

	// StrictInput rejects NaN and infinities on DoPut.
	StrictInput   bool `envconfig:"STRICT_INPUT" default:"false"`
	ParallelChunk int  `envconfig:"PARALLEL_CHUNK" default:"65536"`
	// DoGet batch size bounds in rows.
	ChunkMinRows int `envconfig:"DOGET_CHUNK_MIN_ROWS" default:"4096"`
	ChunkMaxRows int `envconfig:"DOGET_CHUNK_MAX_ROWS" default:"65536"`
	// QueryCacheSize bounds cached analytics results. 0 disables.
	QueryCacheSize int           `envconfig:"QUERY_CACHE_SIZE" default:"128"`
	QueryCacheTTL  time.Duration `envconfig:"QUERY_CACHE_TTL" default:"1m"`
	// DatasetSoftLimit marks the server degraded at this many datasets. 0 disables.
	DatasetSoftLimit int `envconfig:"DATASET_SOFT_LIMIT" default:"0"`

	GRPCMaxRecvMsgSize int `envconfig:"GRPC_MAX_RECV_MSG_SIZE" default:"268435456"`

	TraceEnabled    bool    `envconfig:"TRACE_ENABLED" default:"false"`
	OTLPEndpoint    string  `envconfig:"OTLP_ENDPOINT" default:""`
	TraceSampleRate float64 `envconfig:"TRACE_SAMPLE_RATE" default:"1.0"`
}

// DefaultConfig returns a Config with default values
func DefaultConfig() Config {
	return Config{
		ListenAddr:         "0.0.0.0:3000",
		MetricsAddr:        "0.0.0.0:9090",
		DataPath:           "./data",
		LogFormat:          "json",
		LogLevel:           "info",
		ParallelChunk:      64 * 1024,
		ChunkMinRows:       4096,
		ChunkMaxRows:       65536,
		QueryCacheSize:     128,
		QueryCacheTTL:      time.Minute,
		GRPCMaxRecvMsgSize: 256 << 20,
		TraceSampleRate:    1.0,
	}
}

// Load reads envFile (if it exists) into the process environment and then
// parses QKERNELS_* variables. Variables already set win over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return Config{}, err
			}
		}
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate returns the first invalid setting as one of the Err* sentinels.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return ErrInvalidListenAddr
	}
	if c.MetricsAddr == "" {
		return ErrInvalidMetricsAddr
	}
	if c.DataPath == "" {
		return ErrInvalidDataPath
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return ErrInvalidLogFormat
	}
	if c.LogLevel != "debug" && c.LogLevel != "info" && c.LogLevel != "warn" && c.LogLevel != "error" {
		return ErrInvalidLogLevel
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 || c.RateLimitMaxWait < 0 {
		return ErrInvalidRateLimit
	}
	if c.ParallelChunk <= 0 {
		return ErrInvalidParallelChunk
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		return ErrInvalidSampleRate
	}
	if c.GRPCMaxRecvMsgSize <= 0 {
		return ErrInvalidMaxRecvSize
	}
	if c.DatasetSoftLimit < 0 {
		return ErrInvalidSoftLimit
	}
	if c.ChunkMinRows <= 0 || c.ChunkMaxRows < c.ChunkMinRows {
		return ErrInvalidChunkRows
	}
	if c.QueryCacheSize < 0 || c.QueryCacheTTL <= 0 {
		return ErrInvalidQueryCache
	}
	return nil
}

func (c *Config) Logging() logging.Config {
	return logging.Config{Format: c.LogFormat, Level: c.LogLevel}
}

func (c *Config) Limiter() limiter.Config {
	return limiter.Config{RPS: c.RateLimitRPS, Burst: c.RateLimitBurst, MaxWait: c.RateLimitMaxWait}
}
