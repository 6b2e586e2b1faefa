package server

import (
	"sort"
	"sync"
	"time"

	"github.com/23skdu/qkernels/internal/cache"
	qerrors "github.com/23skdu/qkernels/internal/errors"
	"github.com/23skdu/qkernels/internal/logging"
	"github.com/23skdu/qkernels/internal/metrics"
	"github.com/23skdu/qkernels/internal/quant"
	"github.com/23skdu/qkernels/internal/storage"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
)

// Options configures a QuantServer.
type Options struct {
	// DataPath is where exported reports are written.
	DataPath string
	// StrictInput rejects samples containing NaN or infinities.
	StrictInput bool
	// ParallelChunk is the chunk size for parallel quantization.
	ParallelChunk int
	// ChunkMinRows and ChunkMaxRows bound the DoGet batch sizes.
	ChunkMinRows int
	ChunkMaxRows int
	// QueryCacheSize bounds the number of cached "query" results; 0 disables.
	QueryCacheSize int
	QueryCacheTTL  time.Duration
	Allocator      memory.Allocator
}

type queryResult struct {
	body []byte
	rows int
}

// Dataset is a quantized sample held in memory under its name.
type Dataset struct {
	Name      string
	Sample    []float32
	Report    *quant.Report
	RunID     string
	CreatedAt time.Time
}

// QuantServer serves the int8 codec over Arrow Flight.
type QuantServer struct {
	flight.BaseFlightServer

	opts      Options
	mem       memory.Allocator
	logger    zerolog.Logger
	analytics *storage.Analytics
	queries   *cache.QueryCache[queryResult]

	mu       sync.RWMutex
	datasets map[string]*Dataset
}

func NewQuantServer(opts Options, logger zerolog.Logger) *QuantServer {
	if opts.Allocator == nil {
		opts.Allocator = memory.NewGoAllocator()
	}
	if opts.ParallelChunk <= 0 {
		opts.ParallelChunk = quant.DefaultChunkSize
	}
	if opts.ChunkMinRows <= 0 {
		opts.ChunkMinRows = DefaultChunkMinRows
	}
	if opts.ChunkMaxRows <= 0 {
		opts.ChunkMaxRows = DefaultChunkMaxRows
	}
	if opts.QueryCacheTTL <= 0 {
		opts.QueryCacheTTL = time.Minute
	}
	return &QuantServer{
		opts:      opts,
		mem:       opts.Allocator,
		logger:    logging.WithComponent(logger, "quant_server"),
		analytics: storage.NewAnalytics(opts.DataPath),
		queries:   cache.NewQueryCache[queryResult](opts.QueryCacheSize, opts.QueryCacheTTL),
		datasets:  make(map[string]*Dataset),
	}
}

func (s *QuantServer) putDataset(ds *Dataset) {
	s.mu.Lock()
	s.datasets[ds.Name] = ds
	n := len(s.datasets)
	s.mu.Unlock()
	metrics.DatasetsStored.Set(float64(n))
}

func (s *QuantServer) getDataset(name string) (*Dataset, error) {
	s.mu.RLock()
	ds, ok := s.datasets[name]
	s.mu.RUnlock()
	if !ok {
		return nil, qerrors.NewNotFoundError("get_dataset", "dataset not found: "+name).
			WithContext("name", name)
	}
	return ds, nil
}

func (s *QuantServer) dropDataset(name string) error {
	s.mu.Lock()
	_, ok := s.datasets[name]
	delete(s.datasets, name)
	n := len(s.datasets)
	s.mu.Unlock()
	if !ok {
		return qerrors.NewNotFoundError("drop_dataset", "dataset not found: "+name)
	}
	metrics.DatasetsStored.Set(float64(n))
	return nil
}

// DatasetCount returns how many datasets are stored.
func (s *QuantServer) DatasetCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.datasets)
}

// datasetsSorted returns a snapshot of stored datasets ordered by name.
func (s *QuantServer) datasetsSorted() []*Dataset {
	s.mu.RLock()
	out := make([]*Dataset, 0, len(s.datasets))
	for _, ds := range s.datasets {
		out = append(out, ds)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// finish records the call outcome and converts err to a gRPC status.
func (s *QuantServer) finish(method string, start time.Time, err error) error {
	metrics.FlightDurationSeconds.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FlightOperationsTotal.WithLabelValues(method, "error").Inc()
		s.logger.Warn().Err(err).Str("method", method).Msg("flight call failed")
		return qerrors.ToGRPCStatus(err)
	}
	metrics.FlightOperationsTotal.WithLabelValues(method, "ok").Inc()
	return nil
}
