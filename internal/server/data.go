package server

import (
	"encoding/json"
	"time"

	qerrors "github.com/23skdu/qkernels/internal/errors"
	"github.com/23skdu/qkernels/internal/logging"
	"github.com/23skdu/qkernels/internal/quant"
	"github.com/23skdu/qkernels/internal/storage"
	"github.com/23skdu/qkernels/internal/tensor"
	"github.com/23skdu/qkernels/internal/tracing"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// PutAck is the JSON body of the PutResult sent after a successful DoPut.
type PutAck struct {
	Name      string  `json:"name"`
	Scale     float32 `json:"scale"`
	ZeroPoint int32   `json:"zero_point"`
	Count     int     `json:"count"`
	Saturated int     `json:"saturated"`
	Checksum  uint64  `json:"checksum"`
	RunID     string  `json:"run_id"`
}

// DoPut reads every batch of the stream into one sample, quantizes it with
// params computed over the whole sample and stores the result under the
// descriptor's first path element.
func (s *QuantServer) DoPut(stream flight.FlightService_DoPutServer) (err error) {
	start := time.Now()
	defer func() { err = s.finish("DoPut", start, err) }()

	ctx, span := tracing.Range(stream.Context(), "DoPut")
	defer span.End()

	r, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.mem))
	if err != nil {
		return qerrors.WrapValidationError(err, "do_put", "failed to read record stream")
	}
	defer r.Release()

	fd := r.LatestFlightDescriptor()
	if fd == nil || len(fd.Path) == 0 {
		return qerrors.NewValidationError("do_put", "missing flight descriptor path")
	}
	name := fd.Path[0]
	if err := storage.ValidateName(name); err != nil {
		return err
	}

	var sample []float32
	for r.Next() {
		part, err := tensor.SampleFromRecord(r.Record(), tensor.ColValue)
		if err != nil {
			return err
		}
		sample = append(sample, part...)
	}
	if err := r.Err(); err != nil {
		return qerrors.WrapNetworkError(err, "do_put", "record stream failed")
	}

	if s.opts.StrictInput {
		if err := quant.CheckFinite(sample); err != nil {
			span.SetError(err)
			return err
		}
	}

	p := quant.ComputeParams(sample)
	report, err := quant.RunParallel(ctx, sample, p, s.opts.ParallelChunk)
	if err != nil {
		return qerrors.WrapComputationError(err, "do_put", "quantization interrupted")
	}

	ds := &Dataset{
		Name:      name,
		Sample:    sample,
		Report:    report,
		RunID:     uuid.NewString(),
		CreatedAt: time.Now(),
	}
	s.putDataset(ds)
	span.SetAttributes(
		attribute.String("dataset", name),
		attribute.Int("count", len(sample)),
		attribute.Float64("scale", float64(p.Scale)),
	)

	log := logging.WithTrace(ctx, s.logger)
	log.Info().
		Str("name", name).
		Int("count", len(sample)).
		Float32("scale", p.Scale).
		Int("saturated", report.SaturatedCount()).
		Str("run_id", ds.RunID).
		Msg("dataset quantized")

	body, err := json.Marshal(PutAck{
		Name:      name,
		Scale:     p.Scale,
		ZeroPoint: p.ZeroPoint,
		Count:     len(sample),
		Saturated: report.SaturatedCount(),
		Checksum:  report.Checksum,
		RunID:     ds.RunID,
	})
	if err != nil {
		return err
	}
	return stream.Send(&flight.PutResult{AppMetadata: body})
}

// DoGet streams the stored codec result for the dataset named by the ticket.
// Rows go out in batches that start at ChunkMinRows and double up to
// ChunkMaxRows.
func (s *QuantServer) DoGet(tkt *flight.Ticket, stream flight.FlightService_DoGetServer) (err error) {
	start := time.Now()
	defer func() { err = s.finish("DoGet", start, err) }()

	ctx, span := tracing.Range(stream.Context(), "DoGet")
	defer span.End()

	name := string(tkt.GetTicket())
	if name == "" {
		return qerrors.NewValidationError("do_get", "empty ticket")
	}
	ds, err := s.getDataset(name)
	if err != nil {
		return err
	}

	rec := tensor.NewResultRecord(s.mem, ds.Sample, ds.Report, ds.RunID)
	defer rec.Release()

	w := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(s.mem))
	bounds := chunkBounds(int(rec.NumRows()), newChunkSizer(s.opts.ChunkMinRows, s.opts.ChunkMaxRows, 2))
	for _, b := range bounds {
		if err := ctx.Err(); err != nil {
			_ = w.Close()
			return err
		}
		slice := rec.NewSlice(int64(b[0]), int64(b[1]))
		err := w.Write(slice)
		slice.Release()
		if err != nil {
			_ = w.Close()
			return qerrors.WrapNetworkError(err, "do_get", "failed to write record")
		}
	}
	span.SetAttributes(attribute.String("dataset", name), attribute.Int("batches", len(bounds)))
	return w.Close()
}
