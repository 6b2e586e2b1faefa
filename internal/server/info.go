package server

import (
	"context"
	"strings"
	"time"

	qerrors "github.com/23skdu/qkernels/internal/errors"
	"github.com/23skdu/qkernels/internal/quant"
	"github.com/23skdu/qkernels/internal/tensor"
	"github.com/apache/arrow-go/v18/arrow/flight"
)

func (s *QuantServer) flightInfo(ds *Dataset) *flight.FlightInfo {
	schema := tensor.ResultSchema(ds.Report.Params, ds.Report.Checksum, ds.RunID)
	return &flight.FlightInfo{
		Schema: flight.SerializeSchema(schema, s.mem),
		FlightDescriptor: &flight.FlightDescriptor{
			Type: flight.DescriptorPATH,
			Path: []string{ds.Name},
		},
		Endpoint: []*flight.FlightEndpoint{
			{Ticket: &flight.Ticket{Ticket: []byte(ds.Name)}},
		},
		TotalRecords: int64(len(ds.Sample)),
		// One int8 code per value.
		TotalBytes: int64(len(ds.Sample)),
	}
}

// ListFlights sends one FlightInfo per stored dataset. A non-empty criteria
// expression filters by name prefix.
func (s *QuantServer) ListFlights(c *flight.Criteria, stream flight.FlightService_ListFlightsServer) (err error) {
	start := time.Now()
	defer func() { err = s.finish("ListFlights", start, err) }()

	prefix := ""
	if c != nil {
		prefix = string(c.Expression)
	}
	for _, ds := range s.datasetsSorted() {
		if !strings.HasPrefix(ds.Name, prefix) {
			continue
		}
		if err := stream.Send(s.flightInfo(ds)); err != nil {
			return err
		}
	}
	return nil
}

func (s *QuantServer) GetFlightInfo(ctx context.Context, desc *flight.FlightDescriptor) (info *flight.FlightInfo, err error) {
	start := time.Now()
	defer func() { err = s.finish("GetFlightInfo", start, err) }()

	if desc == nil || len(desc.Path) == 0 {
		return nil, qerrors.NewValidationError("get_flight_info", "empty path")
	}
	ds, err := s.getDataset(desc.Path[0])
	if err != nil {
		return nil, err
	}
	return s.flightInfo(ds), nil
}

// GetSchema returns the result schema of a stored dataset.
func (s *QuantServer) GetSchema(ctx context.Context, desc *flight.FlightDescriptor) (res *flight.SchemaResult, err error) {
	start := time.Now()
	defer func() { err = s.finish("GetSchema", start, err) }()

	if desc == nil || len(desc.Path) == 0 {
		return nil, qerrors.NewValidationError("get_schema", "empty path")
	}
	ds, err := s.getDataset(desc.Path[0])
	if err != nil {
		return nil, err
	}
	schema := tensor.ResultSchema(ds.Report.Params, ds.Report.Checksum, ds.RunID)
	return &flight.SchemaResult{Schema: flight.SerializeSchema(schema, s.mem)}, nil
}

// Params returns the params stored for name. Used by in-process callers.
func (s *QuantServer) Params(name string) (quant.Params, error) {
	ds, err := s.getDataset(name)
	if err != nil {
		return quant.Params{}, err
	}
	return ds.Report.Params, nil
}
