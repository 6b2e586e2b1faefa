package server

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/23skdu/qkernels/internal/cache"
	qerrors "github.com/23skdu/qkernels/internal/errors"
	"github.com/23skdu/qkernels/internal/logging"
	"github.com/23skdu/qkernels/internal/storage"
	"github.com/23skdu/qkernels/internal/tracing"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
)

// Action types served by DoAction.
const (
	ActionParams   = "qparams"
	ActionExport   = "export"
	ActionQuery    = "query"
	ActionQueryIPC = "query_ipc"
	ActionDrop     = "drop"
)

var actionTypes = []flight.ActionType{
	{Type: ActionParams, Description: "body: dataset name; returns {scale, zero_point, count, l2, max_abs_error, saturated}"},
	{Type: ActionExport, Description: "body: dataset name; writes the per-value report as Parquet and returns its path"},
	{Type: ActionQuery, Description: "body: {name, sql}; runs SQL over the exported report, returns JSON rows"},
	{Type: ActionQueryIPC, Description: "body: {name, sql}; like query but returns an Arrow IPC stream"},
	{Type: ActionDrop, Description: "body: dataset name; removes the dataset"},
}

// ParamsResult is the JSON body returned by the qparams action.
type ParamsResult struct {
	Name        string  `json:"name"`
	Scale       float32 `json:"scale"`
	ZeroPoint   int32   `json:"zero_point"`
	Count       int     `json:"count"`
	L2          float64 `json:"l2"`
	MaxAbsError float64 `json:"max_abs_error"`
	Saturated   int     `json:"saturated"`
	Checksum    uint64  `json:"checksum"`
	RunID       string  `json:"run_id"`
}

// QueryRequest is the JSON body of the query actions.
type QueryRequest struct {
	Name string `json:"name"`
	SQL  string `json:"sql"`
}

func (s *QuantServer) ListActions(_ *flight.Empty, stream flight.FlightService_ListActionsServer) error {
	for i := range actionTypes {
		if err := stream.Send(&actionTypes[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *QuantServer) DoAction(action *flight.Action, stream flight.FlightService_DoActionServer) (err error) {
	start := time.Now()
	method := "DoAction"
	if action != nil && knownAction(action.Type) {
		method = "DoAction/" + action.Type
	}
	defer func() { err = s.finish(method, start, err) }()

	if action == nil {
		return qerrors.NewValidationError("do_action", "action is required")
	}
	ctx, span := tracing.Range(stream.Context(), method)
	defer span.End()

	var body []byte
	switch action.Type {
	case ActionParams:
		body, err = s.handleParams(action.Body)
	case ActionExport:
		body, err = s.handleExport(action.Body)
	case ActionQuery:
		body, err = s.handleQuery(ctx, action.Body)
	case ActionQueryIPC:
		body, err = s.handleQueryIPC(ctx, action.Body)
	case ActionDrop:
		body, err = s.handleDrop(action.Body)
	default:
		return qerrors.NewValidationError("do_action", "unknown action: "+action.Type)
	}
	if err != nil {
		span.SetError(err)
		return err
	}
	return stream.Send(&flight.Result{Body: body})
}

func knownAction(t string) bool {
	for i := range actionTypes {
		if actionTypes[i].Type == t {
			return true
		}
	}
	return false
}

func datasetName(body []byte) (string, error) {
	name := strings.TrimSpace(string(body))
	if name == "" {
		return "", qerrors.NewValidationError("do_action", "dataset name is required")
	}
	return name, nil
}

func (s *QuantServer) handleParams(body []byte) ([]byte, error) {
	name, err := datasetName(body)
	if err != nil {
		return nil, err
	}
	ds, err := s.getDataset(name)
	if err != nil {
		return nil, err
	}
	r := ds.Report
	return json.Marshal(ParamsResult{
		Name:        name,
		Scale:       r.Params.Scale,
		ZeroPoint:   r.Params.ZeroPoint,
		Count:       len(r.Codes),
		L2:          r.L2,
		MaxAbsError: r.MaxAbsError,
		Saturated:   r.SaturatedCount(),
		Checksum:    r.Checksum,
		RunID:       ds.RunID,
	})
}

func (s *QuantServer) handleExport(body []byte) ([]byte, error) {
	name, err := datasetName(body)
	if err != nil {
		return nil, err
	}
	ds, err := s.getDataset(name)
	if err != nil {
		return nil, err
	}
	path, err := storage.ExportReport(s.opts.DataPath, name, ds.Sample, ds.Report)
	if err != nil {
		return nil, err
	}
	s.queries.InvalidateDataset(name)
	s.logger.Info().Str("name", name).Str("path", path).Msg("report exported")
	return []byte(path), nil
}

func parseQuery(body []byte) (QueryRequest, error) {
	var req QueryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return req, qerrors.WrapValidationError(err, "do_action", "invalid JSON body")
	}
	if req.Name == "" || req.SQL == "" {
		return req, qerrors.NewValidationError("do_action", "name and sql are required")
	}
	return req, nil
}

func (s *QuantServer) handleQuery(ctx context.Context, body []byte) ([]byte, error) {
	req, err := parseQuery(body)
	if err != nil {
		return nil, err
	}
	key := cache.Key(req.Name, req.SQL)
	if hit, ok := s.queries.Get(key); ok {
		logger := logging.WithTrace(ctx, s.logger)
		logger.Debug().Str("name", req.Name).Int("rows", hit.rows).Msg("analytics query cache hit")
		return hit.body, nil
	}
	gen := s.queries.Generation(req.Name)
	out, rows, err := s.analytics.QueryJSON(ctx, req.Name, req.SQL)
	if err != nil {
		return nil, err
	}
	s.queries.Put(key, req.Name, gen, queryResult{body: out, rows: rows})
	logger := logging.WithTrace(ctx, s.logger)
	logger.Debug().Str("name", req.Name).Int("rows", rows).Msg("analytics query")
	return out, nil
}

func (s *QuantServer) handleQueryIPC(ctx context.Context, body []byte) ([]byte, error) {
	req, err := parseQuery(body)
	if err != nil {
		return nil, err
	}
	rdr, cleanup, err := s.analytics.Query(ctx, req.Name, req.SQL)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(rdr.Schema()))
	for rdr.Next() {
		if err := w.Write(rdr.Record()); err != nil {
			return nil, qerrors.WrapStorageError(err, "query_ipc", "failed to write Arrow record")
		}
	}
	if err := rdr.Err(); err != nil {
		return nil, qerrors.WrapStorageError(err, "query_ipc", "failed to read results")
	}
	if err := w.Close(); err != nil {
		return nil, qerrors.WrapStorageError(err, "query_ipc", "failed to close IPC writer")
	}
	return buf.Bytes(), nil
}

func (s *QuantServer) handleDrop(body []byte) ([]byte, error) {
	name, err := datasetName(body)
	if err != nil {
		return nil, err
	}
	if err := s.dropDataset(name); err != nil {
		return nil, err
	}
	s.queries.InvalidateDataset(name)
	s.logger.Info().Str("name", name).Msg("dataset dropped")
	return []byte("dropped"), nil
}
