package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net"
	"path/filepath"
	"testing"

	"github.com/23skdu/qkernels/internal/tensor"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

var demoSample = []float32{-1.0, -0.5, 0.0, 0.5, 1.0, 2.0, -3.0}

type testEnv struct {
	srv     *QuantServer
	client  flight.Client
	dataDir string
}

func setupServer(t *testing.T, strict bool) *testEnv {
	t.Helper()
	return setupServerWithOptions(t, Options{StrictInput: strict, ParallelChunk: 4})
}

func setupServerWithOptions(t *testing.T, opts Options) *testEnv {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	dataDir := t.TempDir()
	opts.DataPath = dataDir

	srv := NewQuantServer(opts, zerolog.Nop())

	s := grpc.NewServer()
	flight.RegisterFlightServiceServer(s, srv)
	go func() { _ = s.Serve(lis) }()

	client, err := flight.NewClientWithMiddleware(
		"passthrough:///bufnet",
		nil,
		nil,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
		s.Stop()
		_ = lis.Close()
	})
	return &testEnv{srv: srv, client: client, dataDir: dataDir}
}

func float32Record(t *testing.T, values []float32) arrow.Record {
	t.Helper()
	return tensor.NewSampleRecord(memory.NewGoAllocator(), values)
}

// put uploads recs under name and returns the decoded ack.
func (e *testEnv) put(t *testing.T, name string, recs ...arrow.Record) (PutAck, error) {
	t.Helper()
	stream, err := e.client.DoPut(context.Background())
	require.NoError(t, err)

	w := flight.NewRecordWriter(stream, ipc.WithSchema(recs[0].Schema()))
	if name != "" {
		w.SetFlightDescriptor(&flight.FlightDescriptor{Type: flight.DescriptorPATH, Path: []string{name}})
	}
	// Write errors mean the server already failed the call; Recv reports why.
	for _, rec := range recs {
		_ = w.Write(rec)
		rec.Release()
	}
	_ = w.Close()
	_ = stream.CloseSend()

	var ack PutAck
	res, err := stream.Recv()
	if err != nil {
		return ack, err
	}
	require.NoError(t, json.Unmarshal(res.AppMetadata, &ack))
	// Drain until the server closes the stream.
	for {
		if _, err := stream.Recv(); err != nil {
			if err != io.EOF {
				return ack, err
			}
			break
		}
	}
	return ack, nil
}

func (e *testEnv) get(t *testing.T, name string) (arrow.Record, error) {
	t.Helper()
	stream, err := e.client.DoGet(context.Background(), &flight.Ticket{Ticket: []byte(name)})
	require.NoError(t, err)

	rdr, err := flight.NewRecordReader(stream)
	if err != nil {
		return nil, err
	}
	defer rdr.Release()

	require.True(t, rdr.Next(), "expected one record")
	rec := rdr.Record()
	rec.Retain()
	return rec, nil
}

func (e *testEnv) action(t *testing.T, typ string, body []byte) ([]byte, error) {
	t.Helper()
	stream, err := e.client.DoAction(context.Background(), &flight.Action{Type: typ, Body: body})
	require.NoError(t, err)
	res, err := stream.Recv()
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}

func TestDoPutDoGet_DemoSample(t *testing.T) {
	env := setupServer(t, false)

	ack, err := env.put(t, "demo", float32Record(t, demoSample))
	require.NoError(t, err)
	assert.Equal(t, "demo", ack.Name)
	assert.Equal(t, 7, ack.Count)
	assert.InDelta(t, 42.333, ack.Scale, 1e-3)
	assert.Equal(t, int32(0), ack.ZeroPoint)
	assert.NotEmpty(t, ack.RunID)

	rec, err := env.get(t, "demo")
	require.NoError(t, err)
	defer rec.Release()

	codes, err := tensor.CodesFromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, []int8{-42, -21, 0, 21, 42, 85, -127}, codes)

	p, err := tensor.ParamsFromSchema(rec.Schema())
	require.NoError(t, err)
	assert.Equal(t, ack.Scale, p.Scale)
	assert.Equal(t, ack.RunID, tensor.MetadataValue(rec.Schema(), tensor.MetaRunID))

	recon := rec.Column(3).(*array.Float32).Float32Values()
	assert.Equal(t, float32(-3.0), recon[6])
	idx := rec.Column(0).(*array.Int32).Int32Values()
	assert.Equal(t, []int32{0, 1, 2, 3, 4, 5, 6}, idx)
}

func TestDoPut_ConcatenatesBatches(t *testing.T) {
	env := setupServer(t, false)

	ack, err := env.put(t, "multi", float32Record(t, []float32{1, 2}), float32Record(t, []float32{-4}))
	require.NoError(t, err)
	assert.Equal(t, 3, ack.Count)
	assert.Equal(t, float32(31.75), ack.Scale)

	rec, err := env.get(t, "multi")
	require.NoError(t, err)
	defer rec.Release()
	codes, err := tensor.CodesFromRecord(rec)
	require.NoError(t, err)
	// 2*31.75 = 63.5 rounds to even.
	assert.Equal(t, []int8{32, 64, -127}, codes)
}

func TestDoPut_Float64ValueColumn(t *testing.T) {
	env := setupServer(t, false)

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "value", Type: arrow.PrimitiveTypes.Float64},
	}, nil)
	b := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer b.Release()
	b.Field(0).(*array.Int64Builder).AppendValues([]int64{1, 2}, nil)
	b.Field(1).(*array.Float64Builder).AppendValues([]float64{5, -2.5}, nil)

	ack, err := env.put(t, "wide", b.NewRecord())
	require.NoError(t, err)
	assert.Equal(t, 2, ack.Count)
	assert.InDelta(t, 25.4, ack.Scale, 1e-5)
}

func TestDoPut_StrictRejectsNonFinite(t *testing.T) {
	env := setupServer(t, true)

	_, err := env.put(t, "bad", float32Record(t, []float32{1, float32(math.NaN())}))
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = env.get(t, "bad")
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestDoPut_LenientAcceptsInfinity(t *testing.T) {
	env := setupServer(t, false)

	ack, err := env.put(t, "inf", float32Record(t, []float32{1, float32(math.Inf(1))}))
	require.NoError(t, err)
	assert.Equal(t, 2, ack.Count)
}

func TestDoPut_InvalidName(t *testing.T) {
	env := setupServer(t, false)

	_, err := env.put(t, "not-valid", float32Record(t, demoSample))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = env.put(t, "", float32Record(t, demoSample))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestDoGet_Unknown(t *testing.T) {
	env := setupServer(t, false)
	_, err := env.get(t, "missing")
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestDoAction_ParamsAndDrop(t *testing.T) {
	env := setupServer(t, false)
	_, err := env.put(t, "demo", float32Record(t, demoSample))
	require.NoError(t, err)

	body, err := env.action(t, ActionParams, []byte("demo"))
	require.NoError(t, err)
	var res ParamsResult
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, 7, res.Count)
	assert.Zero(t, res.Saturated)
	assert.LessOrEqual(t, res.MaxAbsError, 1/float64(res.Scale))

	p, err := env.srv.Params("demo")
	require.NoError(t, err)
	assert.Equal(t, p.Scale, res.Scale)

	body, err = env.action(t, ActionDrop, []byte("demo"))
	require.NoError(t, err)
	assert.Equal(t, "dropped", string(body))

	_, err = env.action(t, ActionParams, []byte("demo"))
	assert.Equal(t, codes.NotFound, status.Code(err))
	_, err = env.action(t, ActionDrop, []byte("demo"))
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestDoAction_Errors(t *testing.T) {
	env := setupServer(t, false)

	_, err := env.action(t, "nope", nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = env.action(t, ActionParams, []byte("  "))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = env.action(t, ActionQuery, []byte("{not json"))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = env.action(t, ActionQuery, []byte(`{"name":"x"}`))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestDoAction_ExportAndQuery(t *testing.T) {
	env := setupServer(t, false)
	_, err := env.put(t, "demo", float32Record(t, demoSample))
	require.NoError(t, err)

	_, err = env.action(t, ActionQuery, []byte(`{"name":"demo","sql":"SELECT 1"}`))
	assert.Equal(t, codes.NotFound, status.Code(err), "query before export")

	body, err := env.action(t, ActionExport, []byte("demo"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.dataDir, "reports", "demo.parquet"), string(body))

	if testing.Short() {
		t.Skip("duckdb query skipped in short mode")
	}

	body, err = env.action(t, ActionQuery, []byte(`{"name":"demo","sql":"SELECT COUNT(*) AS n FROM demo WHERE code < 0"}`))
	require.NoError(t, err)
	var row map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(body), &row))
	assert.EqualValues(t, 3, row["n"])

	body, err = env.action(t, ActionQueryIPC, []byte(`{"name":"demo","sql":"SELECT value, code FROM demo ORDER BY value"}`))
	require.NoError(t, err)
	rdr, err := ipc.NewReader(bytes.NewReader(body))
	require.NoError(t, err)
	defer rdr.Release()

	var rows int64
	for rdr.Next() {
		rows += rdr.Record().NumRows()
	}
	assert.Equal(t, int64(7), rows)
}

func TestListFlightsAndGetFlightInfo(t *testing.T) {
	env := setupServer(t, false)
	for _, name := range []string{"b_set", "a_set", "other"} {
		_, err := env.put(t, name, float32Record(t, demoSample))
		require.NoError(t, err)
	}

	list := func(expr string) []string {
		stream, err := env.client.ListFlights(context.Background(), &flight.Criteria{Expression: []byte(expr)})
		require.NoError(t, err)
		var names []string
		for {
			info, err := stream.Recv()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			assert.Equal(t, int64(7), info.TotalRecords)
			names = append(names, info.FlightDescriptor.Path[0])
		}
		return names
	}
	assert.Equal(t, []string{"a_set", "b_set", "other"}, list(""))
	assert.Equal(t, []string{"a_set"}, list("a_"))

	info, err := env.client.GetFlightInfo(context.Background(),
		&flight.FlightDescriptor{Type: flight.DescriptorPATH, Path: []string{"other"}})
	require.NoError(t, err)
	require.Len(t, info.Endpoint, 1)
	assert.Equal(t, []byte("other"), info.Endpoint[0].Ticket.Ticket)

	schema, err := flight.DeserializeSchema(info.Schema, memory.NewGoAllocator())
	require.NoError(t, err)
	p, err := tensor.ParamsFromSchema(schema)
	require.NoError(t, err)
	assert.InDelta(t, 42.333, p.Scale, 1e-3)

	_, err = env.client.GetFlightInfo(context.Background(),
		&flight.FlightDescriptor{Type: flight.DescriptorPATH, Path: []string{"missing"}})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestListActions(t *testing.T) {
	env := setupServer(t, false)
	stream, err := env.client.ListActions(context.Background(), &flight.Empty{})
	require.NoError(t, err)

	var types []string
	for {
		at, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		types = append(types, at.Type)
	}
	assert.ElementsMatch(t, []string{ActionParams, ActionExport, ActionQuery, ActionQueryIPC, ActionDrop}, types)
}

func TestDoGet_StreamsGrowingBatches(t *testing.T) {
	env := setupServerWithOptions(t, Options{ChunkMinRows: 2, ChunkMaxRows: 4})

	sample := make([]float32, 11)
	for i := range sample {
		sample[i] = float32(i) - 5
	}
	_, err := env.put(t, "batched", float32Record(t, sample))
	require.NoError(t, err)

	stream, err := env.client.DoGet(context.Background(), &flight.Ticket{Ticket: []byte("batched")})
	require.NoError(t, err)
	rdr, err := flight.NewRecordReader(stream)
	require.NoError(t, err)
	defer rdr.Release()

	var sizes []int64
	var codes []int8
	for rdr.Next() {
		rec := rdr.Record()
		sizes = append(sizes, rec.NumRows())
		got, err := tensor.CodesFromRecord(rec)
		require.NoError(t, err)
		codes = append(codes, got...)
	}
	require.NoError(t, rdr.Err())

	assert.Equal(t, []int64{2, 4, 4, 1}, sizes)
	require.Len(t, codes, len(sample))
	assert.Equal(t, int8(-127), codes[0])
	assert.Equal(t, int8(0), codes[5])
}

func TestDoAction_QueryCacheInvalidatedOnExport(t *testing.T) {
	if testing.Short() {
		t.Skip("duckdb query skipped in short mode")
	}
	env := setupServerWithOptions(t, Options{QueryCacheSize: 8})

	count := func() float64 {
		body, err := env.action(t, ActionQuery, []byte(`{"name":"demo","sql":"SELECT COUNT(*) AS n FROM demo"}`))
		require.NoError(t, err)
		var row map[string]any
		require.NoError(t, json.Unmarshal(bytes.TrimSpace(body), &row))
		n, ok := row["n"].(float64)
		require.True(t, ok)
		return n
	}

	_, err := env.put(t, "demo", float32Record(t, demoSample))
	require.NoError(t, err)
	_, err = env.action(t, ActionExport, []byte("demo"))
	require.NoError(t, err)
	assert.Equal(t, 7.0, count())
	assert.Equal(t, 1, env.srv.queries.Len())

	_, err = env.put(t, "demo", float32Record(t, []float32{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, 7.0, count(), "report unchanged until re-export")

	_, err = env.action(t, ActionExport, []byte("demo"))
	require.NoError(t, err)
	assert.Zero(t, env.srv.queries.Len())
	assert.Equal(t, 3.0, count())
}
