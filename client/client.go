package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/23skdu/qkernels/internal/quant"
	"github.com/23skdu/qkernels/internal/server"
	"github.com/23skdu/qkernels/internal/tensor"
	"github.com/23skdu/qkernels/internal/tracing"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Result is a quantized dataset fetched with Get.
type Result struct {
	Name          string
	Params        quant.Params
	Values        []float32
	Codes         []int8
	Reconstructed []float32
	Checksum      string
	RunID         string
}

// QuantClient talks to a quantization Flight server.
type QuantClient struct {
	client  flight.Client
	mem     memory.Allocator
	timeout time.Duration
}

// NewQuantClient dials addr. Extra options are appended after the defaults
// (insecure transport, 100MB message limits).
func NewQuantClient(addr string, opts ...grpc.DialOption) (*QuantClient, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(1024*1024*100),
			grpc.MaxCallSendMsgSize(1024*1024*100),
		),
		grpc.WithChainUnaryInterceptor(tracing.UnaryClientInterceptor()),
		grpc.WithChainStreamInterceptor(tracing.StreamClientInterceptor()),
	}, opts...)

	c, err := flight.NewClientWithMiddleware(addr, nil, nil, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return &QuantClient{
		client:  c,
		mem:     memory.NewGoAllocator(),
		timeout: 30 * time.Second,
	}, nil
}

func (c *QuantClient) Close() error {
	return c.client.Close()
}

// SetTimeout bounds each call that has no deadline of its own.
func (c *QuantClient) SetTimeout(d time.Duration) {
	c.timeout = d
}

func (c *QuantClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Put uploads sample under name. The server quantizes it and answers with
// the params it computed.
func (c *QuantClient) Put(ctx context.Context, name string, sample []float32) (server.PutAck, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var ack server.PutAck
	stream, err := c.client.DoPut(ctx)
	if err != nil {
		return ack, wrapRemote("put", err)
	}

	rec := tensor.NewSampleRecord(c.mem, sample)
	defer rec.Release()

	w := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(c.mem))
	w.SetFlightDescriptor(&flight.FlightDescriptor{Type: flight.DescriptorPATH, Path: []string{name}})
	// A failed write means the server ended the call; its status arrives on Recv.
	_ = w.Write(rec)
	_ = w.Close()
	_ = stream.CloseSend()

	res, err := stream.Recv()
	if err != nil {
		return ack, wrapRemote("put", err)
	}
	if err := json.Unmarshal(res.AppMetadata, &ack); err != nil {
		return ack, fmt.Errorf("put: invalid ack: %w", err)
	}
	for {
		if _, err := stream.Recv(); err != nil {
			if err == io.EOF {
				break
			}
			return ack, wrapRemote("put", err)
		}
	}
	return ack, nil
}

// Get fetches the stored codec result for name.
func (c *QuantClient) Get(ctx context.Context, name string) (*Result, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	stream, err := c.client.DoGet(ctx, &flight.Ticket{Ticket: []byte(name)})
	if err != nil {
		return nil, wrapRemote("get", err)
	}
	rdr, err := flight.NewRecordReader(stream, ipc.WithAllocator(c.mem))
	if err != nil {
		return nil, wrapRemote("get", err)
	}
	defer rdr.Release()

	schema := rdr.Schema()
	p, err := tensor.ParamsFromSchema(schema)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Name:     name,
		Params:   p,
		Checksum: tensor.MetadataValue(schema, tensor.MetaChecksum),
		RunID:    tensor.MetadataValue(schema, tensor.MetaRunID),
	}

	for rdr.Next() {
		rec := rdr.Record()
		codes, err := tensor.CodesFromRecord(rec)
		if err != nil {
			return nil, err
		}
		res.Codes = append(res.Codes, codes...)
		res.Values = append(res.Values, float32Column(rec.Column(1))...)
		res.Reconstructed = append(res.Reconstructed, float32Column(rec.Column(3))...)
	}
	if err := rdr.Err(); err != nil {
		return nil, wrapRemote("get", err)
	}
	return res, nil
}

func float32Column(arr arrow.Array) []float32 {
	a, ok := arr.(*array.Float32)
	if !ok {
		return nil
	}
	out := make([]float32, a.Len())
	copy(out, a.Float32Values())
	return out
}

func (c *QuantClient) action(ctx context.Context, typ string, body []byte) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	stream, err := c.client.DoAction(ctx, &flight.Action{Type: typ, Body: body})
	if err != nil {
		return nil, wrapRemote(typ, err)
	}
	res, err := stream.Recv()
	if err != nil {
		return nil, wrapRemote(typ, err)
	}
	return res.Body, nil
}

// Params returns the params and error summary of a stored dataset.
func (c *QuantClient) Params(ctx context.Context, name string) (server.ParamsResult, error) {
	var res server.ParamsResult
	body, err := c.action(ctx, server.ActionParams, []byte(name))
	if err != nil {
		return res, err
	}
	err = json.Unmarshal(body, &res)
	return res, err
}

// Export asks the server to write the dataset's report as Parquet and
// returns the server-side path.
func (c *QuantClient) Export(ctx context.Context, name string) (string, error) {
	body, err := c.action(ctx, server.ActionExport, []byte(name))
	return string(body), err
}

// Query runs SQL over an exported report and returns one JSON object per row.
func (c *QuantClient) Query(ctx context.Context, name, sql string) ([]map[string]any, error) {
	req, err := json.Marshal(server.QueryRequest{Name: name, SQL: sql})
	if err != nil {
		return nil, err
	}
	body, err := c.action(ctx, server.ActionQuery, req)
	if err != nil {
		return nil, err
	}

	var rows []map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	for {
		var row map[string]any
		if err := dec.Decode(&row); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("query: invalid row: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (c *QuantClient) Drop(ctx context.Context, name string) error {
	_, err := c.action(ctx, server.ActionDrop, []byte(name))
	return err
}

// List returns the names of stored datasets starting with prefix.
func (c *QuantClient) List(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	stream, err := c.client.ListFlights(ctx, &flight.Criteria{Expression: []byte(prefix)})
	if err != nil {
		return nil, wrapRemote("list", err)
	}
	var names []string
	for {
		info, err := stream.Recv()
		if err == io.EOF {
			return names, nil
		}
		if err != nil {
			return nil, wrapRemote("list", err)
		}
		if fd := info.GetFlightDescriptor(); fd != nil && len(fd.Path) > 0 {
			names = append(names, fd.Path[0])
		}
	}
}
