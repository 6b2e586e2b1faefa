package tensor

import (
	"fmt"
	"strconv"

	qerrors "github.com/23skdu/qkernels/internal/errors"
	"github.com/23skdu/qkernels/internal/quant"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Column and metadata names of a quantized result record.
const (
	ColIndex         = "index"
	ColValue         = "value"
	ColCode          = "code"
	ColReconstructed = "reconstructed"

	MetaScale     = "scale"
	MetaZeroPoint = "zero_point"
	MetaChecksum  = "checksum"
	MetaRunID     = "run_id"
)

// SampleSchema is the schema clients use to upload a sample.
var SampleSchema = arrow.NewSchema([]arrow.Field{
	{Name: ColValue, Type: arrow.PrimitiveTypes.Float32},
}, nil)

// SampleFromArray converts a float16, float32 or float64 Arrow array into a
// sample. Nulls are rejected.
func SampleFromArray(arr arrow.Array) ([]float32, error) {
	if arr.NullN() > 0 {
		return nil, qerrors.NewValidationError("sample_from_array",
			fmt.Sprintf("column contains %d null values", arr.NullN()))
	}

	switch a := arr.(type) {
	case *array.Float32:
		out := make([]float32, a.Len())
		copy(out, a.Float32Values())
		return out, nil
	case *array.Float64:
		out := make([]float32, a.Len())
		for i, v := range a.Float64Values() {
			out[i] = float32(v)
		}
		return out, nil
	case *array.Float16:
		out := make([]float32, a.Len())
		for i, v := range a.Values() {
			out[i] = v.Float32()
		}
		return out, nil
	default:
		return nil, qerrors.NewValidationError("sample_from_array",
			fmt.Sprintf("unsupported sample type: %s", arr.DataType()))
	}
}

// SampleFromRecord extracts the column named column (or the first column when
// no such column exists) from rec.
func SampleFromRecord(rec arrow.Record, column string) ([]float32, error) {
	if rec.NumCols() == 0 {
		return nil, qerrors.NewValidationError("sample_from_record", "record has no columns")
	}
	idx := 0
	if indices := rec.Schema().FieldIndices(column); len(indices) > 0 {
		idx = indices[0]
	}
	return SampleFromArray(rec.Column(idx))
}

// NewSampleRecord builds a single-column record from sample.
func NewSampleRecord(mem memory.Allocator, sample []float32) arrow.Record {
	b := array.NewRecordBuilder(mem, SampleSchema)
	defer b.Release()

	b.Field(0).(*array.Float32Builder).AppendValues(sample, nil)
	return b.NewRecord()
}

// ResultSchema returns the result schema with params and run metadata attached.
func ResultSchema(p quant.Params, checksum uint64, runID string) *arrow.Schema {
	md := arrow.NewMetadata(
		[]string{MetaScale, MetaZeroPoint, MetaChecksum, MetaRunID},
		[]string{
			strconv.FormatFloat(float64(p.Scale), 'g', -1, 32),
			strconv.FormatInt(int64(p.ZeroPoint), 10),
			strconv.FormatUint(checksum, 10),
			runID,
		},
	)
	return arrow.NewSchema([]arrow.Field{
		{Name: ColIndex, Type: arrow.PrimitiveTypes.Int32},
		{Name: ColValue, Type: arrow.PrimitiveTypes.Float32},
		{Name: ColCode, Type: arrow.PrimitiveTypes.Int8},
		{Name: ColReconstructed, Type: arrow.PrimitiveTypes.Float32},
	}, &md)
}

// NewResultRecord builds the result record for sample and its round-trip report.
func NewResultRecord(mem memory.Allocator, sample []float32, r *quant.Report, runID string) arrow.Record {
	b := array.NewRecordBuilder(mem, ResultSchema(r.Params, r.Checksum, runID))
	defer b.Release()

	idx := b.Field(0).(*array.Int32Builder)
	idx.Reserve(len(sample))
	for i := range sample {
		idx.UnsafeAppend(int32(i))
	}
	b.Field(1).(*array.Float32Builder).AppendValues(sample, nil)
	b.Field(2).(*array.Int8Builder).AppendValues(r.Codes, nil)
	b.Field(3).(*array.Float32Builder).AppendValues(r.Reconstructed, nil)

	return b.NewRecord()
}

// ParamsFromSchema reads quantization params back from result metadata.
func ParamsFromSchema(schema *arrow.Schema) (quant.Params, error) {
	md := schema.Metadata()
	scaleIdx := md.FindKey(MetaScale)
	zpIdx := md.FindKey(MetaZeroPoint)
	if scaleIdx < 0 || zpIdx < 0 {
		return quant.Params{}, qerrors.NewValidationError("params_from_schema", "schema carries no quantization metadata")
	}

	scale, err := strconv.ParseFloat(md.Values()[scaleIdx], 32)
	if err != nil {
		return quant.Params{}, qerrors.WrapValidationError(err, "params_from_schema", "invalid scale")
	}
	zp, err := strconv.ParseInt(md.Values()[zpIdx], 10, 32)
	if err != nil {
		return quant.Params{}, qerrors.WrapValidationError(err, "params_from_schema", "invalid zero point")
	}
	return quant.Params{Scale: float32(scale), ZeroPoint: int32(zp)}, nil
}

// MetadataValue returns the schema metadata value for key, or "".
func MetadataValue(schema *arrow.Schema, key string) string {
	md := schema.Metadata()
	if i := md.FindKey(key); i >= 0 {
		return md.Values()[i]
	}
	return ""
}

// CodesFromRecord extracts the code column of a result record.
func CodesFromRecord(rec arrow.Record) ([]int8, error) {
	indices := rec.Schema().FieldIndices(ColCode)
	if len(indices) == 0 {
		return nil, qerrors.NewValidationError("codes_from_record", "record has no code column")
	}
	col, ok := rec.Column(indices[0]).(*array.Int8)
	if !ok {
		return nil, qerrors.NewValidationError("codes_from_record",
			fmt.Sprintf("code column has type %s", rec.Column(indices[0]).DataType()))
	}
	out := make([]int8, col.Len())
	copy(out, col.Int8Values())
	return out, nil
}
