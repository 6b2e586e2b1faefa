package storage

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	qerrors "github.com/23skdu/qkernels/internal/errors"
	"github.com/23skdu/qkernels/internal/metrics"
	"github.com/23skdu/qkernels/internal/quant"
	"github.com/parquet-go/parquet-go"
)

const reportDirName = "reports"

// ReportRow is one value of a quantization report as stored in Parquet.
type ReportRow struct {
	Index         int32   `parquet:"index"`
	Value         float32 `parquet:"value"`
	Code          int32   `parquet:"code"`
	Reconstructed float32 `parquet:"reconstructed"`
	AbsError      float32 `parquet:"abs_error"`
	Saturated     bool    `parquet:"saturated"`
}

var validName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,127}$`)

// ValidateName checks that name can be used as a file stem and SQL identifier.
func ValidateName(name string) error {
	if !validName.MatchString(name) {
		return qerrors.NewValidationError("validate_name",
			fmt.Sprintf("invalid dataset name %q: use letters, digits and underscores", name))
	}
	return nil
}

// ReportPath returns where the report for name lives under dataPath.
func ReportPath(dataPath, name string) string {
	return filepath.Join(dataPath, reportDirName, name+".parquet")
}

// WriteReport writes one row per sample value, with the params stored as
// file key/value metadata.
func WriteReport(w io.Writer, sample []float32, r *quant.Report) error {
	if len(sample) != len(r.Codes) {
		return qerrors.NewValidationError("write_report",
			fmt.Sprintf("sample has %d values but report has %d codes", len(sample), len(r.Codes)))
	}

	pw := parquet.NewGenericWriter[ReportRow](w,
		parquet.Compression(&parquet.Zstd),
		parquet.KeyValueMetadata("scale", strconv.FormatFloat(float64(r.Params.Scale), 'g', -1, 32)),
		parquet.KeyValueMetadata("zero_point", strconv.FormatInt(int64(r.Params.ZeroPoint), 10)),
		parquet.KeyValueMetadata("checksum", strconv.FormatUint(r.Checksum, 10)),
	)

	rows := make([]ReportRow, len(sample))
	for i, v := range sample {
		rows[i] = ReportRow{
			Index:         int32(i),
			Value:         v,
			Code:          int32(r.Codes[i]),
			Reconstructed: r.Reconstructed[i],
			AbsError:      float32(math.Abs(float64(v) - float64(r.Reconstructed[i]))),
			Saturated:     r.Saturated.Contains(uint32(i)),
		}
	}

	if _, err := pw.Write(rows); err != nil {
		_ = pw.Close()
		return err
	}
	return pw.Close()
}

// ExportReport writes the report for name under dataPath and returns its path.
func ExportReport(dataPath, name string, sample []float32, r *quant.Report) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	path := ReportPath(dataPath, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		metrics.ReportExportsTotal.WithLabelValues("error").Inc()
		return "", qerrors.WrapStorageError(err, "export_report", "failed to create report directory")
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		metrics.ReportExportsTotal.WithLabelValues("error").Inc()
		return "", qerrors.WrapStorageError(err, "export_report", "failed to create report file")
	}
	if err := WriteReport(f, sample, r); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		metrics.ReportExportsTotal.WithLabelValues("error").Inc()
		return "", qerrors.WrapStorageError(err, "export_report", "failed to write report")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		metrics.ReportExportsTotal.WithLabelValues("error").Inc()
		return "", qerrors.WrapStorageError(err, "export_report", "failed to close report")
	}
	if err := os.Rename(tmp, path); err != nil {
		metrics.ReportExportsTotal.WithLabelValues("error").Inc()
		return "", qerrors.WrapStorageError(err, "export_report", "failed to publish report")
	}

	metrics.ReportExportsTotal.WithLabelValues("ok").Inc()
	return path, nil
}

// ReadReport loads a report written by WriteReport.
func ReadReport(path string) ([]ReportRow, quant.Params, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, quant.Params{}, qerrors.NewNotFoundError("read_report", "no report at "+path)
		}
		return nil, quant.Params{}, qerrors.WrapStorageError(err, "read_report", "failed to open report")
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, quant.Params{}, qerrors.WrapStorageError(err, "read_report", "failed to stat report")
	}

	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, quant.Params{}, qerrors.WrapStorageError(err, "read_report", "invalid parquet file")
	}

	var p quant.Params
	if v, ok := pf.Lookup("scale"); ok {
		s, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return nil, quant.Params{}, qerrors.WrapStorageError(err, "read_report", "invalid scale metadata")
		}
		p.Scale = float32(s)
	}
	if v, ok := pf.Lookup("zero_point"); ok {
		zp, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return nil, quant.Params{}, qerrors.WrapStorageError(err, "read_report", "invalid zero point metadata")
		}
		p.ZeroPoint = int32(zp)
	}

	pr := parquet.NewGenericReader[ReportRow](pf)
	defer pr.Close()

	rows := make([]ReportRow, pr.NumRows())
	n, err := pr.Read(rows)
	if err != nil && err != io.EOF {
		return nil, quant.Params{}, qerrors.WrapStorageError(err, "read_report", "failed to read rows")
	}
	return rows[:n], p, nil
}
