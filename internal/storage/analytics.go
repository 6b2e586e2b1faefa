package storage

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/23skdu/qkernels/internal/breaker"
	qerrors "github.com/23skdu/qkernels/internal/errors"
	"github.com/apache/arrow-go/v18/arrow/array"
	duckdb "github.com/marcboeker/go-duckdb"
)

// Analytics runs SQL over exported Parquet reports with an in-memory DuckDB.
// Repeated engine failures open a circuit breaker; bad SQL and missing
// reports do not count.
type Analytics struct {
	dataPath string
	cb       *breaker.Breaker
}

func NewAnalytics(dataPath string) *Analytics {
	return NewAnalyticsWithBreaker(dataPath, breaker.Settings{})
}

// NewAnalyticsWithBreaker is NewAnalytics with explicit breaker settings.
// Name and IsFailure are filled in when empty.
func NewAnalyticsWithBreaker(dataPath string, s breaker.Settings) *Analytics {
	if s.Name == "" {
		s.Name = "analytics"
	}
	if s.IsFailure == nil {
		s.IsFailure = isEngineFailure
	}
	return &Analytics{dataPath: dataPath, cb: breaker.New(s)}
}

func isEngineFailure(err error) bool {
	return qerrors.TypeOf(err) == qerrors.ErrorTypeStorage
}

// Query loads the report for name into an in-memory table called name and
// runs query against it with filesystem access disabled. The caller must call cleanup when done with the reader.
func (a *Analytics) Query(ctx context.Context, name, query string) (array.RecordReader, func(), error) {
	if err := ValidateName(name); err != nil {
		return nil, nil, err
	}
	path := ReportPath(a.dataPath, name)
	if _, err := os.Stat(path); err != nil {
		return nil, nil, qerrors.NewNotFoundError("analytics_query", "no exported report for "+name)
	}

	var (
		rdr     array.RecordReader
		cleanup func()
	)
	err := a.cb.Do(func() error {
		var err error
		rdr, cleanup, err = a.query(ctx, name, path, query)
		return err
	})
	if errors.Is(err, breaker.ErrOpen) {
		return nil, nil, qerrors.NewUnavailableError("analytics_query", "analytics engine unavailable after repeated failures")
	}
	if err != nil {
		return nil, nil, err
	}
	return rdr, cleanup, nil
}

func (a *Analytics) query(ctx context.Context, name, path, query string) (array.RecordReader, func(), error) {

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, nil, qerrors.WrapStorageError(err, "analytics_query", "failed to open duckdb")
	}

	// A dedicated connection is needed to reach the driver's Arrow interface.
	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, nil, qerrors.WrapStorageError(err, "analytics_query", "failed to open conn")
	}

	var ar *duckdb.Arrow
	err = conn.Raw(func(c interface{}) error {
		dc, ok := c.(driver.Conn)
		if !ok {
			return fmt.Errorf("not a duckdb driver connection")
		}
		var err error
		ar, err = duckdb.NewArrowFromConn(dc)
		return err
	})
	if err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, nil, qerrors.WrapStorageError(err, "analytics_query", "failed to init arrow")
	}

	// The report is copied into memory, then file access is shut off so
	// client SQL cannot reach the filesystem (read_text, COPY ... TO).
	setup := []string{
		fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM read_parquet('%s')",
			name, strings.ReplaceAll(path, "'", "''")),
		"SET enable_external_access = false",
		"SET lock_configuration = true",
	}
	for _, stmt := range setup {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			_ = conn.Close()
			_ = db.Close()
			return nil, nil, qerrors.WrapStorageError(err, "analytics_query", "failed to prepare report table")
		}
	}

	rdr, err := ar.QueryContext(ctx, query)
	if err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, nil, qerrors.WrapValidationError(err, "analytics_query", "query execution failed")
	}

	cleanup := func() {
		rdr.Release()
		_ = conn.Close()
		_ = db.Close()
	}
	return rdr, cleanup, nil
}

// QueryJSON runs Query and renders every result row as a JSON object, one per line.
func (a *Analytics) QueryJSON(ctx context.Context, name, query string) ([]byte, int, error) {
	rdr, cleanup, err := a.Query(ctx, name, query)
	if err != nil {
		return nil, 0, err
	}
	defer cleanup()

	var buf bytes.Buffer
	rows := 0
	for rdr.Next() {
		rec := rdr.Record()
		if err := array.RecordToJSON(rec, &buf); err != nil {
			return nil, 0, qerrors.WrapStorageError(err, "analytics_query", "failed to encode rows")
		}
		rows += int(rec.NumRows())
	}
	if err := rdr.Err(); err != nil {
		return nil, 0, qerrors.WrapStorageError(err, "analytics_query", "failed to read results")
	}
	return buf.Bytes(), rows, nil
}
