package health

import (
	"context"
	"os"
	"path/filepath"
	"time"
)

// DataPathChecker verifies the report directory is writable.
type DataPathChecker struct {
	dir string
}

func NewDataPathChecker(dataPath string) *DataPathChecker {
	return &DataPathChecker{dir: dataPath}
}

func (c *DataPathChecker) Name() string { return "data_path" }

func (c *DataPathChecker) Check(ctx context.Context) *ComponentHealth {
	ch := &ComponentHealth{
		Name:        c.Name(),
		Status:      StatusHealthy,
		LastChecked: time.Now(),
		Metadata:    map[string]interface{}{"path": c.dir},
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		ch.Status, ch.Message = StatusUnhealthy, err.Error()
		return ch
	}
	f, err := os.CreateTemp(c.dir, ".health-*")
	if err != nil {
		ch.Status, ch.Message = StatusUnhealthy, err.Error()
		return ch
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)

	ch.Message = "writable: " + filepath.Clean(c.dir)
	return ch
}

// DatasetChecker reports how many datasets are held. It is degraded when
// the count reaches the configured soft limit.
type DatasetChecker struct {
	count     func() int
	softLimit int
}

// NewDatasetChecker returns a checker over count. softLimit <= 0 disables
// the degraded state.
func NewDatasetChecker(count func() int, softLimit int) *DatasetChecker {
	return &DatasetChecker{count: count, softLimit: softLimit}
}

func (c *DatasetChecker) Name() string { return "datasets" }

func (c *DatasetChecker) Check(ctx context.Context) *ComponentHealth {
	n := c.count()
	ch := &ComponentHealth{
		Name:        c.Name(),
		Status:      StatusHealthy,
		LastChecked: time.Now(),
		Metadata:    map[string]interface{}{"count": n},
	}
	if c.softLimit > 0 && n >= c.softLimit {
		ch.Status = StatusDegraded
		ch.Message = "dataset count at soft limit"
	}
	return ch
}
