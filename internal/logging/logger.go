package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/23skdu/qkernels/internal/metrics"
	"github.com/rs/zerolog"
)

// Config selects the encoding, threshold and sink of a service logger.
// Format is "json" or "console" ("text" is accepted as an alias). Level is
// any zerolog level name; "warning" maps to warn and empty means info.
type Config struct {
	Format string
	Level  string
	Output io.Writer
}

func DefaultConfig() Config {
	return Config{Format: "json", Level: "info", Output: os.Stdout}
}

// NewLogger builds a timestamped zerolog logger. Each entry that passes the
// level filter bumps metrics.LogEntriesTotal for its level.
func NewLogger(cfg Config) (zerolog.Logger, error) {
	level, err := levelOf(cfg.Level)
	if err != nil {
		return zerolog.Nop(), err
	}

	var w io.Writer = os.Stdout
	if cfg.Output != nil {
		w = cfg.Output
	}
	if f := strings.ToLower(cfg.Format); f == "console" || f == "text" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).
		Level(level).
		With().Timestamp().Logger().
		Hook(countingHook{}), nil
}

// DiscardLogger drops everything.
func DiscardLogger() zerolog.Logger { return zerolog.Nop() }

func levelOf(name string) (zerolog.Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "":
		return zerolog.InfoLevel, nil
	case "warning":
		return zerolog.WarnLevel, nil
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel, fmt.Errorf("invalid log level: %q", name)
	}
	return level, nil
}

type countingHook struct{}

func (countingHook) Run(_ *zerolog.Event, level zerolog.Level, _ string) {
	if level == zerolog.NoLevel || level == zerolog.Disabled {
		return
	}
	metrics.LogEntriesTotal.WithLabelValues(level.String()).Inc()
}
