// Package logging builds the zap loggers used across the service.
//
// The process logger writes JSON (production) or console (development)
// output to stderr. ForRun derives a request-scoped logger that carries the
// run id and, when a run directory is configured, also tees every entry into
// a per-run JSON file.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}
}

// New builds the process logger. format is "json" or "console".
func New(level, format string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		lvl = parsed
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "", "json":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig = encoderConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

// NewWithWriter builds a JSON logger writing to w. Used by the CLI and tests.
func NewWithWriter(w io.Writer, level zapcore.Level) *zap.Logger {
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(w), level)
	return zap.New(core)
}

// ForRun returns a logger tagged with runID. With a non-empty dir the entries
// are also written to <dir>/run-<runID>.log; the returned close func flushes
// and closes that file.
func ForRun(base *zap.Logger, dir, runID string) (*zap.Logger, func(), error) {
	if base == nil {
		base = zap.NewNop()
	}
	tagged := base.With(zap.String("run_id", runID))
	if dir == "" {
		return tagged, func() {}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return tagged, func() {}, fmt.Errorf("create run log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "run-"+filepath.Base(runID)+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return tagged, func() {}, fmt.Errorf("open run log: %w", err)
	}
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(f), zapcore.DebugLevel)
	tee := zap.New(zapcore.NewTee(base.Core(), fileCore)).With(zap.String("run_id", runID))
	return tee, func() {
		_ = tee.Sync()
		_ = f.Close()
	}, nil
}
