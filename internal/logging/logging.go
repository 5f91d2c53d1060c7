// Package logging builds the zap loggers used by gatekit gates.
//
// Gate stdout is reserved for the decision payload the host parses, so
// logs go to a per-gate file under the state directory (state/logs/
// <gate>.log). Log writes are append-only and best effort: a gate that
// cannot open its log file still runs, it just runs quietly.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/gatekit/internal/config"
)

// New creates a logger for one gate invocation. gateName selects the
// log file; stateDir is the shared state directory.
func New(cfg config.LoggingConfig, stateDir, gateName string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	logDir := filepath.Join(stateDir, "logs")
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	path := filepath.Join(logDir, gateName+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", path, err)
	}

	core := zapcore.NewCore(newEncoder(cfg.Format), zapcore.Lock(f), level)
	return zap.New(core, zap.Fields(zap.String("gate", gateName))), nil
}

// NewOrNop is New with the failure mode gates actually want: logging is
// ambient, not load-bearing, so a logger that cannot be built becomes a
// nop instead of failing the invocation.
func NewOrNop(cfg config.LoggingConfig, stateDir, gateName string) *zap.Logger {
	logger, err := New(cfg, stateDir, gateName)
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "console" {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}
