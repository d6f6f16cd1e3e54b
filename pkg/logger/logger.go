// Package logger builds the zap loggers shared by the engine components and
// defines the structured fields they report pages, frames, and indexes with.
package logger

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/soradb/soradb/core/storage/page"
)

// Config selects the level, encoding, and destination of engine logs.
type Config struct {
	// Level is the minimum record level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`
	// Format is "json" or "console".
	Format string `yaml:"format"`
	// OutputFile is a path, "stdout", or "stderr".
	OutputFile string `yaml:"output_file"`
}

// New builds the process logger. Every record carries the service name and a
// per-process instance id so logs from concurrent runs over the same data
// file can be told apart. An unparseable level degrades to info.
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	sink, err := openSink(cfg.OutputFile)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(encoderFor(cfg.Format), sink, zap.NewAtomicLevelAt(level))
	return zap.New(core,
		zap.AddCaller(),
		zap.Fields(
			zap.String("service", "soradb"),
			zap.String("instance_id", uuid.NewString()),
		),
	), nil
}

func encoderFor(format string) zapcore.Encoder {
	ec := zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		TimeKey:        "ts",
		NameKey:        "logger",
		CallerKey:      "caller",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if strings.ToLower(format) == "console" {
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

// openSink resolves the output destination. Files are opened in append mode
// so restarts extend the previous run's records.
func openSink(target string) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(target) {
	case "", "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	}
	f, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log sink %s: %w", target, err)
	}
	return zapcore.AddSync(f), nil
}

// Page identifies the page an operation touched.
func Page(id page.PageID) zap.Field { return zap.Uint32("page_id", uint32(id)) }

// Frame identifies a buffer pool frame.
func Frame(id int32) zap.Field { return zap.Int32("frame_id", id) }

// Index names the B+ tree an operation ran against.
func Index(name string) zap.Field { return zap.String("index", name) }

// DataFile names the backing file of the engine.
func DataFile(path string) zap.Field { return zap.String("data_file", path) }
