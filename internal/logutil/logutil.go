// File: internal/logutil/logutil.go
// Package logutil holds the process-wide structured logger.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package logutil

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig selects level, encoding and sink of the global logger. An empty
// Filename logs to stderr; otherwise the file is rotated by size and age.
type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	Filename   string `toml:"filename"`
	MaxSize    int    `toml:"max_size"`
	MaxDays    int    `toml:"max_days"`
	MaxBackups int    `toml:"max_backups"`
}

// DefaultLogConfig logs JSON at info level to stderr.
func DefaultLogConfig() LogConfig {
	return LogConfig{Level: "info", Format: "json", MaxSize: 512}
}

// Validate checks level and format without touching the sink.
func (c LogConfig) Validate() error {
	if _, err := c.level(); err != nil {
		return err
	}
	if _, err := c.encoder(); err != nil {
		return err
	}
	return nil
}

func (c LogConfig) level() (zapcore.Level, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
		return lvl, fmt.Errorf("logutil: level %q: %w", c.Level, err)
	}
	return lvl, nil
}

func (c LogConfig) encoder() (zapcore.Encoder, error) {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	switch c.Format {
	case "", "json":
		return zapcore.NewJSONEncoder(ec), nil
	case "console":
		return zapcore.NewConsoleEncoder(ec), nil
	}
	return nil, fmt.Errorf("logutil: format %q: want json or console", c.Format)
}

type loggers struct {
	base   *zap.Logger
	skip   *zap.Logger
	closer io.Closer
}

var global atomic.Pointer[loggers]

func init() {
	if err := Setup(DefaultLogConfig()); err != nil {
		SetLogger(zap.NewNop())
	}
}

// Setup builds a logger from cfg and installs it globally. A previously
// installed log file is closed.
func Setup(cfg LogConfig) error {
	lvl, err := cfg.level()
	if err != nil {
		return err
	}
	enc, err := cfg.encoder()
	if err != nil {
		return err
	}
	var (
		sink   zapcore.WriteSyncer
		closer io.Closer
	)
	if cfg.Filename == "" {
		sink = zapcore.Lock(os.Stderr)
	} else {
		lj := &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSize,
			MaxAge:     cfg.MaxDays,
			MaxBackups: cfg.MaxBackups,
		}
		sink, closer = zapcore.AddSync(lj), lj
	}
	core := zapcore.NewCore(enc, sink, zap.NewAtomicLevelAt(lvl))
	install(zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.DPanicLevel)), closer)
	return nil
}

// SetupLogger installs a JSON stderr logger at the given level.
func SetupLogger(level string) error {
	cfg := DefaultLogConfig()
	cfg.Level = level
	return Setup(cfg)
}

// SetLogger replaces the global logger, typically with zaptest or a Nop
// logger in tests.
func SetLogger(l *zap.Logger) { install(l, nil) }

func install(l *zap.Logger, closer io.Closer) {
	prev := global.Swap(&loggers{base: l, skip: l.WithOptions(zap.AddCallerSkip(1)), closer: closer})
	if prev != nil && prev.closer != nil {
		_ = prev.base.Sync()
		_ = prev.closer.Close()
	}
}

// GetGlobalLogger returns the current logger.
func GetGlobalLogger() *zap.Logger { return global.Load().base }

// Named returns a child logger for one component.
func Named(name string) *zap.Logger { return GetGlobalLogger().Named(name) }

// Sync flushes the global logger.
func Sync() error { return GetGlobalLogger().Sync() }

func Debug(msg string, fields ...zap.Field) { global.Load().skip.Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { global.Load().skip.Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { global.Load().skip.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { global.Load().skip.Error(msg, fields...) }
