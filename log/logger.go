// Package log provides structured logging with migration run context.
//
// Logger wraps a non-sugared zap.Logger with map fields. Every entry
// carries the run identity (run_id, migration, phase, dry_run)
// so a single log file can hold several runs and still be filtered.
package log

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// RunContext identifies one migration run in every log entry.
type RunContext struct {
	RunID     string
	Migration string
	Phase     string
	DryRun    bool
}

// Options configures logger outputs.
type Options struct {
	// Level is debug, info, warn or error (default info).
	Level string
	// File, when set, receives a copy of every entry with size-based rotation.
	File string
	// MaxSizeMB is the rotation threshold (default 5).
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept (default 2).
	MaxBackups int
}

// Logger provides structured logging with run context.
type Logger struct {
	zap *zap.Logger
}

// NewLogger creates a logger writing JSON to stderr and, if opts.File is
// set, to a rotating log file.
func NewLogger(rc RunContext, opts Options) *Logger {
	writers := []io.Writer{os.Stderr}
	if opts.File != "" {
		writers = append(writers, rotatingFile(opts))
	}
	return newLoggerWithWriter(rc, parseLevel(opts.Level), writers...)
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// WithOutput returns a new logger with a different output writer.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig()),
		zapcore.AddSync(w),
		zapcore.DebugLevel,
	)
	return &Logger{zap: l.zap.WithOptions(zap.WrapCore(func(zapcore.Core) zapcore.Core { return core }))}
}

// With returns a logger carrying additional fields on every entry.
func (l *Logger) With(fields map[string]any) *Logger {
	if l == nil {
		return Nop()
	}
	zf := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	return &Logger{zap: l.zap.With(zf...)}
}

// newLoggerWithWriter creates a logger writing to the specified writers.
func newLoggerWithWriter(rc RunContext, level zapcore.Level, writers ...io.Writer) *Logger {
	cores := make([]zapcore.Core, 0, len(writers))
	for _, w := range writers {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig()),
			zapcore.AddSync(w),
			level,
		))
	}

	contextFields := []zap.Field{
		zap.String("run_id", rc.RunID),
		zap.String("migration", rc.Migration),
		zap.Bool("dry_run", rc.DryRun),
	}
	if rc.Phase != "" {
		contextFields = append(contextFields, zap.String("phase", rc.Phase))
	}

	zapLogger := zap.New(zapcore.NewTee(cores...)).With(contextFields...)
	return &Logger{zap: zapLogger}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
}

func rotatingFile(opts Options) io.Writer {
	size := opts.MaxSizeMB
	if size <= 0 {
		size = 5
	}
	backups := opts.MaxBackups
	if backups <= 0 {
		backups = 2
	}
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    size,
		MaxBackups: backups,
	}
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields map[string]any) {
	l.zap.Debug(message, zap.Any("fields", fields))
}

// Info logs an info message.
func (l *Logger) Info(message string, fields map[string]any) {
	l.zap.Info(message, zap.Any("fields", fields))
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields map[string]any) {
	l.zap.Warn(message, zap.Any("fields", fields))
}

// Error logs an error message.
func (l *Logger) Error(message string, fields map[string]any) {
	l.zap.Error(message, zap.Any("fields", fields))
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}
