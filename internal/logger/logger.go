// Package logger provides structured logging for corestore.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with corestore-specific helpers. Every subsystem
// (disk manager, WAL, buffer pool, recovery) is handed its
// own *Logger at construction time; there is no package-level instance.
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// NewLogger creates a new structured logger scoped to its caller.
func NewLogger(cfg Config) *Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	zlog := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", "corestore").
		Logger()

	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// Nop returns a logger that discards everything, used as a safe default
// when a caller constructs a subsystem without supplying one.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// GetZerolog returns the underlying zerolog logger.
func (l *Logger) GetZerolog() *zerolog.Logger {
	return &l.zlog
}

func (l *Logger) Info(msg string) *zerolog.Event  { return l.zlog.Info().Str("msg", msg) }
func (l *Logger) Debug(msg string) *zerolog.Event { return l.zlog.Debug().Str("msg", msg) }
func (l *Logger) Warn(msg string) *zerolog.Event  { return l.zlog.Warn().Str("msg", msg) }
func (l *Logger) Error(msg string) *zerolog.Event { return l.zlog.Error().Str("msg", msg) }

// WithFields returns a logger with additional fields attached.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// DbLogger returns a logger scoped to a record-store/engine operation.
func (l *Logger) DbLogger(operation string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "engine").
			Str("operation", operation).
			Logger(),
	}
}

// WalLogger returns a logger scoped to log-manager activity.
func (l *Logger) WalLogger() *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", "wal").Logger()}
}

// BufferLogger returns a logger scoped to buffer-pool activity.
func (l *Logger) BufferLogger() *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", "buffer").Logger()}
}

// LogRecovery logs a recovery pass summary.
func (l *Logger) LogRecovery(phase string, duration time.Duration, recordsApplied int, err error) {
	event := l.zlog.Info().
		Str("component", "recovery").
		Str("phase", phase).
		Dur("duration_ms", duration).
		Int("records_applied", recordsApplied)
	if err != nil {
		event = l.zlog.Error().
			Str("component", "recovery").
			Str("phase", phase).
			Err(err)
	}
	event.Msg("recovery phase completed")
}

// LogCheckpoint logs a completed checkpoint.
func (l *Logger) LogCheckpoint(lsn uint64, dirtyFramesFlushed int) {
	l.zlog.Info().
		Str("component", "wal").
		Uint64("checkpoint_lsn", lsn).
		Int("dirty_frames_flushed", dirtyFramesFlushed).
		Msg("checkpoint written")
}

// LogDbOperation logs a completed engine operation with structured fields.
func (l *Logger) LogDbOperation(operation string, duration time.Duration, recordCount int, err error) {
	event := l.zlog.Debug().
		Str("component", "engine").
		Str("operation", operation).
		Dur("duration_ms", duration).
		Int("record_count", recordCount)
	if err != nil {
		event = l.zlog.Error().
			Str("component", "engine").
			Str("operation", operation).
			Err(err)
	}
	event.Msg("engine operation completed")
}
