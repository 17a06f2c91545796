// Package logger provides structured logging for the storage engine.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with engine-specific convenience methods.
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

// NewLogger creates a new structured logger.
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
	zerolog.SetGlobalLevel(level)

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
		With().
		Timestamp().
		Str("service", "treecore").
		Logger()

	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// GetZerolog returns the underlying zerolog logger.
func (l *Logger) GetZerolog() *zerolog.Logger {
	return &l.zlog
}

// Info logs an info message.
func (l *Logger) Info(msg string) *zerolog.Event {
	return l.zlog.Info().Str("msg", msg)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) *zerolog.Event {
	return l.zlog.Debug().Str("msg", msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) *zerolog.Event {
	return l.zlog.Warn().Str("msg", msg)
}

// Error logs an error message.
func (l *Logger) Error(msg string) *zerolog.Event {
	return l.zlog.Error().Str("msg", msg)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(msg string) *zerolog.Event {
	return l.zlog.Fatal().Str("msg", msg)
}

// WithFields returns a logger with additional fields attached.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// PageLogger returns a logger scoped to page-store events.
func (l *Logger) PageLogger() *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", "page").Logger()}
}

// BufferLogger returns a logger scoped to buffer-pool events.
func (l *Logger) BufferLogger() *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", "buffer").Logger()}
}

// TableLogger returns a logger scoped to a table-manager operation.
func (l *Logger) TableLogger(operation string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "table").
			Str("operation", operation).
			Logger(),
	}
}

// IndexLogger returns a logger scoped to a B+tree index operation.
func (l *Logger) IndexLogger(operation string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "bptree").
			Str("operation", operation).
			Logger(),
	}
}

// EngineLogger returns a logger scoped to the engine facade.
func (l *Logger) EngineLogger(operation string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "engine").
			Str("operation", operation).
			Logger(),
	}
}

// LogPageEvent logs a page load/save event with structured fields.
func (l *Logger) LogPageEvent(event string, pageID uint32, err error) {
	e := l.zlog.Debug().
		Str("component", "page").
		Str("event", event).
		Uint32("page_id", pageID)
	if err != nil {
		e = l.zlog.Error().
			Str("component", "page").
			Str("event", event).
			Uint32("page_id", pageID).
			Err(err)
	}
	e.Msg("page event")
}

// LogBufferEvent logs an eviction or flush event.
func (l *Logger) LogBufferEvent(event string, frameIndex int, pageID uint32) {
	l.zlog.Debug().
		Str("component", "buffer").
		Str("event", event).
		Int("frame_index", frameIndex).
		Uint32("page_id", pageID).
		Msg("buffer event")
}

// LogTableOperation logs a table-manager operation outcome.
func (l *Logger) LogTableOperation(table, operation string, duration time.Duration, recordCount int, err error) {
	event := l.zlog.Debug().
		Str("component", "table").
		Str("table", table).
		Str("operation", operation).
		Dur("duration_ms", duration).
		Int("record_count", recordCount)

	if err != nil {
		event = l.zlog.Error().
			Str("component", "table").
			Str("table", table).
			Str("operation", operation).
			Dur("duration_ms", duration).
			Err(err)
	}

	event.Msg("table operation completed")
}

// LogIndexOperation logs a B+tree index operation outcome.
func (l *Logger) LogIndexOperation(index, operation string, duration time.Duration, err error) {
	event := l.zlog.Debug().
		Str("component", "bptree").
		Str("index", index).
		Str("operation", operation).
		Dur("duration_ms", duration)

	if err != nil {
		event = l.zlog.Error().
			Str("component", "bptree").
			Str("index", index).
			Str("operation", operation).
			Dur("duration_ms", duration).
			Err(err)
	}

	event.Msg("index operation completed")
}

// LogEngineStart logs engine startup.
func (l *Logger) LogEngineStart(dataDir string, bufferFrames int, policy string) {
	l.zlog.Info().
		Str("event", "engine_start").
		Str("data_directory", dataDir).
		Int("buffer_frames", bufferFrames).
		Str("eviction_policy", policy).
		Msg("storage engine starting")
}

// LogEngineReady logs when the engine is ready to accept operations.
func (l *Logger) LogEngineReady() {
	l.zlog.Info().
		Str("event", "engine_ready").
		Msg("storage engine ready")
}

// LogEngineShutdown logs engine shutdown.
func (l *Logger) LogEngineShutdown() {
	l.zlog.Info().
		Str("event", "engine_shutdown").
		Msg("storage engine shutting down")
}

// Global logger instance.
var globalLogger *Logger

// InitGlobalLogger initializes the global logger.
func InitGlobalLogger(cfg Config) {
	globalLogger = NewLogger(cfg)
	log.Logger = *globalLogger.GetZerolog()
}

// GetGlobalLogger returns the global logger instance, initializing it
// with defaults on first use.
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		InitGlobalLogger(Config{
			Level:  "info",
			Pretty: true,
		})
	}
	return globalLogger
}
