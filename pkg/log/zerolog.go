package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ZerologProvider is a LoggerProvider backed by zerolog.
// All loggers it creates share the provider's level, so SetLevel takes
// effect on loggers that were handed out earlier.
type ZerologProvider struct {
	base  zerolog.Logger
	level atomic.Int32
}

// ZerologOption configures a ZerologProvider.
type ZerologOption func(*zerologConfig)

type zerologConfig struct {
	writer  io.Writer
	console bool
}

// WithWriter sets the destination of log records (default os.Stderr).
func WithWriter(w io.Writer) ZerologOption {
	return func(c *zerologConfig) {
		c.writer = w
	}
}

// WithConsole switches to zerolog's human-readable console writer.
func WithConsole(console bool) ZerologOption {
	return func(c *zerologConfig) {
		c.console = console
	}
}

// NewZerologProvider creates a zerolog-backed provider emitting records at or above level.
func NewZerologProvider(level Level, opts ...ZerologOption) *ZerologProvider {
	cfg := &zerologConfig{writer: os.Stderr}
	for _, opt := range opts {
		opt(cfg)
	}

	w := cfg.writer
	if cfg.console {
		w = zerolog.ConsoleWriter{Out: cfg.writer, TimeFormat: time.RFC3339}
	}

	zerolog.ErrorStackMarshaler = marshalStack

	p := &ZerologProvider{
		// filtering happens in the provider so that SetLevel is shared
		base: zerolog.New(w).Level(zerolog.TraceLevel).With().Timestamp().Logger(),
	}
	p.level.Store(int32(level))
	return p
}

// GetLogger implements LoggerProvider.GetLogger.
func (p *ZerologProvider) GetLogger() Logger {
	return &zerologLogger{provider: p, zl: p.base}
}

// GetLoggerWithName implements LoggerProvider.GetLoggerWithName.
func (p *ZerologProvider) GetLoggerWithName(name string) Logger {
	return &zerologLogger{provider: p, zl: p.base.With().Str(ComponentKey, name).Logger()}
}

// SetLevel implements LoggerProvider.SetLevel.
func (p *ZerologProvider) SetLevel(level Level) {
	p.level.Store(int32(level))
}

func (p *ZerologProvider) enabled(level Level) bool {
	return int32(level) >= p.level.Load()
}

type zerologLogger struct {
	provider *ZerologProvider
	zl       zerolog.Logger
}

func (l *zerologLogger) Debug(msg string, fields ...any) {
	l.emit(LevelDebug, l.zl.Debug(), msg, fields)
}

func (l *zerologLogger) Info(msg string, fields ...any) {
	l.emit(LevelInfo, l.zl.Info(), msg, fields)
}

func (l *zerologLogger) Warn(msg string, fields ...any) {
	l.emit(LevelWarn, l.zl.Warn(), msg, fields)
}

func (l *zerologLogger) Error(msg string, fields ...any) {
	l.emit(LevelError, l.zl.Error(), msg, fields)
}

func (l *zerologLogger) With(fields ...any) Logger {
	ctx := l.zl.With()
	for i := 0; i < len(fields); {
		if err, ok := fields[i].(error); ok {
			ctx = ctx.Stack().Err(err)
			i++
			continue
		}
		if i+1 >= len(fields) {
			ctx = ctx.Interface("!BADKEY", fields[i])
			break
		}
		ctx = ctx.Interface(fmt.Sprint(fields[i]), fields[i+1])
		i += 2
	}
	return &zerologLogger{provider: l.provider, zl: ctx.Logger()}
}

func (l *zerologLogger) Enabled(_ context.Context, level Level) bool {
	return l.provider.enabled(level)
}

func (l *zerologLogger) emit(level Level, e *zerolog.Event, msg string, fields []any) {
	if !l.provider.enabled(level) {
		e.Discard()
		return
	}
	appendFields(e, fields).Msg(msg)
}

// appendFields adds key-value pairs to e using typed setters where possible.
func appendFields(e *zerolog.Event, fields []any) *zerolog.Event {
	for i := 0; i < len(fields); {
		if err, ok := fields[i].(error); ok {
			e = e.Stack().Err(err)
			i++
			continue
		}
		if i+1 >= len(fields) {
			e = e.Interface("!BADKEY", fields[i])
			break
		}
		key := fmt.Sprint(fields[i])
		switch v := fields[i+1].(type) {
		case string:
			e = e.Str(key, v)
		case int:
			e = e.Int(key, v)
		case int64:
			e = e.Int64(key, v)
		case float64:
			e = e.Float64(key, v)
		case bool:
			e = e.Bool(key, v)
		case []string:
			e = e.Strs(key, v)
		case time.Duration:
			e = e.Dur(key, v)
		case error:
			e = e.AnErr(key, v)
		case zerolog.LogObjectMarshaler:
			e = e.Object(key, v)
		default:
			e = e.Interface(key, v)
		}
		i += 2
	}
	return e
}
