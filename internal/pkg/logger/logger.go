// Package logger wraps slog with the request and render identifiers used by scenegen.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"
	// RenderIDKey is the context key for render identifiers.
	RenderIDKey contextKey = "render_id"
)

// Logger wraps slog.Logger with scenegen-specific helpers.
type Logger struct {
	*slog.Logger
}

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// Format is the output format (json, text).
	Format string
	// Output defaults to os.Stdout.
	Output io.Writer
	// AddSource adds source file and line to logs.
	AddSource bool
	// ServiceName is attached to every record as "service".
	ServiceName string
}

// New creates a Logger with the given configuration.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339Nano))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}

	if cfg.ServiceName != "" {
		handler = handler.WithAttrs([]slog.Attr{
			slog.String("service", cfg.ServiceName),
		})
	}

	return &Logger{Logger: slog.New(handler)}
}

// NewDefault creates a JSON info logger on stdout.
func NewDefault() *Logger {
	return New(Config{Level: "info", Format: "json", ServiceName: "scenegen"})
}

// NewDiscard returns a logger that drops everything. Used by tests and optional components.
func NewDiscard() *Logger {
	return New(Config{Output: io.Discard, Level: "error"})
}

// WithRequestID returns a new logger with the request ID attached.
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("request_id", requestID))}
}

// WithRenderID returns a new logger with the render ID attached.
func (l *Logger) WithRenderID(renderID string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("render_id", renderID))}
}

// WithComponent returns a new logger with the component name attached.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("component", component))}
}

// WithError returns a new logger with the error attached.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{Logger: l.Logger.With(slog.String("error", err.Error()))}
}

// WithFields returns a new logger with additional fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	attrs := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	return &Logger{Logger: l.Logger.With(attrs...)}
}

// FromContext returns a logger enriched with the identifiers stored in ctx.
func (l *Logger) FromContext(ctx context.Context) *Logger {
	result := l
	if reqID, ok := ctx.Value(RequestIDKey).(string); ok && reqID != "" {
		result = result.WithRequestID(reqID)
	}
	if renderID, ok := ctx.Value(RenderIDKey).(string); ok && renderID != "" {
		result = result.WithRenderID(renderID)
	}
	return result
}

// LogError logs an error together with the caller location.
func (l *Logger) LogError(ctx context.Context, msg string, err error, args ...any) {
	if err == nil {
		return
	}

	_, file, line, ok := runtime.Caller(1)
	if ok {
		args = append(args, "source", slog.GroupValue(
			slog.String("file", file),
			slog.Int("line", line),
		))
	}

	args = append(args, "error", err.Error())
	l.FromContext(ctx).Error(msg, args...)
}

// LogFatal logs a fatal error and exits.
func (l *Logger) LogFatal(msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err.Error())
	}
	l.Error(msg, args...)
	os.Exit(1)
}

// ContextWithRequestID adds a request ID to the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// ContextWithRenderID adds a render ID to the context.
func ContextWithRenderID(ctx context.Context, renderID string) context.Context {
	return context.WithValue(ctx, RenderIDKey, renderID)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
