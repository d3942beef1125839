package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"pyro/internal/pkg/errors"
)

type contextKey string

const (
	// RequestIDKey carries the HTTP request id set by middleware.RequestID.
	RequestIDKey contextKey = "request_id"
	// JobIDKey carries the render or async job id.
	JobIDKey contextKey = "job_id"
)

// Logger wraps slog.Logger with the service's context-aware helpers.
type Logger struct {
	*slog.Logger
}

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// Format is json (default) or text.
	Format string
	// Output defaults to os.Stdout.
	Output    io.Writer
	AddSource bool
	// ServiceName is attached to every record as "service".
	ServiceName string
}

// DefaultConfig returns the configuration used when nothing else is supplied.
func DefaultConfig() Config {
	return Config{
		Level:       "info",
		Format:      "json",
		Output:      os.Stdout,
		ServiceName: "pyro",
	}
}

func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339Nano))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(cfg.Output, opts)
	default:
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	if cfg.ServiceName != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.ServiceName)})
	}

	return &Logger{Logger: slog.New(handler)}
}

func NewDefault() *Logger {
	return New(DefaultConfig())
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.with(slog.String("request_id", requestID))
}

func (l *Logger) WithJobID(jobID string) *Logger {
	return l.with(slog.String("job_id", jobID))
}

// WithComponent names the subsystem, e.g. "render.executor" or "worker".
func (l *Logger) WithComponent(component string) *Logger {
	return l.with(slog.String("component", component))
}

// WithResolution attaches a frame size.
func (l *Logger) WithResolution(width, height int) *Logger {
	return l.with(slog.Int("width", width), slog.Int("height", height))
}

// WithError attaches err and, for service errors, its code. A nil error
// returns l unchanged.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with(errorAttrs(err)...)
}

func (l *Logger) WithFields(fields map[string]any) *Logger {
	attrs := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	return l.with(attrs...)
}

// FromContext returns l enriched with the request and job ids found in ctx.
func (l *Logger) FromContext(ctx context.Context) *Logger {
	out := l
	if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
		out = out.WithRequestID(id)
	}
	if id, ok := ctx.Value(JobIDKey).(string); ok && id != "" {
		out = out.WithJobID(id)
	}
	return out
}

// LogError logs err at error level with the caller's file and line.
func (l *Logger) LogError(ctx context.Context, msg string, err error, args ...any) {
	if err == nil {
		return
	}
	if _, file, line, ok := runtime.Caller(1); ok {
		args = append(args, "source", slog.GroupValue(
			slog.String("file", file),
			slog.Int("line", line),
		))
	}
	args = append(args, errorAttrs(err)...)
	l.FromContext(ctx).Error(msg, args...)
}

// LogFatal logs and exits with status 1.
func (l *Logger) LogFatal(msg string, err error, args ...any) {
	if err != nil {
		args = append(args, errorAttrs(err)...)
	}
	l.Error(msg, args...)
	os.Exit(1)
}

func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func ContextWithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

func errorAttrs(err error) []any {
	attrs := []any{slog.String("error", err.Error())}
	var e *errors.Error
	if errors.As(err, &e) {
		attrs = append(attrs, slog.String("error_code", string(e.Code)))
	}
	return attrs
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
