// Package logger provides the structured logger shared by every shipyard
// component. It is a thin layer over logrus that pins a module field and
// carries request trace ids through context.
package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type ctxKey string

const (
	traceIDKey ctxKey = "trace_id"
	actorKey   ctxKey = "actor"
)

// LoggingConfig controls how log lines are rendered.
type LoggingConfig struct {
	Level  string    `yaml:"level" env:"SHIPYARD_LOG_LEVEL"`
	Format string    `yaml:"format" env:"SHIPYARD_LOG_FORMAT"`
	Output io.Writer `yaml:"-"`
}

// Logger is a module-scoped logrus entry.
type Logger struct {
	*logrus.Entry
}

// New builds a root logger from configuration.
func New(cfg LoggingConfig) *Logger {
	base := logrus.New()
	if cfg.Output != nil {
		base.SetOutput(cfg.Output)
	} else {
		base.SetOutput(os.Stdout)
	}

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return &Logger{Entry: logrus.NewEntry(base)}
}

// NewDefault returns an info-level text logger tagged with module.
func NewDefault(module string) *Logger {
	return New(LoggingConfig{}).Module(module)
}

// Module derives a logger for a named component, sharing the same output.
func (l *Logger) Module(name string) *Logger {
	return &Logger{Entry: l.Entry.WithField("module", name)}
}

// WithContext attaches request-scoped fields found in ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Entry.WithContext(ctx)
	if id := TraceID(ctx); id != "" {
		entry = entry.WithField("trace_id", id)
	}
	if actor := Actor(ctx); actor != "" {
		entry = entry.WithField("actor", actor)
	}
	return entry
}

// NewTraceID generates a fresh trace id.
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID stores a trace id on ctx.
func WithTraceID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, traceIDKey, id)
}

// TraceID returns the trace id stored on ctx, if any.
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// WithActor stores the acting address on ctx for log correlation.
func WithActor(ctx context.Context, actor string) context.Context {
	if actor == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey, actor)
}

// Actor returns the acting address stored on ctx, if any.
func Actor(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	actor, _ := ctx.Value(actorKey).(string)
	return actor
}
