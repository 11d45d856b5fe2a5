// Package logging provides the context-aware structured logger used across
// the gateway.
package logging

import (
	"context"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type contextKey string

const (
	// RequestIDKey carries the per-request id through the call chain.
	RequestIDKey contextKey = "request_id"
	// TenantIDKey carries the resolved tenant.
	TenantIDKey contextKey = "tenant_id"
	// UserIDKey carries the authenticated actor id.
	UserIDKey contextKey = "user_id"
	// RoleKey carries the actor's primary role, when present.
	RoleKey contextKey = "role"
)

// Logger wraps logrus with helpers that enrich entries from the request
// context.
type Logger struct {
	entry *logrus.Entry
}

// New creates a JSON logger for the named component writing to out.
func New(component string, level string, out io.Writer) *Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.JSONFormatter{})
	if parsed, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(parsed)
	}
	return &Logger{entry: l.WithField("component", component)}
}

// NewDefault creates an info-level logger writing to stderr.
func NewDefault(component string) *Logger {
	return New(component, "info", os.Stderr)
}

// WithContext returns a logger enriched with request id, tenant and actor
// fields found in ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	entry := l.entry
	if ctx == nil {
		return &Logger{entry: entry}
	}
	if v, ok := ctx.Value(RequestIDKey).(string); ok && v != "" {
		entry = entry.WithField(string(RequestIDKey), v)
	}
	if v, ok := ctx.Value(TenantIDKey).(string); ok && v != "" {
		entry = entry.WithField(string(TenantIDKey), v)
	}
	if v, ok := ctx.Value(UserIDKey).(string); ok && v != "" {
		entry = entry.WithField(string(UserIDKey), v)
	}
	return &Logger{entry: entry}
}

// WithFields returns a logger with the given fields attached.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// WithField returns a logger with one field attached.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// WithError returns a logger with the error attached.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

func (l *Logger) Debug(args ...interface{}) { l.entry.Debug(args...) }
func (l *Logger) Info(args ...interface{})  { l.entry.Info(args...) }
func (l *Logger) Warn(args ...interface{})  { l.entry.Warn(args...) }
func (l *Logger) Error(args ...interface{}) { l.entry.Error(args...) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// NewRequestID generates a fresh request id.
func NewRequestID() string {
	return uuid.NewString()
}

// WithRequestID stores a request id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// GetRequestID returns the request id stored in ctx, or "".
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithTenantID stores the resolved tenant in ctx.
func WithTenantID(ctx context.Context, tenant string) context.Context {
	if tenant == "" {
		return ctx
	}
	return context.WithValue(ctx, TenantIDKey, tenant)
}

// GetTenantID returns the tenant stored in ctx, or "".
func GetTenantID(ctx context.Context) string {
	if v, ok := ctx.Value(TenantIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID stores the actor id in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID returns the actor id stored in ctx, or "".
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return ""
}
