// Package logger provides structured logging using log/slog. It sets up a
// JSON handler tagged with the service name and the trading session date, and
// carries the contract symbol through context.Context so per-manager log
// entries can be correlated to a session.
package logger

import (
	"context"
	"log/slog"
	"os"
)

type ctxKey string

const sessionKey ctxKey = "session"

// Init creates the structured logger for the given service and makes it the
// slog default so package-level slog calls share the handler.
func Init(service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)
	slog.SetDefault(logger)
	return logger
}

// WithSession stores the "symbol@session-date" tag in the context.
func WithSession(ctx context.Context, tag string) context.Context {
	return context.WithValue(ctx, sessionKey, tag)
}

// Session extracts the session tag from context. Returns "" if not set.
func Session(ctx context.Context) string {
	if v, ok := ctx.Value(sessionKey).(string); ok {
		return v
	}
	return ""
}

// WithSessionAttrs returns slog attributes including the session tag from the
// context, for handlers that log inside manager update paths.
func WithSessionAttrs(ctx context.Context) []any {
	tag := Session(ctx)
	if tag == "" {
		return nil
	}
	return []any{slog.String("session", tag)}
}
