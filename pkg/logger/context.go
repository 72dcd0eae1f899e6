package logger

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// With returns a context whose logger carries the extra fields.
func With(ctx context.Context, fields ...any) context.Context {
	l := From(ctx).With(fields...)
	return context.WithValue(ctx, ctxKey{}, l)
}

// From returns the logger stored in context, or the process logger.
func From(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
			return l
		}
	}
	return LoggerWrapper()
}
