package slogx

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

func FromContext(ctx context.Context) *slog.Logger {
	l, ok := ctx.Value(ctxKey{}).(*slog.Logger)
	if !ok {
		return slog.Default()
	}
	return l
}

// WithIdentity tags every downstream log line with the identity being acted
// on. Call it once at the top of a request-scoped operation.
func WithIdentity(ctx context.Context, identityID string) context.Context {
	l := FromContext(ctx)
	return WithContext(ctx, l.With("identity_id", identityID))
}

// WithSession tags downstream log lines with a session id.
func WithSession(ctx context.Context, sessionID string) context.Context {
	l := FromContext(ctx)
	return WithContext(ctx, l.With("sid", sessionID))
}
