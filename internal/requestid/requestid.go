// Package requestid mints and propagates per-request correlation IDs and
// attaches them to log events.
package requestid

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type ctxKey struct{}

// Header is the canonical request ID header.
const Header = "X-Request-ID"

// With returns a context carrying the given request ID. An empty ID is
// replaced with a fresh one, so callers can pass an inbound header value
// straight through.
func With(ctx context.Context, id string) (context.Context, string) {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, ctxKey{}, id), id
}

// FromContext returns the context's request ID, or "" when it has none.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Logger returns the logger with the context's request ID attached, so
// every event emitted during the request carries the correlation field.
func Logger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if id := FromContext(ctx); id != "" {
		return logger.With().Str("request_id", id).Logger()
	}
	return logger
}
