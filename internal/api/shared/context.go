package shared

import (
	"context"

	"github.com/google/uuid"
)

// contextKey is an unexported type for context keys defined in this package.
type contextKey int

// traceIDKey is the context key under which the request trace id is stored.
const traceIDKey contextKey = iota

// SetTraceID returns a copy of ctx carrying a freshly generated trace id.
func SetTraceID(ctx context.Context) context.Context {
	return context.WithValue(ctx, traceIDKey, uuid.New().String())
}

// GetTraceID returns the trace id stored in ctx, or an empty string.
func GetTraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}
