package monitor

import "context"

// correlationIDKeyType is an unexported type so correlation ids never
// collide with context keys set by other packages.
type correlationIDKeyType struct{}

var correlationIDKey = correlationIDKeyType{}

// WithCorrelationID attaches a correlation id to ctx so log records
// emitted with that context (the slog *Context calls) carry it. No
// package in this module calls it, so log lines carry no correlation id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID extracts a correlation id previously attached with
// WithCorrelationID, returning "" if none is set.
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(correlationIDKey).(string); ok {
		return v
	}
	return ""
}
