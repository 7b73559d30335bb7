package context

import (
	"context"
	"strings"
)

type ctxKey string

const requestIDKey ctxKey = "request_id"

// WithRequestID stores the correlation id for the current request or event.
func WithRequestID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the correlation id, or "" if none was injected.
func RequestID(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
