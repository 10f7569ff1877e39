// Package correlation propagates a per-request correlation ID through
// context so logs and traces for one request can be joined.
package correlation

import (
	"context"

	"github.com/oklog/ulid/v2"
)

type correlationKey struct{}

// FromContext fetches the correlation ID from the context if present.
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if val, ok := ctx.Value(correlationKey{}).(string); ok {
		return val
	}
	return ""
}

// WithID sets the correlation ID onto the context.
func WithID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// Ensure guarantees a correlation ID on the context, generating a ULID when
// missing.
func Ensure(ctx context.Context) (context.Context, string) {
	cid := FromContext(ctx)
	if cid == "" {
		cid = ulid.Make().String()
	}
	return WithID(ctx, cid), cid
}
