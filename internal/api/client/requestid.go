package client

import "context"

// RequestIDHeader carries the request ID to the backend.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// ContextWithRequestID returns ctx carrying id. Outgoing requests made with
// the returned context reuse it instead of generating a fresh one.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request ID stored in ctx, if any.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
