package logging

import "context"

type traceIDKey struct{}

// WithTraceID returns a context carrying id, so downstream calls can
// attribute their log and audit records to the originating invocation.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, id)
}

// TraceID returns the trace id carried by ctx, or "" if none was set.
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}
