// Package requestctx carries per-request values shared by middleware, handlers and the error writer.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type key[T any] struct{}

func store[T any](ctx context.Context, v T) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key[T]{}, v)
}

func load[T any](ctx context.Context) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	v, ok := ctx.Value(key[T]{}).(T)
	return v, ok
}

var nop = zap.NewNop()

// TraceInfo is the Cloud Trace context of a request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// WithLogger attaches the request-scoped logger. A nil logger attaches a no-op one.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = nop
	}
	return store(ctx, logger)
}

// Logger returns the request logger, or a no-op logger when none is attached.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := load[*zap.Logger](ctx); ok && logger != nil {
		return logger
	}
	return nop
}

// HasLogger reports whether a real logger is attached.
func HasLogger(ctx context.Context) bool {
	logger, ok := load[*zap.Logger](ctx)
	return ok && logger != nil && logger != nop
}

// WithTrace attaches trace metadata.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return store(ctx, info)
}

// Trace returns the attached trace metadata.
func Trace(ctx context.Context) (TraceInfo, bool) {
	return load[TraceInfo](ctx)
}

// TraceID returns the trace identifier, or "".
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}
