package ctxutil

import "context"

// Default returns context.Background() when ctx is nil.
func Default(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// RequestIDs identifies one inbound API call across logs and traces.
type RequestIDs struct {
	TraceID   string
	RequestID string
}

type requestIDsKey struct{}

func WithRequestIDs(ctx context.Context, ids RequestIDs) context.Context {
	return context.WithValue(Default(ctx), requestIDsKey{}, ids)
}

// RequestIDsFrom reports false for contexts that did not pass through the
// API middleware (workers, CLI).
func RequestIDsFrom(ctx context.Context) (RequestIDs, bool) {
	if ctx == nil {
		return RequestIDs{}, false
	}
	ids, ok := ctx.Value(requestIDsKey{}).(RequestIDs)
	return ids, ok
}

// LogFields returns the ids as logger key/value pairs, or nil.
func LogFields(ctx context.Context) []interface{} {
	ids, ok := RequestIDsFrom(ctx)
	if !ok {
		return nil
	}
	var out []interface{}
	if ids.TraceID != "" {
		out = append(out, "trace_id", ids.TraceID)
	}
	if ids.RequestID != "" {
		out = append(out, "request_id", ids.RequestID)
	}
	return out
}
