package analyses

import "context"

type requestIDKey struct{}

// WithRequestID tags ctx so pipeline log lines carry the HTTP request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil || requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// detach returns a context that survives the caller going away. Once a
// submission is stored, abandoning the request must not cancel the AI call
// or the writes that follow it.
func detach(ctx context.Context) context.Context {
	return WithRequestID(context.Background(), requestIDFromContext(ctx))
}
