package tools

import "context"

type invocationKey struct{}

// Invocation identifies who a tool runs for.
type Invocation struct {
	UserID   string
	RunID    string
	ThreadID string
	ActionID string
}

// WithInvocation attaches inv to ctx for Execute.
func WithInvocation(ctx context.Context, inv Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// InvocationFromContext returns the invocation attached to ctx.
func InvocationFromContext(ctx context.Context) (Invocation, bool) {
	inv, ok := ctx.Value(invocationKey{}).(Invocation)
	return inv, ok
}

func userFromContext(ctx context.Context) string {
	inv, _ := InvocationFromContext(ctx)
	return inv.UserID
}
