package entity

import "context"

// Caller is the authenticated user a request acts for. Token is the bearer
// the user presented; upstream calls made on their behalf reuse it.
type Caller struct {
	UserID string
	Role   string
	Token  string
}

type callerCtxKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerCtxKey{}, c)
}

// CallerFrom reports the caller stored in ctx. An empty Caller counts as none.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, _ := ctx.Value(callerCtxKey{}).(Caller)
	return c, c.UserID != ""
}
