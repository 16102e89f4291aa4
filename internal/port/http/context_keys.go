package http

// ContextKey is the type of request-context keys set by the middleware.
type ContextKey string

const (
	UserIDCtxKey   = ContextKey("user_id")
	UserRoleCtxKey = ContextKey("user_role")
)
