package utils

// ContextKey is the type for values this service stores on a request
// context (user id, username, request id).
type ContextKey string

const (
	UserIDKey    = ContextKey("userId")
	UsernameKey  = ContextKey("username")
	RequestIDKey = ContextKey("requestId")
)
