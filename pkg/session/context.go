package session

import "context"

// contextKey is a private type for context keys.
type contextKey int

const sessionContextKey contextKey = iota

// WithSession adds a resolved session to the context. The dispatcher sets
// it before invoking the protocol handler so tools can reach the
// session's browser resource.
func WithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}

// GetSession retrieves the resolved session from the context, or nil when
// the request did not pass through the dispatcher.
func GetSession(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey).(*Session)
	return sess
}
