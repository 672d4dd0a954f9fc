package shared

import "context"

type sessionContextKey struct{}

// ContextWithSession attaches the authenticated session to the request
// context so handlers can read the actor without extra plumbing.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext returns the session stored by the auth middleware,
// or nil for an unauthenticated request.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}
