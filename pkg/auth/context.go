// Package auth validates request credentials: static API keys checked
// first, then bearer identity tokens verified locally against the
// provider's published keys or remotely via introspection. Validated
// identities are cached by a non-reversible credential fingerprint.
package auth

import "context"

// contextKey is a private type for context keys.
type contextKey int

const identityContextKey contextKey = iota

// WithIdentity adds the authenticated identity to the context.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// GetIdentity retrieves the authenticated identity from the context, or
// nil when the request was not authenticated.
func GetIdentity(ctx context.Context) *Identity {
	if identity, ok := ctx.Value(identityContextKey).(*Identity); ok {
		return identity
	}
	return nil
}
