package auth

import "context"

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the authenticated identity, or nil when the
// request was not authenticated.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// TenantFromContext returns the tenant of the authenticated identity, or
// an empty string.
func TenantFromContext(ctx context.Context) string {
	if id := IdentityFromContext(ctx); id != nil {
		return id.TenantID
	}
	return ""
}
