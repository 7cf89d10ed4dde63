package storage

import "context"

type ownerKey struct{}

// WithOwner injects the owning subject into the context.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// Owner extracts the owning subject from the context. Returns an empty
// string when no owner is set, which disables scoping.
func Owner(ctx context.Context) string {
	if v, ok := ctx.Value(ownerKey{}).(string); ok {
		return v
	}
	return ""
}
