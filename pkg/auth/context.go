package auth

import (
	"context"

	"github.com/rhuss/weiche/pkg/storage"
)

type identityKey struct{}

// WithIdentity attaches an authenticated caller to ctx. The caller's owner
// key is attached too, so run store reads and writes made with the returned
// context are scoped to it.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	ctx = context.WithValue(ctx, identityKey{}, id)
	return storage.WithOwner(ctx, id.Owner())
}

// IdentityFromContext returns the caller attached by WithIdentity, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
