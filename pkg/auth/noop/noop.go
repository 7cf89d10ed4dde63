// Package noop provides a no-op authenticator that accepts all requests.
// Used for development and as the fallback voter in the auth chain; all
// anonymous callers share one run owner.
package noop

import (
	"context"
	"net/http"

	"github.com/rhuss/weiche/pkg/auth"
)

// AnonymousSubject is the subject assigned to every caller.
const AnonymousSubject = "anonymous"

// Authenticator always returns Yes with a default anonymous identity.
type Authenticator struct{}

var _ auth.Authenticator = (*Authenticator)(nil)

func (a *Authenticator) Authenticate(_ context.Context, _ *http.Request) auth.AuthResult {
	return auth.AuthResult{
		Decision: auth.Yes,
		Identity: &auth.Identity{
			Subject:     AnonymousSubject,
			ServiceTier: auth.DefaultTier,
		},
	}
}
