package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/rhuss/weiche/pkg/debug"
)

// AuthDecision represents the three possible outcomes of authentication.
type AuthDecision int

const (
	// Yes means credentials are valid. The chain stops and the identity is used.
	Yes AuthDecision = iota

	// No means credentials are present but invalid. The chain stops and the
	// request is rejected.
	No

	// Abstain means this authenticator cannot handle the credentials type.
	// The chain continues to the next authenticator.
	Abstain
)

func (d AuthDecision) String() string {
	switch d {
	case Yes:
		return "yes"
	case No:
		return "no"
	case Abstain:
		return "abstain"
	}
	return "unknown"
}

// anonymous is the identity granted when every authenticator abstains and
// the chain defaults to Yes. All anonymous callers share one run owner.
func anonymous() *Identity {
	return &Identity{Subject: "anonymous", ServiceTier: DefaultTier}
}

// AuthResult carries the outcome of an authentication attempt.
type AuthResult struct {
	Decision AuthDecision
	Identity *Identity // populated only when Decision == Yes
	Err      error     // populated only when Decision == No
}

// Identity represents an authenticated caller.
type Identity struct {
	// Subject is the unique identifier (required, non-empty).
	Subject string

	// ServiceTier determines rate limits and priority.
	ServiceTier string

	// Scopes lists the authorization scopes granted.
	Scopes []string

	// Metadata carries auth-provider-specific data.
	// The key "tenant_id" groups several subjects under one run owner.
	Metadata map[string]string
}

// TenantID returns the tenant identifier from metadata, or empty string.
func (id *Identity) TenantID() string {
	if id == nil || id.Metadata == nil {
		return ""
	}
	return id.Metadata["tenant_id"]
}

// Owner returns the key that scopes persisted runs: the tenant when one is
// set, the subject otherwise.
func (id *Identity) Owner() string {
	if id == nil {
		return ""
	}
	if t := id.TenantID(); t != "" {
		return t
	}
	return id.Subject
}

// Authenticator examines request credentials and returns a three-outcome vote.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) AuthResult
}

// Sentinel errors.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("access denied")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// AuthChain evaluates authenticators in order using three-outcome voting.
type AuthChain struct {
	// Authenticators are evaluated left to right.
	Authenticators []Authenticator

	// DefaultDecision is used when all authenticators abstain. Yes admits
	// the caller as anonymous; anything else rejects.
	DefaultDecision AuthDecision
}

// Authenticate runs the chain and returns the first Yes or No vote, or the
// default decision when every authenticator abstains.
func (c *AuthChain) Authenticate(ctx context.Context, r *http.Request) AuthResult {
	for i, authn := range c.Authenticators {
		result := authn.Authenticate(ctx, r)
		if result.Decision == Abstain {
			continue
		}
		debug.Log("auth", "authenticator decided", "index", i, "decision", result.Decision.String())
		return result
	}

	if c.DefaultDecision == Yes {
		return AuthResult{Decision: Yes, Identity: anonymous()}
	}
	return AuthResult{Decision: No, Err: ErrUnauthenticated}
}
