// Package apikey provides an API key authenticator that validates
// caller keys against a static key store using SHA-256 hashing
// and constant-time comparison.
//
// A key is read from "Authorization: Bearer <key>" or, failing that, from
// the X-API-Key header used by most vendor SDKs.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/rhuss/weiche/pkg/auth"
)

// HeaderAPIKey is the alternative header carrying a raw key.
const HeaderAPIKey = "X-API-Key"

// KeyEntry maps a key hash to an identity.
type KeyEntry struct {
	KeyHash  [32]byte
	Identity auth.Identity
}

// RawKeyEntry is the configuration format for API keys.
type RawKeyEntry struct {
	Key      string
	Identity auth.Identity
}

// Authenticator validates bearer tokens against a static key store.
type Authenticator struct {
	keys []KeyEntry
}

var _ auth.Authenticator = (*Authenticator)(nil)

// New creates an API key authenticator from a list of raw keys and identities.
// Keys are hashed immediately; plaintext keys are not stored.
func New(entries []RawKeyEntry) *Authenticator {
	a := &Authenticator{}
	for _, e := range entries {
		a.keys = append(a.keys, KeyEntry{
			KeyHash:  sha256.Sum256([]byte(e.Key)),
			Identity: e.Identity,
		})
	}
	return a
}

// NewChecked is New with validation: every entry needs a key and a
// subject, and no key may appear twice.
func NewChecked(entries []RawKeyEntry) (*Authenticator, error) {
	seen := make(map[[32]byte]string, len(entries))
	for i, e := range entries {
		if e.Key == "" {
			return nil, fmt.Errorf("api key %d: empty key", i)
		}
		if e.Identity.Subject == "" {
			return nil, fmt.Errorf("api key %d: empty subject", i)
		}
		h := sha256.Sum256([]byte(e.Key))
		if prev, dup := seen[h]; dup {
			return nil, fmt.Errorf("api key %d: duplicate of key for subject %q", i, prev)
		}
		seen[h] = e.Identity.Subject
	}
	return New(entries), nil
}

// Authenticate extracts the caller key and validates it.
// Returns Yes if valid, No if a key is present but unknown,
// Abstain if the request carries no key at all.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.AuthResult {
	token, present := extractKey(r)
	if !present {
		return auth.AuthResult{Decision: auth.Abstain}
	}
	if token == "" {
		return auth.AuthResult{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	tokenHash := sha256.Sum256([]byte(token))

	// No early exit: every entry is compared.
	var match *KeyEntry
	for i := range a.keys {
		if subtle.ConstantTimeCompare(tokenHash[:], a.keys[i].KeyHash[:]) == 1 {
			match = &a.keys[i]
		}
	}
	if match == nil {
		return auth.AuthResult{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	id := match.Identity
	if len(match.Identity.Metadata) > 0 {
		id.Metadata = make(map[string]string, len(match.Identity.Metadata))
		for k, v := range match.Identity.Metadata {
			id.Metadata[k] = v
		}
	}
	return auth.AuthResult{Decision: auth.Yes, Identity: &id}
}

// extractKey returns the caller key and whether the request carried one.
// A non-Bearer Authorization header is left to other authenticators.
func extractKey(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		if ok {
			return strings.TrimSpace(token), true
		}
		return "", false
	}
	if values, ok := r.Header[http.CanonicalHeaderKey(HeaderAPIKey)]; ok {
		if len(values) == 0 {
			return "", true
		}
		return strings.TrimSpace(values[0]), true
	}
	return "", false
}
