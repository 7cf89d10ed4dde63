package auth

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"slices"
	"strconv"

	"github.com/rhuss/weiche/pkg/api"
	"github.com/rhuss/weiche/pkg/observability"
	"github.com/rhuss/weiche/pkg/transport"
)

// DefaultBypassEndpoints are served without authentication.
var DefaultBypassEndpoints = []string{"/healthz", "/metrics"}

// Middleware authenticates every request not in bypass, applies the
// optional rate limiter and stores the identity (and run owner) in the
// request context.
func Middleware(chain *AuthChain, limiter RateLimiter, bypass []string) func(http.Handler) http.Handler {
	bypass = slices.Clone(bypass)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if slices.Contains(bypass, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			id, ok := authenticate(w, r, chain)
			if !ok {
				return
			}
			if limiter != nil && !admit(w, r, limiter, id) {
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// authenticate runs the chain and writes the error response itself when
// the caller is rejected.
func authenticate(w http.ResponseWriter, r *http.Request, chain *AuthChain) (*Identity, bool) {
	result := chain.Authenticate(r.Context(), r)

	switch {
	case result.Decision != Yes || result.Identity == nil:
		slog.Warn("authentication failed", "path", r.URL.Path, "remote_addr", r.RemoteAddr, "error", result.Err)
		w.Header().Set("WWW-Authenticate", `Bearer realm="weiche"`)
		transport.WriteError(w, api.NewError(transport.ErrorKindUnauthorized, "authentication required"))
		return nil, false
	case result.Identity.Subject == "":
		slog.Error("authenticator returned identity without subject", "path", r.URL.Path)
		transport.WriteError(w, api.NewError(transport.ErrorKindInternal, "internal authentication error"))
		return nil, false
	}

	slog.Debug("authenticated", "subject", result.Identity.Subject, "owner", result.Identity.Owner(), "path", r.URL.Path)
	return result.Identity, true
}

// admit applies the rate limiter, answering 429 with Retry-After when the
// caller's budget is spent.
func admit(w http.ResponseWriter, r *http.Request, limiter RateLimiter, id *Identity) bool {
	err := limiter.Allow(r.Context(), id)
	if err == nil {
		return true
	}

	tier := id.Tier()
	slog.Warn("rate limit exceeded", "subject", id.Subject, "tier", tier)
	observability.RateLimitRejectedTotal.WithLabelValues(tier).Inc()

	var le *LimitError
	if errors.As(err, &le) {
		secs := int(math.Ceil(le.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
	}
	transport.WriteError(w, api.NewError(transport.ErrorKindTooManyRequests, "rate limit exceeded"))
	return false
}
