package normalize

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/rhuss/weiche/pkg/api"
	"github.com/rhuss/weiche/pkg/debug"
)

// DefaultRedirectHosts are hosts whose URLs wrap the real source behind a
// redirect, as used by the Google search grounding layer.
var DefaultRedirectHosts = []string{"vertexaisearch.cloud.google.com"}

// ResolverConfig configures redirect resolution.
type ResolverConfig struct {
	// Timeout bounds one lookup (default 2s).
	Timeout time.Duration

	// Concurrency bounds parallel lookups per Resolve call (default 8).
	Concurrency int

	// TTL of cached destinations (default 24h).
	TTL time.Duration

	// Hosts lists redirect-wrapping hosts. Only their URLs are resolved.
	Hosts []string

	// MaxHops bounds followed redirects (default 5).
	MaxHops int
}

// Resolver resolves redirect-wrapping citation URLs to their destination
// with a HEAD request. Resolution is best-effort: on any failure the
// original URL is kept.
type Resolver struct {
	cfg    ResolverConfig
	cache  Cache
	client *http.Client
	group  singleflight.Group
}

// NewResolver creates a Resolver. A nil cache uses a MemoryCache; a nil
// client uses a default client.
func NewResolver(cfg ResolverConfig, cache Cache, client *http.Client) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = 5
	}
	if len(cfg.Hosts) == 0 {
		cfg.Hosts = DefaultRedirectHosts
	}
	if cache == nil {
		cache = NewMemoryCache(0)
	}
	if client == nil {
		client = &http.Client{}
	}

	maxHops := cfg.MaxHops
	c := *client
	c.CheckRedirect = func(_ *http.Request, via []*http.Request) error {
		if len(via) >= maxHops {
			return http.ErrUseLastResponse
		}
		return nil
	}
	return &Resolver{cfg: cfg, cache: cache, client: &c}
}

// IsRedirect reports whether raw points at a configured redirect host.
func (r *Resolver) IsRedirect(raw string) bool {
	return slices.Contains(r.cfg.Hosts, Host(raw))
}

// Resolve returns a copy of cs with redirect URLs replaced by their
// destination. The pre-redirect URL is kept in OriginalURL.
func (r *Resolver) Resolve(ctx context.Context, cs []api.Citation) []api.Citation {
	out := slices.Clone(cs)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i := range out {
		if !r.IsRedirect(out[i].URL) {
			continue
		}
		g.Go(func() error {
			orig := out[i].URL
			if dest := r.lookup(gctx, orig); dest != orig {
				out[i].URL = dest
				if out[i].OriginalURL == "" {
					out[i].OriginalURL = orig
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (r *Resolver) lookup(ctx context.Context, raw string) string {
	if v, ok := r.cache.Get(ctx, raw); ok {
		return v
	}

	v, _, _ := r.group.Do(raw, func() (any, error) {
		dest, ok := r.head(ctx, raw)
		if ok {
			r.cache.Set(ctx, raw, dest, r.cfg.TTL)
		}
		return dest, nil
	})
	return v.(string)
}

// head follows redirects from raw and returns the last URL reached. A
// failure after at least one hop still yields the hop target.
func (r *Resolver) head(ctx context.Context, raw string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, raw, nil)
	if err != nil {
		return raw, false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.URL != "" && urlErr.URL != raw && !r.IsRedirect(urlErr.URL) {
			debug.Log("normalize", "redirect target unreachable, keeping target", "target", urlErr.URL)
			return urlErr.URL, true
		}
		debug.Log("normalize", "redirect resolution failed", "url", raw, "error", err.Error())
		return raw, false
	}
	resp.Body.Close()

	final := resp.Request.URL.String()
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		if loc, err := resp.Location(); err == nil {
			final = loc.String()
		}
	}
	if final == raw || r.IsRedirect(final) {
		return raw, false
	}
	return final, true
}
