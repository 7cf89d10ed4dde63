package normalize

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rhuss/weiche/pkg/api"
)

// redirectServer answers HEAD /r/* with a 302 to the destination server,
// addressed as "localhost" so that it does not count as a redirect host.
func redirectServer(t *testing.T) (redirector *httptest.Server, dest *httptest.Server, hits *atomic.Int32) {
	t.Helper()
	hits = &atomic.Int32{}
	dest = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(dest.Close)

	destBase := strings.Replace(dest.URL, "127.0.0.1", "localhost", 1)
	redirector = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch {
		case strings.HasPrefix(r.URL.Path, "/r/"):
			http.Redirect(w, r, destBase+"/article/"+strings.TrimPrefix(r.URL.Path, "/r/"), http.StatusFound)
		case r.URL.Path == "/slow":
			time.Sleep(300 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(redirector.Close)
	return redirector, dest, hits
}

func TestResolverResolves(t *testing.T) {
	redirector, dest, hits := redirectServer(t)
	r := NewResolver(ResolverConfig{Hosts: []string{"127.0.0.1"}}, nil, nil)

	in := []api.Citation{
		{URL: redirector.URL + "/r/1", Kind: api.CitationAnchored},
		{URL: "https://example.com/direct", Kind: api.CitationUnlinked},
		{URL: redirector.URL + "/r/1", Kind: api.CitationUnlinked},
	}
	out := r.Resolve(context.Background(), in)

	wantDest := strings.Replace(dest.URL, "127.0.0.1", "localhost", 1) + "/article/1"
	require.Equal(t, wantDest, out[0].URL)
	require.Equal(t, redirector.URL+"/r/1", out[0].OriginalURL)
	require.Equal(t, "https://example.com/direct", out[1].URL)
	require.Empty(t, out[1].OriginalURL)
	require.Equal(t, wantDest, out[2].URL)

	// Input is not modified.
	require.Equal(t, redirector.URL+"/r/1", in[0].URL)

	// Second call is served from the cache.
	before := hits.Load()
	again := r.Resolve(context.Background(), in[:1])
	require.Equal(t, wantDest, again[0].URL)
	require.Equal(t, before, hits.Load())
}

func TestResolverKeepsOriginalOnFailure(t *testing.T) {
	redirector, _, _ := redirectServer(t)
	r := NewResolver(ResolverConfig{Hosts: []string{"127.0.0.1"}, Timeout: 50 * time.Millisecond}, nil, nil)

	in := []api.Citation{
		{URL: redirector.URL + "/slow", Kind: api.CitationUnlinked},
		{URL: redirector.URL + "/missing", Kind: api.CitationUnlinked},
	}
	out := r.Resolve(context.Background(), in)

	require.Equal(t, in[0].URL, out[0].URL)
	require.Empty(t, out[0].OriginalURL)
	require.Equal(t, in[1].URL, out[1].URL)
}

func TestCitationsFinalizeIdempotent(t *testing.T) {
	redirector, _, _ := redirectServer(t)
	pipeline := NewCitations(NewResolver(ResolverConfig{Hosts: []string{"127.0.0.1"}}, nil, nil), nil)

	in := []api.Citation{
		{URL: redirector.URL + "/r/7", Kind: api.CitationUnlinked},
		{URL: "https://www.cdc.gov/flu/?utm_source=x", Kind: api.CitationAnchored},
		{URL: "https://cdc.gov/flu/", Kind: api.CitationUnlinked},
	}
	once := pipeline.Finalize(context.Background(), in)
	require.Len(t, once, 2)
	require.Equal(t, TierAuthoritative, once[1].Tier)

	twice := pipeline.Finalize(context.Background(), once)
	require.Equal(t, once, twice)

	anchored, unlinked := Counts(once)
	require.Equal(t, 1, anchored)
	require.Equal(t, 1, unlinked)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(2)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Set(ctx, "a", "A", time.Minute)
	v, ok := c.Get(ctx, "a")
	require.True(t, ok)
	require.Equal(t, "A", v)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get(ctx, "a")
	require.False(t, ok)

	c.Set(ctx, "b", "B", 0)
	c.Set(ctx, "c", "C", 0)
	c.Set(ctx, "d", "D", 0)
	require.LessOrEqual(t, c.Len(), 2)
	v, ok = c.Get(ctx, "d")
	require.True(t, ok)
	require.Equal(t, "D", v)
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("WEICHE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("WEICHE_TEST_REDIS_ADDR not set, skipping Redis cache test")
	}
	ctx := context.Background()
	c, err := NewRedisCache(ctx, RedisCacheConfig{Address: addr, Prefix: "weiche:test:" + api.NewRequestID() + ":"})
	require.NoError(t, err)
	defer c.Close()

	_, ok := c.Get(ctx, "https://r/1")
	require.False(t, ok)

	c.Set(ctx, "https://r/1", "https://dest/1", time.Minute)
	v, ok := c.Get(ctx, "https://r/1")
	require.True(t, ok)
	require.Equal(t, "https://dest/1", v)
}
