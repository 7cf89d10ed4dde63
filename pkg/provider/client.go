package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/rhuss/weiche/pkg/api"
	"github.com/rhuss/weiche/pkg/debug"
)

// maxResponseBytes bounds how much of a provider answer is read.
const maxResponseBytes = 16 << 20

// Authorizer attaches credentials to an outgoing provider request.
type Authorizer func(ctx context.Context, r *http.Request) error

// BearerAuth sets "Authorization: Bearer <key>". An empty key adds nothing.
func BearerAuth(key string) Authorizer {
	return func(_ context.Context, r *http.Request) error {
		if key != "" {
			r.Header.Set("Authorization", "Bearer "+key)
		}
		return nil
	}
}

// HeaderAuth sets a fixed credential header, e.g. x-goog-api-key.
func HeaderAuth(name, value string) Authorizer {
	return func(_ context.Context, r *http.Request) error {
		if value != "" {
			r.Header.Set(name, value)
		}
		return nil
	}
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// ProxyURL is used for calls with Egress=proxy. Empty disables the
	// proxy path; proxy calls then go direct.
	ProxyURL string

	// Authorizer adds credentials to every request.
	Authorizer Authorizer

	// Transport overrides the base round tripper, mainly for tests.
	Transport http.RoundTripper
}

// Client performs JSON POST calls against a provider endpoint over a direct
// or a proxied connection. Deadlines come from the caller's context.
type Client struct {
	vendor    api.Vendor
	direct    *http.Client
	proxied   *http.Client
	authorize Authorizer
}

// Response is a successful provider answer.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NewClient creates a Client for vendor.
func NewClient(vendor api.Vendor, opts ClientOptions) (*Client, error) {
	base := opts.Transport
	if base == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.Proxy = nil
		base = t
	}

	c := &Client{
		vendor:    vendor,
		direct:    &http.Client{Transport: base},
		authorize: opts.Authorizer,
	}

	if opts.ProxyURL != "" {
		u, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL for %s: %w", vendor, err)
		}
		proxyTransport := base
		if t, ok := base.(*http.Transport); ok {
			t = t.Clone()
			t.Proxy = http.ProxyURL(u)
			proxyTransport = t
		}
		c.proxied = &http.Client{Transport: proxyTransport}
	}
	return c, nil
}

// HasProxy reports whether a proxy path is configured.
func (c *Client) HasProxy() bool {
	return c.proxied != nil
}

// PostJSON sends body to endpoint and returns the answer. Non-2xx answers
// and network failures are returned as *api.Error.
func (c *Client) PostJSON(ctx context.Context, egress api.Egress, endpoint string, body []byte) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, api.NewTransportError(c.vendor, fmt.Sprintf("failed to create HTTP request: %s", err.Error())).WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	if c.authorize != nil {
		if err := c.authorize(ctx, httpReq); err != nil {
			return nil, MapNetworkError(c.vendor, fmt.Errorf("authorize: %w", err))
		}
	}

	hc := c.direct
	if egress == api.EgressProxy && c.proxied != nil {
		hc = c.proxied
	}

	debug.Log("providers", "provider request",
		"vendor", c.vendor, "endpoint", redactQuery(endpoint), "egress", egress, "bytes", len(body))

	httpResp, err := hc.Do(httpReq)
	if err != nil {
		return nil, MapNetworkError(c.vendor, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, MapNetworkError(c.vendor, err)
	}

	debug.Log("providers", "provider response",
		"vendor", c.vendor, "status", httpResp.StatusCode, "bytes", len(data))

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		e := MapHTTPError(c.vendor, httpResp.StatusCode, httpResp.Header, data)
		slog.Debug("provider returned error status",
			"vendor", c.vendor, "status", httpResp.StatusCode, "kind", e.Kind)
		return nil, e
	}

	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.direct.CloseIdleConnections()
	if c.proxied != nil {
		c.proxied.CloseIdleConnections()
	}
	return nil
}

// redactQuery removes the query string, which may hold API keys.
func redactQuery(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}
