package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/rhuss/weiche/pkg/api"
	"github.com/rhuss/weiche/pkg/debug"
	"github.com/rhuss/weiche/pkg/normalize"
	"github.com/rhuss/weiche/pkg/provider"
)

// DefaultBaseURL is the public endpoint of the direct generateContent API.
const DefaultBaseURL = "https://generativelanguage.googleapis.com"

// Adapter implements provider.Adapter for the generateContent protocol.
// The same adapter serves the direct API and Vertex AI; they differ only in
// endpoint layout and credentials.
type Adapter struct {
	vendor   api.Vendor
	endpoint func(model string) string
	client   *provider.Client
	caps     func(model string) provider.Capabilities
}

// Ensure Adapter implements provider.Adapter at compile time.
var _ provider.Adapter = (*Adapter)(nil)

// Config holds configuration for the direct generateContent API.
type Config struct {
	BaseURL  string
	APIKey   string
	ProxyURL string

	// NoGroundingModels lists model prefixes without search grounding, in
	// addition to the built-in list.
	NoGroundingModels []string

	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// VertexConfig holds configuration for Vertex AI.
type VertexConfig struct {
	Project  string
	Location string

	// BaseURL overrides the regional endpoint, mainly for tests.
	BaseURL string

	// TokenSource supplies OAuth2 bearer tokens. When nil, AccessToken is
	// used as a static token; with neither set, Application Default
	// Credentials are looked up.
	TokenSource oauth2.TokenSource
	AccessToken string

	ProxyURL          string
	NoGroundingModels []string
	Transport         http.RoundTripper
}

// CloudPlatformScope is the OAuth2 scope requested from default credentials.
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// defaultTokenSource resolves Application Default Credentials. Tests replace it.
var defaultTokenSource = func(ctx context.Context) (oauth2.TokenSource, error) {
	return google.DefaultTokenSource(ctx, CloudPlatformScope)
}

// builtinNoGrounding are model prefixes without search grounding.
var builtinNoGrounding = []string{"gemini-1.0", "gemini-pro-vision", "gemma", "text-embedding", "embedding"}

// thinkingPrefixes are model families that accept a thinking config.
var thinkingPrefixes = []string{"gemini-2.5", "gemini-3"}

// New creates an adapter for the direct API.
func New(cfg Config) (*Adapter, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	client, err := provider.NewClient(api.VendorGeminiDirect, provider.ClientOptions{
		ProxyURL:   cfg.ProxyURL,
		Authorizer: provider.HeaderAuth("x-goog-api-key", cfg.APIKey),
		Transport:  cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	return &Adapter{
		vendor: api.VendorGeminiDirect,
		endpoint: func(model string) string {
			return base + "/v1beta/models/" + url.PathEscape(provider.CanonicalModel(provider.FamilyGoogle, model)) + ":generateContent"
		},
		client: client,
		caps:   capabilities(cfg.NoGroundingModels),
	}, nil
}

// NewVertex creates an adapter for Vertex AI. The model is addressed as
// projects/{p}/locations/{l}/publishers/google/models/{id} in the URL only.
// ctx bounds the default credential lookup and any token refresh it sets up.
func NewVertex(ctx context.Context, cfg VertexConfig) (*Adapter, error) {
	if cfg.Project == "" {
		return nil, fmt.Errorf("vertex: project is required")
	}
	if cfg.Location == "" {
		cfg.Location = "global"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = vertexBaseURL(cfg.Location)
	}

	ts := cfg.TokenSource
	switch {
	case ts != nil:
	case cfg.AccessToken != "":
		ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken, TokenType: "Bearer"})
	default:
		adc, err := defaultTokenSource(ctx)
		if err != nil {
			return nil, fmt.Errorf("vertex: no access token configured and default credentials unavailable: %w", err)
		}
		slog.Info("vertex using application default credentials", "project", cfg.Project)
		ts = adc
	}
	ts = oauth2.ReuseTokenSource(nil, ts)

	client, err := provider.NewClient(api.VendorVertex, provider.ClientOptions{
		ProxyURL:   cfg.ProxyURL,
		Authorizer: tokenAuth(ts),
		Transport:  cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("vertex: %w", err)
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	prefix := fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/",
		base, url.PathEscape(cfg.Project), url.PathEscape(cfg.Location))
	return &Adapter{
		vendor: api.VendorVertex,
		endpoint: func(model string) string {
			return prefix + url.PathEscape(provider.CanonicalModel(provider.FamilyGoogle, model)) + ":generateContent"
		},
		client: client,
		caps:   capabilities(cfg.NoGroundingModels),
	}, nil
}

func vertexBaseURL(location string) string {
	if location == "global" {
		return "https://aiplatform.googleapis.com"
	}
	return "https://" + location + "-aiplatform.googleapis.com"
}

// tokenAuth sets the bearer token from ts on each request.
func tokenAuth(ts oauth2.TokenSource) provider.Authorizer {
	return func(_ context.Context, r *http.Request) error {
		tok, err := ts.Token()
		if err != nil {
			return fmt.Errorf("vertex token: %w", err)
		}
		tok.SetAuthHeader(r)
		return nil
	}
}

func capabilities(extraNoGrounding []string) func(string) provider.Capabilities {
	noGrounding := append(append([]string(nil), builtinNoGrounding...), extraNoGrounding...)
	return func(model string) provider.Capabilities {
		m := strings.ToLower(provider.CanonicalModel(provider.FamilyGoogle, model))
		thinking := hasAnyPrefix(m, thinkingPrefixes)
		return provider.Capabilities{
			Grounding:       !hasAnyPrefix(m, noGrounding),
			ThinkingBudget:  thinking,
			IncludeThoughts: thinking,
			JSONMode:        true,
			Sampling:        true,
			Seed:            true,
			Namespace:       "gemini",
		}
	}
}

// Vendor returns the served vendor.
func (a *Adapter) Vendor() api.Vendor { return a.vendor }

// Family returns provider.FamilyGoogle.
func (a *Adapter) Family() provider.Family { return provider.FamilyGoogle }

// Capabilities reports model capabilities from its family prefix.
func (a *Adapter) Capabilities(model string) provider.Capabilities { return a.caps(model) }

// Call sends the request. Ungrounded calls get an output token floor. An
// answer that stops at the token budget without visible text is retried
// once with a larger budget and a plain-text response format.
func (a *Adapter) Call(ctx context.Context, req *api.Request, eff provider.Effective) (*provider.RawPayload, error) {
	grounded := eff.Mode != api.GroundingNone
	budget := tokenBudget(req.MaxTokens, grounded)

	raw, err := a.post(ctx, req, eff, buildRequest(req, eff, budget, ""))
	if err != nil {
		return nil, err
	}
	raw.MaxTokensEffective = budget
	if !exhaustedEmpty(raw.Body) {
		return raw, nil
	}

	retry := retryBudget(budget)
	slog.Info("empty answer at token budget, retrying with larger budget",
		"vendor", a.vendor, "model", req.Model, "budget", budget, "retry_budget", retry)

	prior := normalize.Usage(normalize.Pick(gjson.ParseBytes(raw.Body), "usageMetadata", "usage_metadata"))
	second, err := a.post(ctx, req, eff, buildRequest(req, eff, retry, "text/plain"))
	if err != nil {
		return nil, err
	}
	second.MaxTokensEffective = retry
	second.RetryAttempted = true
	second.RetryReason = RetryReasonMaxTokensEmpty
	second.PriorUsage = prior
	return second, nil
}

func (a *Adapter) post(ctx context.Context, req *api.Request, eff provider.Effective, gr *generateRequest) (*provider.RawPayload, error) {
	body, err := json.Marshal(gr)
	if err != nil {
		return nil, api.NewInvalidRequestError(fmt.Sprintf("failed to marshal request: %s", err.Error()))
	}
	debug.Raw("providers", string(body))

	resp, err := a.client.PostJSON(ctx, eff.Egress, a.endpoint(req.Model), body)
	if err != nil {
		return nil, err
	}
	debug.Raw("providers", string(resp.Body))

	raw := &provider.RawPayload{
		Family:     provider.FamilyGoogle,
		Vendor:     a.vendor,
		Model:      req.Model,
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
	}
	if len(gr.Tools) > 0 {
		raw.WebToolType = "google_search"
	}
	return raw, nil
}

// Normalize converts a generateContent payload into canonical fields.
func (a *Adapter) Normalize(raw *provider.RawPayload) (*provider.Result, error) {
	if raw == nil || raw.Family != provider.FamilyGoogle {
		return nil, fmt.Errorf("gemini: cannot normalize payload of another family")
	}
	return normalizeBody(raw)
}

// Close releases idle connections.
func (a *Adapter) Close() error {
	return a.client.Close()
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
