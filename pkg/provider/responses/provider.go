package responses

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rhuss/weiche/pkg/api"
	"github.com/rhuss/weiche/pkg/debug"
	"github.com/rhuss/weiche/pkg/provider"
)

// DefaultBaseURL is the public Responses API endpoint.
const DefaultBaseURL = "https://api.openai.com"

// Adapter implements provider.Adapter for the Responses-style protocol.
type Adapter struct {
	vendor      api.Vendor
	endpoint    string
	client      *provider.Client
	tools       *toolCache
	noGrounding []string
}

// Ensure Adapter implements provider.Adapter at compile time.
var _ provider.Adapter = (*Adapter)(nil)

// Config holds configuration for the Responses adapter.
type Config struct {
	Vendor   api.Vendor
	BaseURL  string
	APIKey   string
	ProxyURL string

	// ToolTTL is how long a rejected web-search variant stays skipped.
	ToolTTL time.Duration

	// NoGroundingModels lists model prefixes that cannot use web search,
	// in addition to the built-in list.
	NoGroundingModels []string

	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper

	// Now overrides the clock of the tool cache, mainly for tests.
	Now func() time.Time
}

// builtinNoGrounding are model prefixes without hosted web search.
var builtinNoGrounding = []string{"gpt-3.5", "gpt-4-", "gpt-4-turbo", "o1-mini", "o1-preview", "davinci", "babbage"}

// reasoningPrefixes are model families that accept reasoning effort and
// reject sampling parameters.
var reasoningPrefixes = []string{"o1", "o3", "o4", "gpt-5"}

// New creates a Responses adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.Vendor == "" {
		cfg.Vendor = api.VendorOpenAI
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	client, err := provider.NewClient(cfg.Vendor, provider.ClientOptions{
		ProxyURL:   cfg.ProxyURL,
		Authorizer: provider.BearerAuth(cfg.APIKey),
		Transport:  cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("responses: %w", err)
	}

	return &Adapter{
		vendor:      cfg.Vendor,
		endpoint:    strings.TrimRight(cfg.BaseURL, "/") + "/v1/responses",
		client:      client,
		tools:       newToolCache(cfg.ToolTTL, cfg.Now),
		noGrounding: append(append([]string(nil), builtinNoGrounding...), cfg.NoGroundingModels...),
	}, nil
}

// Vendor returns the served vendor.
func (a *Adapter) Vendor() api.Vendor { return a.vendor }

// Family returns provider.FamilyResponses.
func (a *Adapter) Family() provider.Family { return provider.FamilyResponses }

// Capabilities reports model capabilities from its family prefix.
func (a *Adapter) Capabilities(model string) provider.Capabilities {
	m := strings.ToLower(model)
	reasoning := hasAnyPrefix(m, reasoningPrefixes)
	return provider.Capabilities{
		Grounding:       !hasAnyPrefix(m, a.noGrounding),
		ReasoningEffort: reasoning,
		IncludeThoughts: reasoning,
		JSONMode:        true,
		ToolChoice:      true,
		Sampling:        !reasoning,
		Namespace:       "openai",
	}
}

// Call sends the request. When grounding is requested, web-search tool
// variants are negotiated: a variant the provider rejects as unsupported is
// marked for the TTL and the next variant is tried, bounded by the number
// of variants. The accepted variant is cached per model.
func (a *Adapter) Call(ctx context.Context, req *api.Request, eff provider.Effective) (*provider.RawPayload, error) {
	if eff.Mode == api.GroundingNone {
		return a.post(ctx, req, eff, "")
	}

	candidates := a.tools.candidates(req.Model)
	if len(candidates) == 0 {
		return nil, api.NewGroundingNotSupportedError(a.vendor, req.Model)
	}

	var lastErr error
	for _, variant := range candidates {
		raw, err := a.post(ctx, req, eff, variant)
		if err == nil {
			a.tools.markGood(req.Model, variant)
			return raw, nil
		}
		if !isToolUnsupported(err, variant) {
			return nil, err
		}
		slog.Info("web search tool variant rejected, trying next",
			"vendor", a.vendor, "model", req.Model, "variant", variant)
		a.tools.markUnsupported(req.Model, variant)
		lastErr = err
	}

	e := api.NewGroundingNotSupportedError(a.vendor, req.Model).WithCause(lastErr)
	e.Reason = "tool_unsupported"
	return nil, e
}

func (a *Adapter) post(ctx context.Context, req *api.Request, eff provider.Effective, variant string) (*provider.RawPayload, error) {
	rr := buildRequest(req, eff, variant)
	body, err := json.Marshal(rr)
	if err != nil {
		return nil, api.NewInvalidRequestError(fmt.Sprintf("failed to marshal request: %s", err.Error()))
	}
	debug.Raw("providers", string(body))

	resp, err := a.client.PostJSON(ctx, eff.Egress, a.endpoint, body)
	if err != nil {
		return nil, err
	}
	debug.Raw("providers", string(resp.Body))

	raw := &provider.RawPayload{
		Family:      provider.FamilyResponses,
		Vendor:      a.vendor,
		Model:       req.Model,
		StatusCode:  resp.StatusCode,
		Body:        resp.Body,
		WebToolType: variant,
	}
	if rr.MaxOutputTokens != nil {
		raw.MaxTokensEffective = *rr.MaxOutputTokens
	}
	return raw, nil
}

// Normalize converts a Responses payload into canonical fields.
func (a *Adapter) Normalize(raw *provider.RawPayload) (*provider.Result, error) {
	if raw == nil || raw.Family != provider.FamilyResponses {
		return nil, fmt.Errorf("responses: cannot normalize payload of family %q", familyOf(raw))
	}
	return normalizeBody(raw)
}

// Close releases idle connections.
func (a *Adapter) Close() error {
	return a.client.Close()
}

func familyOf(raw *provider.RawPayload) provider.Family {
	if raw == nil {
		return ""
	}
	return raw.Family
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
