package api

import (
	"encoding/json"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Enumerations
// ---------------------------------------------------------------------------

// Vendor identifies a configured upstream provider endpoint.
type Vendor string

const (
	VendorOpenAI       Vendor = "openai"
	VendorGeminiDirect Vendor = "gemini_direct"
	VendorVertex       Vendor = "vertex"
)

// Valid reports whether v is a known vendor.
func (v Vendor) Valid() bool {
	switch v {
	case VendorOpenAI, VendorGeminiDirect, VendorVertex:
		return true
	}
	return false
}

// GroundingMode controls whether and how web-search tools may be used.
type GroundingMode string

const (
	GroundingNone     GroundingMode = "NONE"
	GroundingAuto     GroundingMode = "AUTO"
	GroundingRequired GroundingMode = "REQUIRED"
)

// Role is the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Egress selects the network path used for the provider call.
type Egress string

const (
	EgressDirect Egress = "direct"
	EgressProxy  Egress = "proxy"
)

// CitationKind distinguishes span-anchored citations from general evidence.
type CitationKind string

const (
	CitationAnchored CitationKind = "anchored"
	CitationUnlinked CitationKind = "unlinked"
)

// Provenance categorizes where the ALS seed key came from.
type Provenance string

const (
	ProvenanceProduction  Provenance = "production"
	ProvenanceDevelopment Provenance = "development"
	ProvenanceEnvOverride Provenance = "env-override"
)

// ---------------------------------------------------------------------------
// Request
// ---------------------------------------------------------------------------

// Message is a single role-tagged text turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// LocaleContext carries the ambient locale of the end user. SeedKeyID, when
// set, overrides the ALS seed key for this call only.
type LocaleContext struct {
	CountryCode string `json:"country_code"`
	Locale      string `json:"locale,omitempty"`
	SeedKeyID   string `json:"seed_key_id,omitempty"`
}

// Sampling holds optional sampling parameters.
type Sampling struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Seed        *int64   `json:"seed,omitempty"`
}

// CallerConfig holds the caller's tuning knobs. The router only reads it;
// router-computed state lives elsewhere.
type CallerConfig struct {
	ReasoningEffort  string `json:"reasoning_effort,omitempty"`
	ThinkingBudget   *int   `json:"thinking_budget,omitempty"`
	IncludeThoughts  bool   `json:"include_thoughts,omitempty"`
	JSONMode         bool   `json:"json_mode,omitempty"`
	ToolChoice       string `json:"tool_choice,omitempty"`
	DisableSynthesis bool   `json:"disable_synthesis,omitempty"`

	// Extra holds namespaced vendor knobs such as "openai.service_tier" or
	// "gemini.response_mime_type".
	Extra map[string]string `json:"extra,omitempty"`
}

// Knob names as reported in the dropped_knobs telemetry field.
const (
	KnobReasoningEffort = "reasoning_effort"
	KnobThinkingBudget  = "thinking_budget"
	KnobIncludeThoughts = "include_thoughts"
	KnobJSONMode        = "json_mode"
	KnobToolChoice      = "tool_choice"
	KnobSeed            = "seed"
	KnobTemperature     = "temperature"
	KnobTopP            = "top_p"
)

// Knobs returns the names of all knobs set by the caller, in a stable order.
// Namespaced Extra keys are appended sorted.
func (c CallerConfig) Knobs() []string {
	var out []string
	if c.ReasoningEffort != "" {
		out = append(out, KnobReasoningEffort)
	}
	if c.ThinkingBudget != nil {
		out = append(out, KnobThinkingBudget)
	}
	if c.IncludeThoughts {
		out = append(out, KnobIncludeThoughts)
	}
	if c.JSONMode {
		out = append(out, KnobJSONMode)
	}
	if c.ToolChoice != "" {
		out = append(out, KnobToolChoice)
	}
	return append(out, sortedKeys(c.Extra)...)
}

// Request is the vendor-agnostic dispatch request.
type Request struct {
	RequestID     string         `json:"request_id,omitempty"`
	Vendor        Vendor         `json:"vendor"`
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	Grounded      bool           `json:"grounded,omitempty"`
	GroundingMode GroundingMode  `json:"grounding_mode,omitempty"`
	Locale        *LocaleContext `json:"locale,omitempty"`
	Sampling      Sampling       `json:"sampling,omitempty"`
	Config        CallerConfig   `json:"config,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Timeout       Duration       `json:"timeout,omitempty"`
	Egress        Egress         `json:"egress,omitempty"`
}

// Mode returns the effective grounding mode. An explicit mode wins; a
// grounded request without one is AUTO.
func (r *Request) Mode() GroundingMode {
	if r.GroundingMode != "" {
		return r.GroundingMode
	}
	if r.Grounded {
		return GroundingAuto
	}
	return GroundingNone
}

// WantsGrounding reports whether a web-search tool may be attached.
func (r *Request) WantsGrounding() bool {
	return r.Mode() != GroundingNone
}

// Clone returns a copy of r whose slices and maps can be modified without
// affecting r.
func (r Request) Clone() Request {
	out := r
	out.Messages = append([]Message(nil), r.Messages...)
	if r.Locale != nil {
		l := *r.Locale
		out.Locale = &l
	}
	if r.Config.Extra != nil {
		out.Config.Extra = make(map[string]string, len(r.Config.Extra))
		for k, v := range r.Config.Extra {
			out.Config.Extra[k] = v
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Response
// ---------------------------------------------------------------------------

// Citation is a resolved evidence source.
type Citation struct {
	URL         string       `json:"url"`
	OriginalURL string       `json:"original_url,omitempty"`
	Title       string       `json:"title,omitempty"`
	Snippet     string       `json:"snippet,omitempty"`
	Domain      string       `json:"domain,omitempty"`
	Tier        int          `json:"tier,omitempty"`
	Kind        CitationKind `json:"kind"`
	StartIndex  int          `json:"start_index,omitempty"`
	EndIndex    int          `json:"end_index,omitempty"`
}

// Usage holds normalized token counters.
type Usage struct {
	InputTokens     int `json:"input_tokens"`
	OutputTokens    int `json:"output_tokens"`
	ReasoningTokens int `json:"reasoning_tokens,omitempty"`
	TotalTokens     int `json:"total_tokens"`
}

// Add accumulates o into u.
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.ReasoningTokens += o.ReasoningTokens
	u.TotalTokens += o.TotalTokens
}

// ALSContext describes the ambient locale block injected into a request.
// Text never leaves the process: it is excluded from JSON.
type ALSContext struct {
	CountryCode   string     `json:"country_code"`
	Locale        string     `json:"locale,omitempty"`
	Text          string     `json:"-"`
	SeedKeyID     string     `json:"seed_key_id"`
	SHA256        string     `json:"sha256"`
	Provenance    Provenance `json:"provenance"`
	Source        string     `json:"source"`
	IsDefaultSeed bool       `json:"is_default_seed"`
	IsDevelopment bool       `json:"is_development"`
}

// CanonicalResponse is the vendor-independent dispatch result.
type CanonicalResponse struct {
	RequestID         string     `json:"request_id,omitempty"`
	Content           string     `json:"content"`
	ModelVersion      string     `json:"model_version"`
	Vendor            Vendor     `json:"vendor"`
	GroundedEffective bool       `json:"grounded_effective"`
	Citations         []Citation `json:"citations"`
	Usage             Usage      `json:"usage"`
	Latency           Duration   `json:"latency"`
	Success           bool       `json:"success"`
	Error             *Error     `json:"error,omitempty"`
	Metadata          Metadata   `json:"metadata"`
}

// MarshalJSON ensures citations and metadata are never null.
func (r CanonicalResponse) MarshalJSON() ([]byte, error) {
	type alias CanonicalResponse
	a := alias(r)
	if a.Citations == nil {
		a.Citations = []Citation{}
	}
	if a.Metadata == nil {
		a.Metadata = Metadata{}
	}
	return json.Marshal(a)
}

// ---------------------------------------------------------------------------
// Duration
// ---------------------------------------------------------------------------

// Duration is a time.Duration that encodes as a Go duration string in JSON
// and also accepts a number of seconds.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("duration must be a string or a number of seconds")
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}
