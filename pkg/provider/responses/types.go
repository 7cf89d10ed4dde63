// Package responses implements the vendor adapter for the Responses-style
// protocol (POST /v1/responses): typed input items, a negotiated web-search
// tool variant, and output items carrying url_citation annotations.
package responses

// Web-search tool variants in negotiation order.
const (
	ToolWebSearch              = "web_search"
	ToolWebSearchPreview       = "web_search_preview"
	ToolWebSearchPreview250311 = "web_search_preview_2025_03_11"
)

// WebToolVariants lists the variants tried, primary first.
var WebToolVariants = []string{ToolWebSearch, ToolWebSearchPreview, ToolWebSearchPreview250311}

// --- Request types ---

// responsesRequest is the wire format for POST /v1/responses.
type responsesRequest struct {
	Model           string           `json:"model"`
	Input           []inputItem      `json:"input"`
	Tools           []responsesTool  `json:"tools,omitempty"`
	ToolChoice      any              `json:"tool_choice,omitempty"`
	Store           bool             `json:"store"`
	Temperature     *float64         `json:"temperature,omitempty"`
	TopP            *float64         `json:"top_p,omitempty"`
	MaxOutputTokens *int             `json:"max_output_tokens,omitempty"`
	Reasoning       *reasoningConfig `json:"reasoning,omitempty"`
	Text            *textConfig      `json:"text,omitempty"`
	ServiceTier     string           `json:"service_tier,omitempty"`
	User            string           `json:"user,omitempty"`
}

// inputItem is one typed input item. Only message items are sent.
type inputItem struct {
	Type    string         `json:"type"`
	Role    string         `json:"role"`
	Content []inputContent `json:"content"`
}

// inputContent is a content part of an input message. Assistant turns use
// output_text, all others input_text.
type inputContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// responsesTool is a hosted tool declaration.
type responsesTool struct {
	Type              string `json:"type"`
	SearchContextSize string `json:"search_context_size,omitempty"`
}

type reasoningConfig struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
}

type textConfig struct {
	Format    *textFormat `json:"format,omitempty"`
	Verbosity string      `json:"verbosity,omitempty"`
}

type textFormat struct {
	Type string `json:"type"`
}
