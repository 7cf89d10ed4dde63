package provider

import (
	"github.com/rhuss/weiche/pkg/api"
)

// ItemKind is the closed set of output item kinds every provider payload is
// decoded into. Unrecognized item types become ItemUnknown and are
// tolerated.
type ItemKind string

const (
	ItemMessage    ItemKind = "message"
	ItemToolCall   ItemKind = "tool_call"
	ItemToolResult ItemKind = "tool_result"
	ItemReasoning  ItemKind = "reasoning"
	ItemUnknown    ItemKind = "unknown"
)

// Item is one decoded output item. Type keeps the provider's own type
// string for telemetry and debugging.
type Item struct {
	Kind ItemKind
	Type string
	Text string

	// Query is the search query of a tool call, when the provider reports it.
	Query string
}

// RawPayload is the provider answer tagged with its protocol family.
// Body holds the final response JSON exactly as received.
type RawPayload struct {
	Family     Family
	Vendor     api.Vendor
	Model      string
	StatusCode int
	Body       []byte

	// WebToolType is the web-search tool variant sent with the call, empty
	// when no tool was attached.
	WebToolType string

	// RetryAttempted and RetryReason report the protocol-specific
	// empty-output retry.
	RetryAttempted bool
	RetryReason    string

	// MaxTokensEffective is the output token budget actually sent.
	MaxTokensEffective int

	// PriorUsage accumulates usage of attempts superseded inside one Call.
	PriorUsage api.Usage
}

// Result holds the canonical fields an adapter extracts from a raw payload.
type Result struct {
	Content string

	// ModelVersion is the model string echoed by the provider, or the
	// requested model when the provider echoes none.
	ModelVersion string

	Items []Item

	// ToolCallCount is the number of web-search or tool invocations seen.
	ToolCallCount int

	// Citations are unresolved; the router resolves, dedups and scores them.
	Citations []api.Citation

	Usage        api.Usage
	FinishReason string

	// EmptyReason explains an empty Content, e.g. "max_tokens",
	// "no_message_item", "safety".
	EmptyReason string

	WebToolType        string
	RetryAttempted     bool
	RetryReason        string
	MaxTokensEffective int

	// ResponseAPI names the wire API used, e.g. "responses" or
	// "generateContent".
	ResponseAPI string
}

// AnchoredCount returns the number of anchored citations.
func (r *Result) AnchoredCount() int {
	return countKind(r.Citations, api.CitationAnchored)
}

// UnlinkedCount returns the number of unlinked sources.
func (r *Result) UnlinkedCount() int {
	return countKind(r.Citations, api.CitationUnlinked)
}

func countKind(cs []api.Citation, kind api.CitationKind) int {
	n := 0
	for _, c := range cs {
		if c.Kind == kind {
			n++
		}
	}
	return n
}
