// Package gemini implements the provider adapter for the Google-style
// generateContent protocol, served either by the direct API
// (x-goog-api-key) or by Vertex AI (OAuth2 bearer tokens).
package gemini

// Output token budgets for the generateContent protocol. The provider
// returns no text at all, rather than a truncated answer, when the budget
// runs out while thinking, so ungrounded calls get a floor and a
// budget-exhausted empty answer is retried once with a larger budget.
const (
	// MinUngroundedTokens is the output token floor for ungrounded calls.
	MinUngroundedTokens = 500

	// RetryMinTokens is the smallest budget used by the empty-output retry.
	RetryMinTokens = 2000

	// RetryMaxTokens caps the budget of the empty-output retry.
	RetryMaxTokens = 8192
)

// RetryReasonMaxTokensEmpty is reported when the empty-output retry ran.
const RetryReasonMaxTokensEmpty = "max_tokens_empty"

// generateRequest is the generateContent request body.
type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
	Tools             []tool            `json:"tools,omitempty"`
}

// content is a role-tagged list of parts. Role is "user" or "model" and is
// omitted for the system instruction.
type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"topP,omitempty"`
	Seed             *int64          `json:"seed,omitempty"`
	MaxOutputTokens  int             `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string          `json:"responseMimeType,omitempty"`
	ThinkingConfig   *thinkingConfig `json:"thinkingConfig,omitempty"`
}

type thinkingConfig struct {
	ThinkingBudget  *int `json:"thinkingBudget,omitempty"`
	IncludeThoughts bool `json:"includeThoughts,omitempty"`
}

// tool declares the search grounding tool. GoogleSearch marshals as {}.
type tool struct {
	GoogleSearch *googleSearch `json:"googleSearch,omitempty"`
}

type googleSearch struct{}
