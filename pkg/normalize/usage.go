package normalize

import (
	"github.com/tidwall/gjson"

	"github.com/rhuss/weiche/pkg/api"
)

var (
	inputKeys = []string{
		"input_tokens", "prompt_tokens", "input_token_count",
		"promptTokenCount", "prompt_token_count",
	}
	outputKeys = []string{
		"output_tokens", "completion_tokens", "output_token_count",
		"candidatesTokenCount", "candidates_token_count",
	}
	totalKeys = []string{
		"total_tokens", "total_token_count", "totalTokenCount",
	}

	// Responses/Chat style: reasoning is a subset of output tokens.
	nestedReasoningKeys = []string{
		"output_tokens_details.reasoning_tokens",
		"completion_tokens_details.reasoning_tokens",
		"reasoning_tokens",
	}
	// Google style: thoughts are billed on top of candidates.
	thoughtKeys = []string{"thoughtsTokenCount", "thoughts_token_count"}
)

// Usage maps a provider usage object onto canonical counters. The object
// may use any of the known spellings; total is computed when absent.
func Usage(u gjson.Result) api.Usage {
	if !u.IsObject() {
		return api.Usage{}
	}

	out := api.Usage{
		InputTokens:  PickInt(u, inputKeys...),
		OutputTokens: PickInt(u, outputKeys...),
		TotalTokens:  PickInt(u, totalKeys...),
	}

	separateThoughts := false
	if r := Pick(u, thoughtKeys...); r.Exists() {
		out.ReasoningTokens = int(r.Int())
		separateThoughts = true
	} else {
		out.ReasoningTokens = PickInt(u, nestedReasoningKeys...)
	}

	if out.TotalTokens == 0 {
		out.TotalTokens = out.InputTokens + out.OutputTokens
		if separateThoughts {
			out.TotalTokens += out.ReasoningTokens
		}
	}
	return out
}
