package gemini

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/rhuss/weiche/pkg/api"
	"github.com/rhuss/weiche/pkg/normalize"
	"github.com/rhuss/weiche/pkg/provider"
)

// tokenBudget returns the output token budget for the first attempt.
// Ungrounded calls are raised to MinUngroundedTokens; grounded calls keep
// the caller's value (0 means provider default).
func tokenBudget(requested int, grounded bool) int {
	if grounded || requested == 0 {
		return requested
	}
	return max(requested, MinUngroundedTokens)
}

// retryBudget returns the budget for the empty-output retry.
func retryBudget(first int) int {
	return min(max(2*first, RetryMinTokens), RetryMaxTokens)
}

// buildRequest translates a canonical request into a generateContent body.
// System messages are merged into systemInstruction; assistant turns use
// role "model". mimeType overrides the response format when not empty.
func buildRequest(req *api.Request, eff provider.Effective, maxTokens int, mimeType string) *generateRequest {
	gr := &generateRequest{}

	var system []string
	for _, m := range req.Messages {
		switch m.Role {
		case api.RoleSystem:
			system = append(system, m.Content)
		case api.RoleAssistant:
			gr.Contents = append(gr.Contents, content{Role: "model", Parts: []part{{Text: m.Content}}})
		default:
			gr.Contents = append(gr.Contents, content{Role: "user", Parts: []part{{Text: m.Content}}})
		}
	}
	if len(system) > 0 {
		gr.SystemInstruction = &content{Parts: []part{{Text: strings.Join(system, "\n\n")}}}
	}

	gc := &generationConfig{
		Temperature:     eff.Sampling.Temperature,
		TopP:            eff.Sampling.TopP,
		Seed:            eff.Sampling.Seed,
		MaxOutputTokens: maxTokens,
	}
	switch {
	case mimeType != "":
		gc.ResponseMimeType = mimeType
	case eff.Config.JSONMode:
		gc.ResponseMimeType = "application/json"
	default:
		if v, ok := eff.ExtraValue("response_mime_type"); ok {
			gc.ResponseMimeType = v
		}
	}
	if eff.Config.ThinkingBudget != nil || eff.Config.IncludeThoughts {
		gc.ThinkingConfig = &thinkingConfig{
			ThinkingBudget:  eff.Config.ThinkingBudget,
			IncludeThoughts: eff.Config.IncludeThoughts,
		}
	}
	if *gc != (generationConfig{}) {
		gr.GenerationConfig = gc
	}

	if eff.Mode != api.GroundingNone {
		gr.Tools = []tool{{GoogleSearch: &googleSearch{}}}
	}
	return gr
}

// exhaustedEmpty reports whether a generateContent answer stopped at the
// token budget without producing any visible text.
func exhaustedEmpty(body []byte) bool {
	cand := gjson.GetBytes(body, "candidates.0")
	if !strings.EqualFold(normalize.Pick(cand, "finishReason", "finish_reason").String(), "MAX_TOKENS") {
		return false
	}
	text, _ := candidateText(cand)
	return strings.TrimSpace(text) == ""
}

// candidateText joins the visible text parts of a candidate. Thought parts
// are returned separately.
func candidateText(cand gjson.Result) (text, thoughts string) {
	var texts, thinks []string
	cand.Get("content.parts").ForEach(func(_, p gjson.Result) bool {
		t := p.Get("text").String()
		if p.Get("thought").Bool() {
			thinks = append(thinks, t)
		} else if t != "" {
			texts = append(texts, t)
		}
		return true
	})
	return strings.Join(texts, ""), strings.Join(thinks, "\n")
}

var filteredFinishReasons = map[string]bool{
	"SAFETY": true, "RECITATION": true, "BLOCKLIST": true,
	"PROHIBITED_CONTENT": true, "SPII": true, "IMAGE_SAFETY": true,
}

// normalizeBody extracts canonical fields from a generateContent payload.
// Grounding metadata is read under camelCase or snake_case keys; when both
// spellings are present only the first is used.
func normalizeBody(raw *provider.RawPayload) (*provider.Result, error) {
	if !gjson.ValidBytes(raw.Body) {
		return nil, api.NewEmptyResponseError(raw.Vendor, "malformed_payload")
	}
	root := gjson.ParseBytes(raw.Body)

	res := &provider.Result{
		ModelVersion:       normalize.Pick(root, "modelVersion", "model_version").String(),
		WebToolType:        raw.WebToolType,
		RetryAttempted:     raw.RetryAttempted,
		RetryReason:        raw.RetryReason,
		MaxTokensEffective: raw.MaxTokensEffective,
		ResponseAPI:        "generateContent",
		Usage:              normalize.Usage(normalize.Pick(root, "usageMetadata", "usage_metadata")),
	}
	if res.ModelVersion == "" {
		res.ModelVersion = raw.Model
	}
	res.Usage.Add(raw.PriorUsage)

	cand := root.Get("candidates.0")
	if !cand.Exists() {
		res.EmptyReason = "no_candidates"
		feedback := normalize.Pick(root, "promptFeedback", "prompt_feedback")
		if block := normalize.Pick(feedback, "blockReason", "block_reason").String(); block != "" {
			res.FinishReason = block
			res.EmptyReason = "content_filter"
		}
		return res, nil
	}

	res.FinishReason = normalize.Pick(cand, "finishReason", "finish_reason").String()

	text, thoughts := candidateText(cand)
	if thoughts != "" {
		res.Items = append(res.Items, provider.Item{Kind: provider.ItemReasoning, Type: "thought", Text: thoughts})
	}
	if strings.TrimSpace(text) != "" {
		res.Content = text
		res.Items = append(res.Items, provider.Item{Kind: provider.ItemMessage, Type: "content", Text: text})
	}

	readGrounding(normalize.Pick(cand, "groundingMetadata", "grounding_metadata"), res)

	if res.Content == "" {
		switch {
		case strings.EqualFold(res.FinishReason, "MAX_TOKENS"):
			res.EmptyReason = "max_tokens"
		case filteredFinishReasons[strings.ToUpper(res.FinishReason)]:
			res.EmptyReason = "content_filter"
		case thoughts != "":
			res.EmptyReason = "thoughts_only"
		case res.ToolCallCount > 0:
			res.EmptyReason = "tool_calls_only"
		default:
			res.EmptyReason = "empty_text"
		}
		if raw.RetryAttempted {
			return nil, api.NewEmptyResponseError(raw.Vendor, res.EmptyReason+"_after_retry")
		}
	}
	return res, nil
}

// readGrounding fills tool calls and citations from grounding metadata.
// Chunks referenced by a grounding support become anchored citations
// carrying the support's segment; the rest are unlinked sources.
func readGrounding(gm gjson.Result, res *provider.Result) {
	if !gm.IsObject() {
		return
	}

	normalize.Pick(gm, "webSearchQueries", "web_search_queries").ForEach(func(_, q gjson.Result) bool {
		res.ToolCallCount++
		res.Items = append(res.Items, provider.Item{Kind: provider.ItemToolCall, Type: "google_search", Query: q.String()})
		return true
	})
	if res.ToolCallCount == 0 && normalize.Pick(gm, "searchEntryPoint", "search_entry_point").Exists() {
		res.ToolCallCount = 1
		res.Items = append(res.Items, provider.Item{Kind: provider.ItemToolCall, Type: "google_search"})
	}

	chunks := normalize.Pick(gm, "groundingChunks", "grounding_chunks").Array()

	type anchor struct {
		start, end int
		text       string
	}
	anchors := make(map[int]anchor)
	normalize.Pick(gm, "groundingSupports", "grounding_supports").ForEach(func(_, s gjson.Result) bool {
		seg := s.Get("segment")
		a := anchor{
			start: normalize.PickInt(seg, "startIndex", "start_index"),
			end:   normalize.PickInt(seg, "endIndex", "end_index"),
			text:  seg.Get("text").String(),
		}
		normalize.Pick(s, "groundingChunkIndices", "grounding_chunk_indices").ForEach(func(_, idx gjson.Result) bool {
			i := int(idx.Int())
			if _, seen := anchors[i]; !seen && i >= 0 && i < len(chunks) {
				anchors[i] = a
			}
			return true
		})
		return true
	})

	for i, chunk := range chunks {
		src := normalize.Pick(chunk, "web", "retrievedContext", "retrieved_context")
		uri := src.Get("uri").String()
		if uri == "" {
			continue
		}
		c := api.Citation{
			URL:   uri,
			Title: src.Get("title").String(),
			Kind:  api.CitationUnlinked,
		}
		if a, ok := anchors[i]; ok {
			c.Kind = api.CitationAnchored
			c.StartIndex = a.start
			c.EndIndex = a.end
			c.Snippet = a.text
		}
		res.Citations = append(res.Citations, c)
	}
}
