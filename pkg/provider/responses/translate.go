package responses

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/rhuss/weiche/pkg/api"
	"github.com/rhuss/weiche/pkg/normalize"
	"github.com/rhuss/weiche/pkg/provider"
)

// buildRequest translates a canonical request into the Responses wire
// format. The model string is passed through unchanged. variant is the
// web-search tool to attach, or "" for none. store is always false: the
// gateway keeps no provider-side state.
func buildRequest(req *api.Request, eff provider.Effective, variant string) *responsesRequest {
	rr := &responsesRequest{
		Model:       req.Model,
		Input:       translateMessages(req.Messages),
		Store:       false,
		Temperature: eff.Sampling.Temperature,
		TopP:        eff.Sampling.TopP,
	}

	if req.MaxTokens > 0 {
		n := req.MaxTokens
		rr.MaxOutputTokens = &n
	}

	if variant != "" {
		rr.Tools = []responsesTool{{Type: variant}}
		if size, ok := eff.ExtraValue("search_context_size"); ok {
			rr.Tools[0].SearchContextSize = size
		}
		switch {
		case eff.Config.ToolChoice != "":
			rr.ToolChoice = eff.Config.ToolChoice
		case eff.Mode == api.GroundingRequired:
			rr.ToolChoice = "required"
		default:
			rr.ToolChoice = "auto"
		}
	}

	if eff.Config.ReasoningEffort != "" || eff.Config.IncludeThoughts {
		rr.Reasoning = &reasoningConfig{Effort: eff.Config.ReasoningEffort}
		if eff.Config.IncludeThoughts {
			rr.Reasoning.Summary = "auto"
		}
	}

	verbosity, _ := eff.ExtraValue("verbosity")
	if eff.Config.JSONMode || verbosity != "" {
		rr.Text = &textConfig{Verbosity: verbosity}
		if eff.Config.JSONMode {
			rr.Text.Format = &textFormat{Type: "json_object"}
		}
	}

	rr.ServiceTier, _ = eff.ExtraValue("service_tier")
	rr.User, _ = eff.ExtraValue("user")
	return rr
}

// translateMessages converts messages into ordered message input items.
func translateMessages(msgs []api.Message) []inputItem {
	items := make([]inputItem, 0, len(msgs))
	for _, m := range msgs {
		partType := "input_text"
		if m.Role == api.RoleAssistant {
			partType = "output_text"
		}
		items = append(items, inputItem{
			Type:    "message",
			Role:    string(m.Role),
			Content: []inputContent{{Type: partType, Text: m.Content}},
		})
	}
	return items
}

// normalizeBody extracts canonical fields from a Responses payload.
func normalizeBody(raw *provider.RawPayload) (*provider.Result, error) {
	if !gjson.ValidBytes(raw.Body) {
		return nil, api.NewEmptyResponseError(raw.Vendor, "malformed_payload")
	}
	root := gjson.ParseBytes(raw.Body)

	if root.Get("status").String() == "failed" {
		msg := root.Get("error.message").String()
		if msg == "" {
			msg = "provider reported a failed response"
		}
		kind := api.ErrorKindProviderRejected
		if code := root.Get("error.code").String(); code == "server_error" || code == "rate_limit_exceeded" {
			kind = api.ErrorKindProviderUnavailable
		}
		return nil, api.NewError(kind, msg).WithVendor(raw.Vendor)
	}

	res := &provider.Result{
		ModelVersion:       root.Get("model").String(),
		WebToolType:        raw.WebToolType,
		MaxTokensEffective: raw.MaxTokensEffective,
		ResponseAPI:        "responses",
		Usage:              normalize.Usage(root.Get("usage")),
	}
	if res.ModelVersion == "" {
		res.ModelVersion = raw.Model
	}
	res.Usage.Add(raw.PriorUsage)

	var texts []string
	messages, results, refused := 0, 0, false

	root.Get("output").ForEach(func(_, item gjson.Result) bool {
		itemType := item.Get("type").String()
		kind := normalize.ClassifyItemType(itemType)
		out := provider.Item{Kind: kind, Type: itemType}

		switch kind {
		case provider.ItemMessage:
			messages++
			var parts []string
			item.Get("content").ForEach(func(_, part gjson.Result) bool {
				switch part.Get("type").String() {
				case "output_text", "text":
					parts = append(parts, part.Get("text").String())
					res.Citations = append(res.Citations, annotations(part)...)
				case "refusal":
					refused = true
				}
				return true
			})
			out.Text = strings.Join(parts, "")
			if strings.TrimSpace(out.Text) != "" {
				texts = append(texts, out.Text)
			}

		case provider.ItemToolCall:
			res.ToolCallCount++
			out.Query = normalize.Pick(item, "action.query", "query").String()
			item.Get("action.sources").ForEach(func(_, src gjson.Result) bool {
				if u := src.Get("url").String(); u != "" {
					res.Citations = append(res.Citations, api.Citation{
						URL:   u,
						Title: src.Get("title").String(),
						Kind:  api.CitationUnlinked,
					})
				}
				return true
			})

		case provider.ItemToolResult:
			// Some gateways return only the result half of a search pair.
			results++
			item.Get("sources").ForEach(func(_, src gjson.Result) bool {
				if u := src.Get("url").String(); u != "" {
					res.Citations = append(res.Citations, api.Citation{
						URL:   u,
						Title: src.Get("title").String(),
						Kind:  api.CitationUnlinked,
					})
				}
				return true
			})

		case provider.ItemReasoning:
			var parts []string
			item.Get("summary").ForEach(func(_, s gjson.Result) bool {
				parts = append(parts, s.Get("text").String())
				return true
			})
			out.Text = strings.Join(parts, "\n")
		}

		res.Items = append(res.Items, out)
		return true
	})

	res.ToolCallCount = max(res.ToolCallCount, results)

	res.Content = strings.Join(texts, "\n\n")
	if res.Content == "" {
		if s := root.Get("output_text"); s.Type == gjson.String {
			res.Content = s.String()
		}
	}

	res.FinishReason = root.Get("status").String()
	if reason := root.Get("incomplete_details.reason").String(); reason != "" {
		res.FinishReason = reason
	}

	if strings.TrimSpace(res.Content) == "" {
		res.Content = ""
		switch {
		case res.FinishReason == "max_output_tokens":
			res.EmptyReason = "max_tokens"
		case refused:
			res.EmptyReason = "refusal"
		case res.FinishReason == "content_filter":
			res.EmptyReason = "content_filter"
		case messages == 0 && res.ToolCallCount > 0:
			res.EmptyReason = "tool_calls_only"
		case messages == 0:
			res.EmptyReason = "no_message_item"
		default:
			res.EmptyReason = "empty_text"
		}
	}
	return res, nil
}

// annotations returns the url_citation annotations of an output_text part
// as anchored citations.
func annotations(part gjson.Result) []api.Citation {
	var out []api.Citation
	part.Get("annotations").ForEach(func(_, a gjson.Result) bool {
		if a.Get("type").String() != "url_citation" {
			return true
		}
		u := a.Get("url").String()
		if u == "" {
			return true
		}
		out = append(out, api.Citation{
			URL:        u,
			Title:      a.Get("title").String(),
			Kind:       api.CitationAnchored,
			StartIndex: int(a.Get("start_index").Int()),
			EndIndex:   int(a.Get("end_index").Int()),
		})
		return true
	})
	return out
}
