package router

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rhuss/weiche/pkg/api"
	"github.com/rhuss/weiche/pkg/provider"
	"github.com/rhuss/weiche/pkg/provider/gemini"
	"github.com/rhuss/weiche/pkg/provider/responses"
	"github.com/rhuss/weiche/pkg/resilience"
)

// These scenarios run the router against the real adapters talking to
// httptest upstreams.

const responsesGrounded = `{
  "id": "resp_1",
  "status": "completed",
  "model": "gpt-5-2025-08-07",
  "output": [
    {"type": "web_search_call", "status": "completed", "action": {"query": "top story"}},
    {"type": "web_search_call", "status": "completed", "action": {"query": "top story today"}},
    {"type": "message", "role": "assistant", "content": [
      {"type": "output_text", "text": "The top story is X.", "annotations": [
        {"type": "url_citation", "url": "https://www.reuters.com/world/x", "start_index": 0, "end_index": 19},
        {"type": "url_citation", "url": "https://apnews.com/article/x", "start_index": 0, "end_index": 19},
        {"type": "url_citation", "url": "https://bbc.com/news/x", "start_index": 4, "end_index": 9}
      ]}
    ]}
  ],
  "usage": {"input_tokens": 120, "output_tokens": 40, "total_tokens": 160}
}`

const responsesToolless = `{
  "id": "resp_2",
  "status": "completed",
  "model": "gpt-5",
  "output": [
    {"type": "message", "role": "assistant", "content": [{"type": "output_text", "text": "Probably X."}]}
  ],
  "usage": {"input_tokens": 20, "output_tokens": 4, "total_tokens": 24}
}`

const geminiExhausted = `{
  "candidates": [{"content": {"role": "model", "parts": [{"text": "hmm", "thought": true}]}, "finishReason": "MAX_TOKENS"}],
  "usageMetadata": {"promptTokenCount": 20, "thoughtsTokenCount": 500, "totalTokenCount": 520}
}`

func upstream(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func scenarioRouter(t *testing.T, adapters ...provider.Adapter) *Router {
	t.Helper()
	allowed := map[api.Vendor][]string{}
	for _, a := range adapters {
		allowed[a.Vendor()] = []string{"gpt-5", "gemini-2.5-pro"}
	}
	r, err := New(Config{AllowedModels: allowed}, adapters,
		WithExecutor(resilience.NewExecutor(nil, nil, resilience.ExecutorConfig{TransportRetries: -1})))
	require.NoError(t, err)
	return r
}

func TestScenarioResponsesGroundedRequired(t *testing.T) {
	srv, _ := upstream(t, http.StatusOK, responsesGrounded)
	a, err := responses.New(responses.Config{BaseURL: srv.URL, APIKey: "sk-test"})
	require.NoError(t, err)
	r := scenarioRouter(t, a)

	resp, err := r.Dispatch(context.Background(), topStory(api.VendorOpenAI, "gpt-5", api.GroundingRequired))
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.True(t, resp.GroundedEffective)
	require.Equal(t, "The top story is X.", resp.Content)
	require.Equal(t, "gpt-5-2025-08-07", resp.ModelVersion)
	require.Equal(t, 2, resp.Metadata.Int(api.MetaToolCallCount))
	require.Equal(t, 3, resp.Metadata.Int(api.MetaAnchoredCitationsCount))
	require.Equal(t, 160, resp.Usage.TotalTokens)

	// The response survives a JSON round trip with every stable key.
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	md := decoded["metadata"].(map[string]any)
	require.Equal(t, "responses", md[api.MetaResponseAPI])
	require.Equal(t, []any{"openai"}, md[api.MetaVendorPath])
}

func TestScenarioResponsesRequiredWithoutSearch(t *testing.T) {
	srv, _ := upstream(t, http.StatusOK, responsesToolless)
	a, err := responses.New(responses.Config{BaseURL: srv.URL, APIKey: "sk-test"})
	require.NoError(t, err)
	r := scenarioRouter(t, a)

	resp, err := r.Dispatch(context.Background(), topStory(api.VendorOpenAI, "gpt-5", api.GroundingRequired))
	require.Equal(t, api.ErrorKindGroundingRequiredFailed, api.KindOf(err))
	require.False(t, resp.Success)
	require.Empty(t, resp.Content)
	require.Equal(t, 0, resp.Metadata.Int(api.MetaToolCallCount))
}

func TestScenarioGeminiEmptyAfterRetry(t *testing.T) {
	srv, calls := upstream(t, http.StatusOK, geminiExhausted)
	a, err := gemini.New(gemini.Config{BaseURL: srv.URL, APIKey: "g-key"})
	require.NoError(t, err)
	r := scenarioRouter(t, a)

	req := topStory(api.VendorGeminiDirect, "gemini-2.5-pro", api.GroundingNone)
	req.MaxTokens = 100

	resp, err := r.Dispatch(context.Background(), req)
	require.Equal(t, api.ErrorKindProviderEmpty, api.KindOf(err))
	require.False(t, resp.Success)
	require.Equal(t, int32(2), calls.Load())

	md := resp.Metadata
	require.True(t, md.Bool(api.MetaRetryAttempted))
	require.Equal(t, gemini.RetryReasonMaxTokensEmpty, md.String(api.MetaRetryReason))
	require.Equal(t, 100, md.Int(api.MetaMaxTokensRequested))
	require.Equal(t, gemini.RetryMinTokens, md.Int(api.MetaMaxTokensEffective))
	require.Equal(t, string(api.ErrorKindProviderEmpty), md.String(api.MetaErrorKind))
}

func TestScenarioGeminiUnavailableFailsOverToResponses(t *testing.T) {
	down, _ := upstream(t, http.StatusServiceUnavailable, `{"error": {"code": 503, "message": "overloaded"}}`)
	g, err := gemini.New(gemini.Config{BaseURL: down.URL, APIKey: "g-key"})
	require.NoError(t, err)

	up, _ := upstream(t, http.StatusOK, responsesToolless)
	o, err := responses.New(responses.Config{BaseURL: up.URL, APIKey: "sk-test"})
	require.NoError(t, err)

	r, err := New(Config{
		AllowedModels: map[api.Vendor][]string{
			api.VendorGeminiDirect: {"gemini-2.5-pro"},
			api.VendorOpenAI:       {"gemini-2.5-pro"},
		},
		Failover: map[api.Vendor]api.Vendor{api.VendorGeminiDirect: api.VendorOpenAI},
	}, []provider.Adapter{g, o},
		WithExecutor(resilience.NewExecutor(nil, nil, resilience.ExecutorConfig{TransportRetries: -1})))
	require.NoError(t, err)

	resp, err := r.Dispatch(context.Background(), topStory(api.VendorGeminiDirect, "gemini-2.5-pro", api.GroundingNone))
	require.NoError(t, err)
	require.Equal(t, api.VendorOpenAI, resp.Vendor)
	require.Equal(t, []string{"gemini_direct", "openai"}, resp.Metadata[api.MetaVendorPath])
	require.Contains(t, resp.Metadata.String(api.MetaFailoverReason), string(api.ErrorKindProviderUnavailable))
}
