package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"golang.org/x/oauth2"

	"github.com/rhuss/weiche/pkg/api"
	"github.com/rhuss/weiche/pkg/provider"
)

type recordedCall struct {
	Path   string
	Header http.Header
	Body   generateRequest
}

type mockServer struct {
	*httptest.Server
	mu    sync.Mutex
	calls []recordedCall
}

// mockGenerateServer creates an httptest server that answers generateContent
// calls. The handler gets the zero-based call number and the decoded body.
func mockGenerateServer(t *testing.T, handler func(n int, req generateRequest) (int, string)) *mockServer {
	t.Helper()
	m := &mockServer{}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			http.NotFound(w, r)
			return
		}
		data, _ := io.ReadAll(r.Body)
		var req generateRequest
		if err := json.Unmarshal(data, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		n := len(m.calls)
		m.calls = append(m.calls, recordedCall{Path: r.URL.Path, Header: r.Header.Clone(), Body: req})
		m.mu.Unlock()

		status, body := handler(n, req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(m.Close)
	return m
}

func (m *mockServer) recorded() []recordedCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recordedCall(nil), m.calls...)
}

const exhaustedBody = `{
  "candidates": [{"content": {"role": "model", "parts": [{"text": "thinking...", "thought": true}]}, "finishReason": "MAX_TOKENS"}],
  "usageMetadata": {"promptTokenCount": 20, "candidatesTokenCount": 0, "thoughtsTokenCount": 500, "totalTokenCount": 520},
  "modelVersion": "gemini-2.5-pro"
}`

const answerBody = `{
  "candidates": [{"content": {"role": "model", "parts": [{"text": "Paris."}]}, "finishReason": "STOP"}],
  "usageMetadata": {"promptTokenCount": 20, "candidatesTokenCount": 3, "totalTokenCount": 23},
  "modelVersion": "gemini-2.5-pro-002"
}`

func newDirect(t *testing.T, baseURL string) *Adapter {
	t.Helper()
	a, err := New(Config{BaseURL: baseURL, APIKey: "g-key"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func ungrounded(maxTokens int) *api.Request {
	return &api.Request{
		Vendor:    api.VendorGeminiDirect,
		Model:     "models/gemini-2.5-pro",
		MaxTokens: maxTokens,
		Messages: []api.Message{
			{Role: api.RoleSystem, Content: "Be brief."},
			{Role: api.RoleUser, Content: "Capital of France?"},
		},
	}
}

func TestCallDirectRequestShape(t *testing.T) {
	srv := mockGenerateServer(t, func(int, generateRequest) (int, string) { return 200, answerBody })
	a := newDirect(t, srv.URL)
	req := ungrounded(100)

	raw, err := a.Call(context.Background(), req, provider.Gate(a.Capabilities(req.Model), req))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	call := srv.recorded()[0]
	if call.Path != "/v1beta/models/gemini-2.5-pro:generateContent" {
		t.Errorf("path = %q", call.Path)
	}
	if call.Header.Get("x-goog-api-key") != "g-key" {
		t.Errorf("api key header missing")
	}
	if call.Body.SystemInstruction == nil || call.Body.SystemInstruction.Parts[0].Text != "Be brief." {
		t.Errorf("systemInstruction = %+v", call.Body.SystemInstruction)
	}
	if len(call.Body.Contents) != 1 || call.Body.Contents[0].Role != "user" {
		t.Errorf("contents = %+v", call.Body.Contents)
	}
	if len(call.Body.Tools) != 0 {
		t.Errorf("ungrounded call sent tools")
	}
	if call.Body.GenerationConfig.MaxOutputTokens != MinUngroundedTokens {
		t.Errorf("maxOutputTokens = %d, want floor %d", call.Body.GenerationConfig.MaxOutputTokens, MinUngroundedTokens)
	}
	if raw.MaxTokensEffective != MinUngroundedTokens || raw.RetryAttempted {
		t.Errorf("raw = %+v", raw)
	}
	if req.Model != "models/gemini-2.5-pro" {
		t.Errorf("request model rewritten to %q", req.Model)
	}

	res, err := a.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if res.Content != "Paris." || res.ModelVersion != "gemini-2.5-pro-002" {
		t.Errorf("res = %+v", res)
	}
	if res.Usage.TotalTokens != 23 {
		t.Errorf("usage = %+v", res.Usage)
	}
}

func TestCallRetriesEmptyAtBudget(t *testing.T) {
	srv := mockGenerateServer(t, func(n int, _ generateRequest) (int, string) {
		if n == 0 {
			return 200, exhaustedBody
		}
		return 200, answerBody
	})
	a := newDirect(t, srv.URL)
	req := ungrounded(100)

	raw, err := a.Call(context.Background(), req, provider.Gate(a.Capabilities(req.Model), req))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	calls := srv.recorded()
	if len(calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(calls))
	}
	second := calls[1].Body.GenerationConfig
	if second.MaxOutputTokens != RetryMinTokens || second.ResponseMimeType != "text/plain" {
		t.Errorf("retry config = %+v", second)
	}
	if !raw.RetryAttempted || raw.RetryReason != RetryReasonMaxTokensEmpty {
		t.Errorf("retry not reported: %+v", raw)
	}

	res, err := a.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if res.Content != "Paris." || !res.RetryAttempted {
		t.Errorf("res = %+v", res)
	}
	if res.Usage.TotalTokens != 543 {
		t.Errorf("usage should include the first attempt: %+v", res.Usage)
	}
}

func TestCallStillEmptyAfterRetryFails(t *testing.T) {
	srv := mockGenerateServer(t, func(int, generateRequest) (int, string) { return 200, exhaustedBody })
	a := newDirect(t, srv.URL)
	req := ungrounded(100)

	raw, err := a.Call(context.Background(), req, provider.Gate(a.Capabilities(req.Model), req))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(srv.recorded()) != 2 {
		t.Errorf("calls = %d, want exactly one retry", len(srv.recorded()))
	}
	_, err = a.Normalize(raw)
	if api.KindOf(err) != api.ErrorKindProviderEmpty {
		t.Fatalf("KindOf = %q, want PROVIDER_EMPTY_RESPONSE", api.KindOf(err))
	}
}

func TestCallGroundedKeepsBudgetAndSendsSearch(t *testing.T) {
	srv := mockGenerateServer(t, func(int, generateRequest) (int, string) { return 200, answerBody })
	a := newDirect(t, srv.URL)
	req := ungrounded(100)
	req.Grounded = true

	raw, err := a.Call(context.Background(), req, provider.Gate(a.Capabilities(req.Model), req))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	body := srv.recorded()[0].Body
	if len(body.Tools) != 1 || body.Tools[0].GoogleSearch == nil {
		t.Errorf("tools = %+v", body.Tools)
	}
	if body.GenerationConfig.MaxOutputTokens != 100 {
		t.Errorf("grounded budget = %d, want 100", body.GenerationConfig.MaxOutputTokens)
	}
	if raw.WebToolType != "google_search" {
		t.Errorf("WebToolType = %q", raw.WebToolType)
	}
}

func TestVertexEndpointAndToken(t *testing.T) {
	srv := mockGenerateServer(t, func(int, generateRequest) (int, string) { return 200, answerBody })
	a, err := NewVertex(context.Background(), VertexConfig{
		Project:     "proj",
		Location:    "europe-west4",
		BaseURL:     srv.URL,
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "ya29.token"}),
	})
	if err != nil {
		t.Fatalf("NewVertex: %v", err)
	}
	if a.Vendor() != api.VendorVertex {
		t.Errorf("Vendor = %q", a.Vendor())
	}
	req := ungrounded(0)
	req.Vendor = api.VendorVertex
	req.Model = "publishers/google/models/gemini-2.5-flash"

	if _, err := a.Call(context.Background(), req, provider.Gate(a.Capabilities(req.Model), req)); err != nil {
		t.Fatalf("Call: %v", err)
	}
	call := srv.recorded()[0]
	want := "/v1/projects/proj/locations/europe-west4/publishers/google/models/gemini-2.5-flash:generateContent"
	if call.Path != want {
		t.Errorf("path = %q, want %q", call.Path, want)
	}
	if call.Header.Get("Authorization") != "Bearer ya29.token" {
		t.Errorf("Authorization = %q", call.Header.Get("Authorization"))
	}
}

func TestNewVertexRequiresProject(t *testing.T) {
	if _, err := NewVertex(context.Background(), VertexConfig{AccessToken: "t"}); err == nil {
		t.Error("expected error without project")
	}
}

// stubDefaultCredentials replaces the default credential lookup for one test.
func stubDefaultCredentials(t *testing.T, fn func(context.Context) (oauth2.TokenSource, error)) *int {
	t.Helper()
	calls := 0
	orig := defaultTokenSource
	defaultTokenSource = func(ctx context.Context) (oauth2.TokenSource, error) {
		calls++
		return fn(ctx)
	}
	t.Cleanup(func() { defaultTokenSource = orig })
	return &calls
}

func TestVertexFallsBackToDefaultCredentials(t *testing.T) {
	calls := stubDefaultCredentials(t, func(context.Context) (oauth2.TokenSource, error) {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "ya29.adc"}), nil
	})
	srv := mockGenerateServer(t, func(int, generateRequest) (int, string) { return 200, answerBody })
	a, err := NewVertex(context.Background(), VertexConfig{Project: "proj", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewVertex: %v", err)
	}
	if *calls != 1 {
		t.Fatalf("default credential lookups = %d, want 1", *calls)
	}

	req := ungrounded(0)
	req.Vendor = api.VendorVertex
	if _, err := a.Call(context.Background(), req, provider.Gate(a.Capabilities(req.Model), req)); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got := srv.recorded()[0].Header.Get("Authorization"); got != "Bearer ya29.adc" {
		t.Errorf("Authorization = %q, want Bearer ya29.adc", got)
	}
}

func TestVertexStaticTokenSkipsDefaultCredentials(t *testing.T) {
	calls := stubDefaultCredentials(t, func(context.Context) (oauth2.TokenSource, error) {
		return nil, errors.New("unexpected lookup")
	})
	if _, err := NewVertex(context.Background(), VertexConfig{Project: "p", AccessToken: "t"}); err != nil {
		t.Fatalf("NewVertex: %v", err)
	}
	if *calls != 0 {
		t.Errorf("default credential lookups = %d, want 0", *calls)
	}
}

func TestVertexWithoutAnyCredentials(t *testing.T) {
	stubDefaultCredentials(t, func(context.Context) (oauth2.TokenSource, error) {
		return nil, errors.New("google: could not find default credentials")
	})
	_, err := NewVertex(context.Background(), VertexConfig{Project: "p"})
	if err == nil || !strings.Contains(err.Error(), "default credentials") {
		t.Errorf("err = %v, want default credentials failure", err)
	}
}

func TestCallMapsHTTPErrors(t *testing.T) {
	srv := mockGenerateServer(t, func(int, generateRequest) (int, string) {
		return 503, `{"error":{"code":503,"message":"The model is overloaded.","status":"UNAVAILABLE"}}`
	})
	a := newDirect(t, srv.URL)
	req := ungrounded(0)

	_, err := a.Call(context.Background(), req, provider.Gate(a.Capabilities(req.Model), req))
	if api.KindOf(err) != api.ErrorKindProviderUnavailable {
		t.Errorf("KindOf = %q, want PROVIDER_UNAVAILABLE", api.KindOf(err))
	}
}

func TestCapabilities(t *testing.T) {
	a := newDirect(t, "http://unused")
	c := a.Capabilities("models/gemini-2.5-pro")
	if !c.Grounding || !c.ThinkingBudget || c.ReasoningEffort || c.Namespace != "gemini" {
		t.Errorf("gemini-2.5-pro = %+v", c)
	}
	c = a.Capabilities("gemini-2.0-flash")
	if !c.Grounding || c.ThinkingBudget {
		t.Errorf("gemini-2.0-flash = %+v", c)
	}
	if a.Capabilities("gemma-3-27b").Grounding {
		t.Error("gemma should not support grounding")
	}
}

func TestTokenBudgets(t *testing.T) {
	tests := []struct {
		requested int
		grounded  bool
		first     int
		retry     int
	}{
		{100, false, 500, 2000},
		{1500, false, 1500, 3000},
		{6000, false, 6000, 8192},
		{0, false, 0, 2000},
		{100, true, 100, 2000},
	}
	for _, tt := range tests {
		first := tokenBudget(tt.requested, tt.grounded)
		if first != tt.first || retryBudget(first) != tt.retry {
			t.Errorf("budget(%d, %v) = %d/%d, want %d/%d",
				tt.requested, tt.grounded, first, retryBudget(first), tt.first, tt.retry)
		}
	}
}
