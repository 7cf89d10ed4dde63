package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rhuss/weiche/pkg/als"
	"github.com/rhuss/weiche/pkg/api"
	"github.com/rhuss/weiche/pkg/provider"
	"github.com/rhuss/weiche/pkg/resilience"
)

// fakeAdapter returns a fixed result or error and records the requests it
// received.
type fakeAdapter struct {
	vendor api.Vendor
	family provider.Family
	caps   provider.Capabilities
	result *provider.Result
	err    error

	mu       sync.Mutex
	requests []api.Request
	efforts  []provider.Effective
}

var _ provider.Adapter = (*fakeAdapter)(nil)

func (f *fakeAdapter) Vendor() api.Vendor                        { return f.vendor }
func (f *fakeAdapter) Family() provider.Family                   { return f.family }
func (f *fakeAdapter) Capabilities(string) provider.Capabilities { return f.caps }

func (f *fakeAdapter) Call(_ context.Context, req *api.Request, eff provider.Effective) (*provider.RawPayload, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req.Clone())
	f.efforts = append(f.efforts, eff)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &provider.RawPayload{Family: f.family, Vendor: f.vendor, Model: req.Model, WebToolType: "web_search"}, nil
}

func (f *fakeAdapter) Normalize(raw *provider.RawPayload) (*provider.Result, error) {
	res := *f.result
	res.Citations = append([]api.Citation(nil), f.result.Citations...)
	if res.ModelVersion == "" {
		res.ModelVersion = raw.Model
	}
	return &res, nil
}

func (f *fakeAdapter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

var groundedCaps = provider.Capabilities{Grounding: true, ReasoningEffort: true, Namespace: "openai"}

func openaiFake(res *provider.Result) *fakeAdapter {
	return &fakeAdapter{vendor: api.VendorOpenAI, family: provider.FamilyResponses, caps: groundedCaps, result: res}
}

func googleFake(vendor api.Vendor, res *provider.Result) *fakeAdapter {
	return &fakeAdapter{vendor: vendor, family: provider.FamilyGoogle,
		caps: provider.Capabilities{Grounding: true, ThinkingBudget: true, Namespace: "gemini"}, result: res}
}

func anchored(urls ...string) []api.Citation {
	out := make([]api.Citation, len(urls))
	for i, u := range urls {
		out[i] = api.Citation{URL: u, Kind: api.CitationAnchored}
	}
	return out
}

func newTestRouter(t *testing.T, cfg Config, adapters ...provider.Adapter) *Router {
	t.Helper()
	if cfg.AllowedModels == nil {
		cfg.AllowedModels = map[api.Vendor][]string{}
		for _, a := range adapters {
			cfg.AllowedModels[a.Vendor()] = []string{"X", "gpt-5", "gemini-2.5-pro"}
		}
	}
	x := resilience.NewExecutor(nil, nil, resilience.ExecutorConfig{TransportRetries: -1},
		resilience.WithSleep(func(context.Context, time.Duration) error { return nil }))
	r, err := New(cfg, adapters, WithExecutor(x))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func topStory(vendor api.Vendor, model string, mode api.GroundingMode) api.Request {
	return api.Request{
		Vendor:        vendor,
		Model:         model,
		Grounded:      mode != api.GroundingNone,
		GroundingMode: mode,
		Messages:      []api.Message{{Role: api.RoleUser, Content: "What's today's top story?"}},
	}
}

func TestDispatchGroundedRequiredPasses(t *testing.T) {
	a := openaiFake(&provider.Result{
		Content:       "The top story is X.",
		ModelVersion:  "X",
		ToolCallCount: 2,
		Citations:     anchored("https://a.example/1", "https://b.example/2", "https://c.example/3"),
	})
	r := newTestRouter(t, Config{}, a)

	resp, err := r.Dispatch(context.Background(), topStory(api.VendorOpenAI, "X", api.GroundingRequired))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !resp.Success || !resp.GroundedEffective || resp.Error != nil {
		t.Errorf("resp = %+v", resp)
	}
	if resp.ModelVersion != "X" {
		t.Errorf("ModelVersion = %q, want X", resp.ModelVersion)
	}
	md := resp.Metadata
	if md.Int(api.MetaToolCallCount) != 2 || md.Int(api.MetaAnchoredCitationsCount) != 3 || md.Int(api.MetaUnlinkedSourcesCount) != 0 {
		t.Errorf("metadata counts = %v", md)
	}
	if !md.Bool(api.MetaGroundedEffective) || md.String(api.MetaWebToolType) != "web_search" {
		t.Errorf("metadata = %v", md)
	}
	if resp.RequestID == "" || md.String(api.MetaRequestID) != resp.RequestID {
		t.Errorf("request id not propagated: %q / %v", resp.RequestID, md[api.MetaRequestID])
	}
}

func TestDispatchGroundedRequiredFailsWithoutToolCalls(t *testing.T) {
	a := openaiFake(&provider.Result{Content: "I think it is X.", ToolCallCount: 0})
	r := newTestRouter(t, Config{}, a)

	resp, err := r.Dispatch(context.Background(), topStory(api.VendorOpenAI, "X", api.GroundingRequired))
	if api.KindOf(err) != api.ErrorKindGroundingRequiredFailed {
		t.Fatalf("KindOf = %q, want GROUNDING_REQUIRED_FAILED", api.KindOf(err))
	}
	if resp == nil || resp.Success || resp.Content != "" {
		t.Errorf("content leaked on failure: %+v", resp)
	}
	if resp.Error != err {
		t.Errorf("returned error differs from resp.Error")
	}
	if resp.Metadata.String(api.MetaErrorKind) != string(api.ErrorKindGroundingRequiredFailed) {
		t.Errorf("error_kind = %v", resp.Metadata[api.MetaErrorKind])
	}
}

func TestDispatchGoogleRelaxedPassesOnCitation(t *testing.T) {
	res := &provider.Result{Content: "Answer.", Citations: []api.Citation{{URL: "https://a.example", Kind: api.CitationUnlinked}}}

	relaxed := newTestRouter(t, Config{}, googleFake(api.VendorGeminiDirect, res))
	resp, err := relaxed.Dispatch(context.Background(), topStory(api.VendorGeminiDirect, "gemini-2.5-pro", api.GroundingRequired))
	if err != nil {
		t.Fatalf("relaxed: %v", err)
	}
	if !resp.GroundedEffective {
		t.Error("relaxed policy should count citations as grounding")
	}

	strict := newTestRouter(t, Config{GoogleStrict: true}, googleFake(api.VendorGeminiDirect, res))
	_, err = strict.Dispatch(context.Background(), topStory(api.VendorGeminiDirect, "gemini-2.5-pro", api.GroundingRequired))
	if api.KindOf(err) != api.ErrorKindGroundingRequiredFailed {
		t.Errorf("strict: KindOf = %q", api.KindOf(err))
	}
}

func TestDispatchModelNotAllowed(t *testing.T) {
	a := openaiFake(&provider.Result{Content: "x"})
	r := newTestRouter(t, Config{AllowedModels: map[api.Vendor][]string{api.VendorOpenAI: {"gpt-5"}}}, a)

	resp, err := r.Dispatch(context.Background(), topStory(api.VendorOpenAI, "gpt-5-mini", api.GroundingNone))
	if api.KindOf(err) != api.ErrorKindModelNotAllowed {
		t.Fatalf("KindOf = %q", api.KindOf(err))
	}
	if a.calls() != 0 {
		t.Error("adapter called for a disallowed model")
	}
	if resp.Success {
		t.Error("Success = true")
	}
}

func TestDispatchGoogleAllowListUsesCanonicalForm(t *testing.T) {
	a := googleFake(api.VendorVertex, &provider.Result{Content: "ok"})
	r := newTestRouter(t, Config{AllowedModels: map[api.Vendor][]string{api.VendorVertex: {"models/gemini-2.5-flash"}}}, a)

	req := topStory(api.VendorVertex, "publishers/google/models/gemini-2.5-flash", api.GroundingNone)
	resp, err := r.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := a.requests[0].Model; got != req.Model {
		t.Errorf("model rewritten to %q", got)
	}
	if resp.ModelVersion != req.Model {
		t.Errorf("ModelVersion = %q, want the requested model", resp.ModelVersion)
	}
}

func TestDispatchGroundingNotSupported(t *testing.T) {
	a := openaiFake(&provider.Result{Content: "x"})
	a.caps = provider.Capabilities{}
	r := newTestRouter(t, Config{}, a)

	_, err := r.Dispatch(context.Background(), topStory(api.VendorOpenAI, "X", api.GroundingAuto))
	if api.KindOf(err) != api.ErrorKindGroundingNotSupported {
		t.Fatalf("KindOf = %q", api.KindOf(err))
	}
	if a.calls() != 0 {
		t.Error("adapter called")
	}
}

func TestDispatchDropsUnsupportedKnobs(t *testing.T) {
	a := openaiFake(&provider.Result{Content: "x"})
	r := newTestRouter(t, Config{}, a)

	budget := 512
	req := topStory(api.VendorOpenAI, "X", api.GroundingNone)
	req.Config = api.CallerConfig{
		ReasoningEffort: "high",
		ThinkingBudget:  &budget,
		Extra:           map[string]string{"openai.service_tier": "flex", "gemini.response_mime_type": "text/plain"},
	}

	resp, err := r.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	dropped, _ := resp.Metadata[api.MetaDroppedKnobs].([]string)
	if len(dropped) != 2 || dropped[0] != api.KnobThinkingBudget || dropped[1] != "gemini.response_mime_type" {
		t.Errorf("dropped_knobs = %v", dropped)
	}
	sent := a.efforts[0].Config
	if sent.ThinkingBudget != nil || sent.ReasoningEffort != "high" || sent.Extra["openai.service_tier"] != "flex" {
		t.Errorf("gated config = %+v", sent)
	}
	if req.Config.ThinkingBudget == nil {
		t.Error("caller config mutated")
	}
}

func TestDispatchALSOrderAndTelemetry(t *testing.T) {
	a := openaiFake(&provider.Result{Content: "x"})
	injector := als.New(als.Config{
		ProductionKeyID: "prod-1",
		Keys:            map[string]string{"prod-1": "s3cret"},
	}, als.WithEnv(func(string) (string, bool) { return "", false }))
	x := resilience.NewExecutor(nil, nil, resilience.ExecutorConfig{})
	r, err := New(Config{AllowedModels: map[api.Vendor][]string{api.VendorOpenAI: {"X"}}},
		[]provider.Adapter{a}, WithALS(injector), WithExecutor(x))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := api.Request{
		Vendor: api.VendorOpenAI, Model: "X",
		Locale: &api.LocaleContext{CountryCode: "de", Locale: "de-DE"},
		Messages: []api.Message{
			{Role: api.RoleSystem, Content: "Be terse."},
			{Role: api.RoleUser, Content: "question"},
		},
	}
	resp, err := r.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	sent := a.requests[0].Messages
	if len(sent) != 3 || sent[0].Role != api.RoleSystem || sent[1].Role != api.RoleUser || sent[2].Content != "question" {
		t.Fatalf("message order = %+v", sent)
	}
	md := resp.Metadata
	if md.String(api.MetaALSSeedKeyID) != "prod-1" || md.Bool(api.MetaALSSeedIsDefault) != true {
		t.Errorf("als metadata = %v", md)
	}
	if md.String(api.MetaALSCountry) != "DE" || len(md.String(api.MetaALSSHA256)) != 64 {
		t.Errorf("als metadata = %v", md)
	}
	for k, v := range md {
		if s, ok := v.(string); ok && s == sent[1].Content {
			t.Errorf("raw ALS text leaked into telemetry key %q", k)
		}
	}
}

func TestDispatchFailover(t *testing.T) {
	primary := googleFake(api.VendorGeminiDirect, nil)
	primary.err = api.NewError(api.ErrorKindProviderUnavailable, "overloaded")
	secondary := googleFake(api.VendorVertex, &provider.Result{Content: "from vertex", ModelVersion: "gemini-2.5-pro-002"})

	r := newTestRouter(t, Config{Failover: map[api.Vendor]api.Vendor{api.VendorGeminiDirect: api.VendorVertex}}, primary, secondary)

	resp, err := r.Dispatch(context.Background(), topStory(api.VendorGeminiDirect, "models/gemini-2.5-pro", api.GroundingNone))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if resp.Vendor != api.VendorVertex || resp.Content != "from vertex" {
		t.Errorf("resp = %+v", resp)
	}
	path, _ := resp.Metadata[api.MetaVendorPath].([]string)
	if len(path) != 2 || path[0] != "gemini_direct" || path[1] != "vertex" {
		t.Errorf("vendor_path = %v", path)
	}
	if resp.Metadata.String(api.MetaFailoverReason) != string(api.ErrorKindProviderUnavailable) {
		t.Errorf("failover_reason = %v", resp.Metadata[api.MetaFailoverReason])
	}
	if got := secondary.requests[0].Model; got != "gemini-2.5-pro" {
		t.Errorf("failover model = %q, want canonical id", got)
	}
}

func TestDispatchFailoverAtMostOnce(t *testing.T) {
	unavailable := api.NewError(api.ErrorKindProviderUnavailable, "down")
	a := googleFake(api.VendorGeminiDirect, nil)
	a.err = unavailable
	b := googleFake(api.VendorVertex, nil)
	b.err = unavailable

	r := newTestRouter(t, Config{Failover: map[api.Vendor]api.Vendor{
		api.VendorGeminiDirect: api.VendorVertex,
		api.VendorVertex:       api.VendorGeminiDirect,
	}}, a, b)

	resp, err := r.Dispatch(context.Background(), topStory(api.VendorGeminiDirect, "gemini-2.5-pro", api.GroundingNone))
	if api.KindOf(err) != api.ErrorKindProviderUnavailable {
		t.Fatalf("KindOf = %q", api.KindOf(err))
	}
	if a.calls() != 1 || b.calls() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", a.calls(), b.calls())
	}
	if resp.Vendor != api.VendorVertex {
		t.Errorf("Vendor = %q", resp.Vendor)
	}
}

func TestDispatchNoFailoverOnPolicyError(t *testing.T) {
	a := openaiFake(nil)
	a.err = api.NewError(api.ErrorKindProviderRejected, "bad request")
	b := googleFake(api.VendorGeminiDirect, &provider.Result{Content: "x"})
	r := newTestRouter(t, Config{Failover: map[api.Vendor]api.Vendor{api.VendorOpenAI: api.VendorGeminiDirect}}, a, b)

	_, err := r.Dispatch(context.Background(), topStory(api.VendorOpenAI, "X", api.GroundingNone))
	if api.KindOf(err) != api.ErrorKindProviderRejected {
		t.Fatalf("KindOf = %q", api.KindOf(err))
	}
	if b.calls() != 0 {
		t.Error("failover on non-qualifying error")
	}
}

func TestDispatchInvalidRequest(t *testing.T) {
	r := newTestRouter(t, Config{}, openaiFake(&provider.Result{Content: "x"}))

	resp, err := r.Dispatch(context.Background(), api.Request{Vendor: api.VendorOpenAI, Model: "X"})
	if api.KindOf(err) != api.ErrorKindInvalidRequest {
		t.Fatalf("KindOf = %q", api.KindOf(err))
	}
	if resp == nil || resp.Metadata == nil {
		t.Fatal("response or metadata missing")
	}
	for _, k := range []string{
		api.MetaToolCallCount, api.MetaAnchoredCitationsCount, api.MetaUnlinkedSourcesCount,
		api.MetaGroundedEffective, api.MetaWebToolType, api.MetaVendorPath, api.MetaFailoverReason,
		api.MetaALSSeedKeyID, api.MetaALSSeedIsDefault, api.MetaRetryAttempted,
		api.MetaProvokerRetryUsed, api.MetaCircuitBreakerStatus,
	} {
		if _, ok := resp.Metadata[k]; !ok {
			t.Errorf("stable key %q missing", k)
		}
	}
}

type recordingRecorder struct {
	got []*api.CanonicalResponse
}

func (r *recordingRecorder) RecordDispatch(_ *api.Request, resp *api.CanonicalResponse) {
	r.got = append(r.got, resp)
}

func TestDispatchRecordsAndMeasuresLatency(t *testing.T) {
	rec := &recordingRecorder{}
	now := time.Unix(0, 0)
	clock := func() time.Time {
		now = now.Add(150 * time.Millisecond)
		return now
	}
	r, err := New(Config{AllowedModels: map[api.Vendor][]string{api.VendorOpenAI: {"X"}}},
		[]provider.Adapter{openaiFake(&provider.Result{Content: "x"})},
		WithRecorder(rec), WithClock(clock))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, _ := r.Dispatch(context.Background(), topStory(api.VendorOpenAI, "X", api.GroundingNone))
	if len(rec.got) != 1 || rec.got[0] != resp {
		t.Errorf("recorder got %d responses", len(rec.got))
	}
	if resp.Latency.Std() != 150*time.Millisecond {
		t.Errorf("Latency = %v", resp.Latency.Std())
	}
}

func TestNewRejectsBadWiring(t *testing.T) {
	a := openaiFake(nil)
	if _, err := New(Config{}, []provider.Adapter{a, openaiFake(nil)}); err == nil {
		t.Error("duplicate vendor accepted")
	}
	if _, err := New(Config{Failover: map[api.Vendor]api.Vendor{api.VendorOpenAI: api.VendorVertex}}, []provider.Adapter{a}); err == nil {
		t.Error("failover to unknown vendor accepted")
	}
	if _, err := New(Config{AllowedModels: map[api.Vendor][]string{api.VendorVertex: {"m"}}}, []provider.Adapter{a}); err == nil {
		t.Error("allow-list without adapter accepted")
	}
}
