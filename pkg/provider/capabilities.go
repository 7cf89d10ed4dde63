package provider

import (
	"strings"

	"github.com/rhuss/weiche/pkg/api"
)

// Capabilities declares what a (vendor, model) pair supports. The router
// uses it to reject ungroundable requests and to drop unsupported knobs.
type Capabilities struct {
	// Grounding indicates the model can use a web-search tool.
	Grounding bool

	// ReasoningEffort indicates the model accepts reasoning effort hints.
	ReasoningEffort bool

	// ThinkingBudget indicates the model accepts a thinking token budget.
	ThinkingBudget bool

	// IncludeThoughts indicates the model can return thought summaries.
	IncludeThoughts bool

	// JSONMode indicates the model supports a JSON response format.
	JSONMode bool

	// ToolChoice indicates the model honors an explicit tool choice.
	ToolChoice bool

	// Sampling indicates temperature and top_p are accepted. Reasoning
	// models reject them.
	Sampling bool

	// Seed indicates a sampling seed is accepted.
	Seed bool

	// Namespace is the prefix of CallerConfig.Extra keys this vendor
	// understands, e.g. "openai". Keys in other namespaces are dropped.
	Namespace string
}

// Effective is the gated view of a request handed to an adapter call.
type Effective struct {
	Capabilities Capabilities

	// Mode is the grounding mode for this attempt. The synthesis pass runs
	// with GroundingNone even when the request was grounded.
	Mode api.GroundingMode

	// Config holds only the caller knobs the model supports.
	Config api.CallerConfig

	// Sampling holds only the sampling parameters the model supports.
	Sampling api.Sampling

	// Dropped lists knob names removed by gating.
	Dropped []string

	// Egress is the network path for this attempt, after any circuit
	// breaker downgrade.
	Egress api.Egress
}

// Gate filters the caller's knobs against caps. Unsupported knobs are
// removed from the returned copies and listed in Effective.Dropped; gating
// never fails.
func Gate(caps Capabilities, req *api.Request) Effective {
	eff := Effective{
		Capabilities: caps,
		Mode:         req.Mode(),
		Sampling:     req.Sampling,
		Egress:       req.Egress,
	}
	if eff.Egress == "" {
		eff.Egress = api.EgressDirect
	}

	cfg := req.Config
	drop := func(name string) { eff.Dropped = append(eff.Dropped, name) }

	if cfg.ReasoningEffort != "" && !caps.ReasoningEffort {
		cfg.ReasoningEffort = ""
		drop(api.KnobReasoningEffort)
	}
	if cfg.ThinkingBudget != nil && !caps.ThinkingBudget {
		cfg.ThinkingBudget = nil
		drop(api.KnobThinkingBudget)
	}
	if cfg.IncludeThoughts && !caps.IncludeThoughts {
		cfg.IncludeThoughts = false
		drop(api.KnobIncludeThoughts)
	}
	if cfg.JSONMode && !caps.JSONMode {
		cfg.JSONMode = false
		drop(api.KnobJSONMode)
	}
	if cfg.ToolChoice != "" && !caps.ToolChoice {
		cfg.ToolChoice = ""
		drop(api.KnobToolChoice)
	}

	if len(req.Config.Extra) > 0 {
		cfg.Extra = make(map[string]string, len(req.Config.Extra))
		prefix := caps.Namespace + "."
		for _, k := range (api.CallerConfig{Extra: req.Config.Extra}).Knobs() {
			if caps.Namespace != "" && strings.HasPrefix(k, prefix) {
				cfg.Extra[k] = req.Config.Extra[k]
				continue
			}
			drop(k)
		}
	}
	eff.Config = cfg

	if !caps.Sampling {
		if eff.Sampling.Temperature != nil {
			eff.Sampling.Temperature = nil
			drop(api.KnobTemperature)
		}
		if eff.Sampling.TopP != nil {
			eff.Sampling.TopP = nil
			drop(api.KnobTopP)
		}
	}
	if eff.Sampling.Seed != nil && !caps.Seed {
		eff.Sampling.Seed = nil
		drop(api.KnobSeed)
	}
	return eff
}

// ExtraValue returns the value of a namespaced knob without its namespace
// prefix, e.g. ExtraValue("service_tier") for "openai.service_tier".
func (e Effective) ExtraValue(key string) (string, bool) {
	if e.Capabilities.Namespace == "" {
		return "", false
	}
	v, ok := e.Config.Extra[e.Capabilities.Namespace+"."+key]
	return v, ok
}
