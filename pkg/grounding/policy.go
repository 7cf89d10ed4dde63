// Package grounding decides whether a normalized provider result satisfies
// the caller's grounding mode.
package grounding

import (
	"github.com/rhuss/weiche/pkg/api"
	"github.com/rhuss/weiche/pkg/provider"
)

// Failure reasons reported on GROUNDING_REQUIRED_FAILED.
const (
	ReasonNoToolCalls = "no_tool_calls"
	ReasonNoCitations = "no_citations"
	ReasonNoEvidence  = "no_evidence"
)

// Evidence is what the adapter observed.
type Evidence struct {
	Family    provider.Family
	ToolCalls int
	Anchored  int
	Unlinked  int
}

// Citations returns the total citation count.
func (e Evidence) Citations() int {
	return e.Anchored + e.Unlinked
}

// Decision is the policy outcome.
type Decision struct {
	Pass              bool
	GroundedEffective bool

	// Reason is set when Pass is false.
	Reason string
}

// Policy evaluates grounding modes against evidence.
type Policy struct {
	// GoogleStrict requires a tool call for REQUIRED mode on the Google
	// family. When false (the default), any citation also passes.
	GoogleStrict bool
}

// Evaluate applies the decision table:
//
//	Responses  REQUIRED  tool calls > 0 and citations > 0
//	Google     REQUIRED  tool calls > 0, or any citation unless strict
//	any        AUTO      always passes
//	any        NONE      always passes
func (p Policy) Evaluate(mode api.GroundingMode, ev Evidence) Decision {
	d := Decision{Pass: true, GroundedEffective: p.groundedEffective(ev)}
	if mode != api.GroundingRequired {
		return d
	}

	switch ev.Family {
	case provider.FamilyGoogle:
		if p.GoogleStrict {
			if ev.ToolCalls == 0 {
				d.Pass, d.Reason = false, ReasonNoToolCalls
			}
			return d
		}
		if ev.ToolCalls == 0 && ev.Citations() == 0 {
			d.Pass, d.Reason = false, ReasonNoEvidence
		}
	default:
		switch {
		case ev.ToolCalls == 0:
			d.Pass, d.Reason = false, ReasonNoToolCalls
		case ev.Citations() == 0:
			d.Pass, d.Reason = false, ReasonNoCitations
		}
	}
	return d
}

func (p Policy) groundedEffective(ev Evidence) bool {
	if ev.Family == provider.FamilyGoogle && !p.GoogleStrict {
		return ev.ToolCalls > 0 || ev.Citations() > 0
	}
	return ev.ToolCalls > 0
}

// Err returns the typed error for a failed decision, or nil.
func (d Decision) Err(vendor api.Vendor) *api.Error {
	if d.Pass {
		return nil
	}
	return api.NewGroundingRequiredFailedError(vendor, d.Reason)
}
