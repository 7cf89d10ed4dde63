package provider

import (
	"context"
	"strings"

	"github.com/rhuss/weiche/pkg/api"
)

// Family identifies a provider protocol family.
type Family string

const (
	// FamilyResponses is the Responses-style protocol (typed input items,
	// output items with annotations).
	FamilyResponses Family = "responses"

	// FamilyGoogle is the Google-style generation protocol (contents,
	// generationConfig, groundingMetadata).
	FamilyGoogle Family = "google"
)

// Adapter translates canonical requests into one provider protocol and the
// provider's raw answers back into canonical fields.
//
// Implementations must be safe for concurrent use by multiple goroutines.
// Adapters never retry on their own, except for the protocol-specific
// empty-output retry of the Google family.
type Adapter interface {
	// Vendor returns the vendor this adapter serves.
	Vendor() api.Vendor

	// Family returns the protocol family.
	Family() Family

	// Capabilities reports what the given model supports.
	Capabilities(model string) Capabilities

	// Call executes one provider call. The requested model string in req
	// is never modified.
	Call(ctx context.Context, req *api.Request, eff Effective) (*RawPayload, error)

	// Normalize converts a raw payload produced by Call into canonical
	// fields. Citations are returned unresolved.
	Normalize(raw *RawPayload) (*Result, error)
}

// CanonicalModel returns the comparable form of a model id. Google-family
// ids may arrive as "models/<id>", "publishers/google/models/<id>" or a
// full Vertex resource path; all compare as "<id>". Other families are
// returned unchanged.
func CanonicalModel(family Family, model string) string {
	if family != FamilyGoogle {
		return model
	}
	if i := strings.LastIndex(model, "models/"); i >= 0 {
		return model[i+len("models/"):]
	}
	return model
}
