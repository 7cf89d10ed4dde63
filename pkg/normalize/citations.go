package normalize

import (
	"context"

	"github.com/rhuss/weiche/pkg/api"
)

// Citations finalizes adapter citations: redirect resolution, URL
// normalization with dedup, then authority scoring.
type Citations struct {
	resolver *Resolver
	scorer   *Scorer
}

// NewCitations creates a citation pipeline. A nil resolver skips redirect
// resolution; a nil scorer uses the built-in lists.
func NewCitations(resolver *Resolver, scorer *Scorer) *Citations {
	if scorer == nil {
		scorer = NewScorer(AuthorityLists{})
	}
	return &Citations{resolver: resolver, scorer: scorer}
}

// Finalize runs the pipeline. Finalizing an already finalized list yields
// the same list.
func (c *Citations) Finalize(ctx context.Context, cs []api.Citation) []api.Citation {
	if len(cs) == 0 {
		return nil
	}
	if c.resolver != nil {
		cs = c.resolver.Resolve(ctx, cs)
	}
	cs = Dedup(cs)
	c.scorer.Score(cs)
	return cs
}

// Counts returns the anchored and unlinked citation counts.
func Counts(cs []api.Citation) (anchored, unlinked int) {
	for _, c := range cs {
		if c.Kind == api.CitationAnchored {
			anchored++
		} else {
			unlinked++
		}
	}
	return anchored, unlinked
}
