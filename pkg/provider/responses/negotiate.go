package responses

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rhuss/weiche/pkg/api"
)

// DefaultToolTTL is how long a variant stays marked unsupported for a model.
const DefaultToolTTL = 15 * time.Minute

// toolCache remembers, per model, the last web-search variant the provider
// accepted and the variants it rejected. Rejections expire so a provider
// side capability flip is retried.
type toolCache struct {
	mu          sync.Mutex
	good        map[string]string
	unsupported map[string]map[string]time.Time
	ttl         time.Duration
	now         func() time.Time
}

func newToolCache(ttl time.Duration, now func() time.Time) *toolCache {
	if ttl <= 0 {
		ttl = DefaultToolTTL
	}
	if now == nil {
		now = time.Now
	}
	return &toolCache{
		good:        make(map[string]string),
		unsupported: make(map[string]map[string]time.Time),
		ttl:         ttl,
		now:         now,
	}
}

// candidates returns the variants to try for model: the last known good
// first, then the remaining variants in default order. Variants marked
// unsupported within the TTL are skipped.
func (c *toolCache) candidates(model string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	marks := c.unsupported[model]
	blocked := func(v string) bool {
		until, ok := marks[v]
		if !ok {
			return false
		}
		if now.After(until) {
			delete(marks, v)
			return false
		}
		return true
	}

	var out []string
	if g := c.good[model]; g != "" && !blocked(g) {
		out = append(out, g)
	}
	for _, v := range WebToolVariants {
		if slices.Contains(out, v) || blocked(v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func (c *toolCache) markGood(model, variant string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.good[model] = variant
	if marks := c.unsupported[model]; marks != nil {
		delete(marks, variant)
	}
}

func (c *toolCache) markUnsupported(model, variant string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.good[model] == variant {
		delete(c.good, model)
	}
	marks := c.unsupported[model]
	if marks == nil {
		marks = make(map[string]time.Time)
		c.unsupported[model] = marks
	}
	marks[variant] = c.now().Add(c.ttl)
}

// lastGood returns the cached variant for model, if any.
func (c *toolCache) lastGood(model string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.good[model]
}

var unsupportedHints = []string{
	"not supported", "unsupported", "does not support", "not available",
	"invalid value", "unknown", "not allowed",
}

// isToolUnsupported reports whether err is a provider rejection of the
// web-search tool variant rather than of the request as a whole.
func isToolUnsupported(err error, variant string) bool {
	e, ok := api.AsError(err)
	if !ok || e.Kind != api.ErrorKindProviderRejected || e.StatusCode != 400 {
		return false
	}
	msg := strings.ToLower(e.Message)
	if !strings.Contains(msg, "tool") && !strings.Contains(msg, variant) && !strings.Contains(msg, "web_search") {
		return false
	}
	for _, h := range unsupportedHints {
		if strings.Contains(msg, h) {
			return true
		}
	}
	return false
}
