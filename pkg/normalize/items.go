package normalize

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/rhuss/weiche/pkg/provider"
)

// ClassifyItemType maps a Responses-style output item type onto the closed
// item kind set. Matching is case-insensitive; unknown types are tolerated.
func ClassifyItemType(itemType string) provider.ItemKind {
	t := strings.ToLower(strings.TrimSpace(itemType))
	switch {
	case t == "message":
		return provider.ItemMessage
	case t == "reasoning":
		return provider.ItemReasoning
	case strings.HasSuffix(t, "_result"), strings.HasSuffix(t, "_output"):
		return provider.ItemToolResult
	case strings.Contains(t, "search"), strings.Contains(t, "tool_call"), strings.HasSuffix(t, "_call"):
		return provider.ItemToolCall
	}
	return provider.ItemUnknown
}

// Pick returns the first key of root that exists, trying spellings in
// order. Callers pass camelCase first so a payload carrying both spellings
// is read once.
func Pick(root gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := root.Get(k); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

// PickInt is Pick for integer fields; missing fields yield 0.
func PickInt(root gjson.Result, keys ...string) int {
	return int(Pick(root, keys...).Int())
}
