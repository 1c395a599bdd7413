// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// CategoriesKey is the settings key holding highlight categories as a
// name to color map.
const CategoriesKey = "categories"

// fallbackColor is used for legacy entries that carry no color.
const fallbackColor = "yellow"

// DefaultCategories returns the snowballing highlight categories.
func DefaultCategories() map[string]any {
	return map[string]any{
		"Seed":      "#4CAF50",
		"Backward":  "#2196F3",
		"Forward":   "#9C27B0",
		"Included":  "#2E7D32",
		"Excluded":  "#D32F2F",
		"Duplicate": "#757575",
		"Pending":   "#FBC02D",
	}
}

// SeedCategories adds every missing default category to existing and
// reports whether anything changed. Existing colors are never replaced.
// A legacy list form (names, or {name, color} objects) is converted to a
// map with the defaults underneath.
func SeedCategories(existing any) (map[string]any, bool) {
	defaults := DefaultCategories()

	if list, ok := existing.([]any); ok {
		out := defaults
		for _, item := range list {
			switch v := item.(type) {
			case string:
				if _, ok := out[v]; !ok {
					out[v] = fallbackColor
				}
			case map[string]any:
				name, _ := v["name"].(string)
				if name == "" {
					continue
				}
				color, _ := v["color"].(string)
				if color == "" {
					color = fallbackColor
				}
				out[name] = color
			}
		}
		return out, true
	}

	current, _ := existing.(map[string]any)
	out := make(map[string]any, len(current)+len(defaults))
	for k, v := range current {
		out[k] = v
	}
	changed := false
	for name, color := range defaults {
		if c, ok := out[name]; !ok || c == nil || c == "" {
			out[name] = color
			changed = true
		}
	}
	return out, changed
}
