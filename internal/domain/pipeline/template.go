// Package pipeline implements prompt pipeline execution: template variable
// substitution, safety filtering, and the round execution engine.
package pipeline

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// placeholderRe matches {{variable}} or {{variable.nested.path}} placeholders.
var placeholderRe = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)*)\}\}`)

// Substitute replaces {{path}} placeholders in template with values from vars.
// Placeholders that cannot be resolved (missing key, nil value, traversal
// through a non-map) are left intact byte-for-byte.
func Substitute(template string, vars map[string]any) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		path := match[2 : len(match)-2]
		value, ok := nestedValue(vars, path)
		if !ok || value == nil {
			return match
		}
		return formatValue(value)
	})
}

// ExtractVariables returns the unique placeholder paths in template, in order
// of first appearance.
func ExtractVariables(template string) []string {
	matches := placeholderRe.FindAllStringSubmatch(template, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// ValidateTemplate checks that every placeholder in template can be served by
// one of the available variable names. A placeholder counts as available when
// its root segment matches the root segment of an available name.
func ValidateTemplate(template string, available []string) (bool, []string) {
	roots := make(map[string]bool, len(available))
	for _, v := range available {
		root, _, _ := strings.Cut(v, ".")
		roots[root] = true
	}

	var missing []string
	for _, required := range ExtractVariables(template) {
		root, _, _ := strings.Cut(required, ".")
		if !roots[root] {
			missing = append(missing, required)
		}
	}
	return len(missing) == 0, missing
}

// nestedValue walks a dot-separated path through nested maps.
// The second return is false when the path cannot be traversed.
func nestedValue(data map[string]any, path string) (any, bool) {
	var current any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// formatValue renders a variable value for inclusion in a prompt.
// Booleans read as yes/no, string slices join with commas, and maps expand
// into "- key: value" lines with keys sorted for deterministic output.
func formatValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		if v {
			return "yes"
		}
		return "no"
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case []string:
		return strings.Join(v, ", ")
	case []any:
		if joined, ok := joinStrings(v); ok {
			return joined
		}
		lines := make([]string, 0, len(v))
		for _, item := range v {
			lines = append(lines, "- "+formatValue(item))
		}
		return strings.Join(lines, "\n")
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines := make([]string, 0, len(keys))
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("- %s: %s", k, formatValue(v[k])))
		}
		return strings.Join(lines, "\n")
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// joinStrings comma-joins a []any whose elements are all strings.
func joinStrings(items []any) (string, bool) {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return "", false
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ", "), true
}
