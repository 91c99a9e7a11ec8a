// Package templating renders {{placeholder}} message templates.
package templating

import (
	"regexp"
	"slices"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// Substitute replaces every bound placeholder in a single left-to-right pass.
// Placeholders without a binding are left untouched, and substituted values
// are never scanned again.
func Substitute(template string, bindings map[string]string) string {
	if len(bindings) == 0 {
		return template
	}
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		key := placeholderRe.FindStringSubmatch(match)[1]
		if v, ok := bindings[key]; ok {
			return v
		}
		return match
	})
}

// ExtractPlaceholders returns the distinct placeholder names in first-seen order.
func ExtractPlaceholders(template string) []string {
	out := make([]string, 0)
	for _, m := range placeholderRe.FindAllStringSubmatch(template, -1) {
		if !slices.Contains(out, m[1]) {
			out = append(out, m[1])
		}
	}
	return out
}
