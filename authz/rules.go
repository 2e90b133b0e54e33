package authz

import "strings"

// ruleFor resolves the entry governing a page id. Rule keys are
// normalized paths: a leading slash, no trailing slash. The exact path
// wins; otherwise the walk removes the last segment repeatedly and
// takes the first ancestor rule that still applies recursively, down
// to the root rule "/". No match means the page is not governed.
func ruleFor[R any](rules map[string]R, pageID string, recursive func(R) bool) (R, bool) {
	var zero R
	if len(rules) == 0 {
		return zero, false
	}

	if r, ok := rules["/"+pageID]; ok {
		return r, true
	}

	parts := strings.Split(strings.Trim(pageID, "/"), "/")
	for i := len(parts) - 1; i >= 0; i-- {
		sub := "/" + strings.Join(parts[:i], "/")
		if r, ok := rules[sub]; ok && recursive(r) {
			return r, true
		}
	}
	return zero, false
}

// recursiveEnabled interprets the tri-state recursive flag: unset
// means the rule covers descendants.
func recursiveEnabled(v *bool) bool {
	return v == nil || *v
}
