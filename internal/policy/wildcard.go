package policy

import "strings"

// Match reports whether value matches pattern, where `*` matches any run of
// characters (including none) and `?` matches exactly one. Matching is
// case-insensitive. The same matcher covers endpoint path patterns and
// access-control IP patterns.
func Match(pattern, value string) bool {
	return matchFold(strings.ToLower(pattern), strings.ToLower(value))
}

func matchFold(pattern, value string) bool {
	// Iterative star-backtracking keeps this linear for the short strings
	// involved (paths and IPs).
	var starIdx, matchIdx = -1, 0
	p, v := 0, 0
	for v < len(value) {
		switch {
		case p < len(pattern) && (pattern[p] == '?' || pattern[p] == value[v]):
			p++
			v++
		case p < len(pattern) && pattern[p] == '*':
			starIdx = p
			matchIdx = v
			p++
		case starIdx != -1:
			p = starIdx + 1
			matchIdx++
			v = matchIdx
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}
