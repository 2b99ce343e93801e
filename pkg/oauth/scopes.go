package oauth

import "sort"

// ScopesMatch reports whether a and b hold the same scopes in any order. A
// nil slice means "no scopes known" and only matches another nil slice.
func ScopesMatch(a, b []string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if len(a) != len(b) {
		return false
	}

	sa := append([]string(nil), a...)
	sb := append([]string(nil), b...)
	sort.Strings(sa)
	sort.Strings(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}
