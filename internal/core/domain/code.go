package domain

import (
	"strings"
	"unicode"
)

// NormalizeCode canonicalizes an item or location code for equality:
// whitespace and hyphens are dropped, the rest is uppercased.
// normalize(normalize(x)) == normalize(x).
func NormalizeCode(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range code {
		if unicode.IsSpace(r) || r == '-' {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}
