package curriculum

import (
	"strconv"
	"strings"
	"unicode"
)

// Slugify converts a topic name to a path-safe kebab-case slug.
func Slugify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+':
			b.WriteString("plus")
		case r == '#':
			b.WriteString("sharp")
		case unicode.IsSpace(r), r == '_', r == '-', r == '/', r == '.':
			b.WriteRune('-')
		}
		// Other characters are dropped
	}

	str := b.String()
	for strings.Contains(str, "--") {
		str = strings.ReplaceAll(str, "--", "-")
	}
	str = strings.Trim(str, "-")
	if str == "" {
		return "topic"
	}
	return str
}

// uniqueSlug returns base, or base-2, base-3... if already taken.
func uniqueSlug(base string, taken map[string]bool) string {
	slug := base
	for n := 2; taken[slug]; n++ {
		slug = base + "-" + strconv.Itoa(n)
	}
	taken[slug] = true
	return slug
}
