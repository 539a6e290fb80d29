package location

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	slugStripper   = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	nonSlugChars   = regexp.MustCompile(`[^a-z0-9]+`)
	hyphenCollapse = regexp.MustCompile(`-{2,}`)
)

// Slugify derives a stable, URL-safe identifier from a Vietnamese place
// name. Diacritics are stripped, đ maps to d, and runs of other
// characters collapse to single hyphens.
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, "đ", "d")

	stripped, _, err := transform.String(slugStripper, s)
	if err == nil {
		s = stripped
	}

	s = nonSlugChars.ReplaceAllString(s, "-")
	s = hyphenCollapse.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
