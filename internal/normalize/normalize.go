// Package normalize provides deterministic text normalization for vehicle
// descriptions and catalog fields.
//
// Normalization is idempotent and locale-independent: the same input always
// produces the same output, and normalizing twice is a no-op. Catalog fields
// and incoming descriptions go through the same function so matching compares
// like with like.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// vinPattern matches a 17-character VIN token. VINs never contain I, O or Q.
// Applied after lowercasing, so the class is lowercase.
var vinPattern = regexp.MustCompile(`\b[a-hj-npr-z0-9]{17}\b`)

var whitespacePattern = regexp.MustCompile(`\s+`)

// foldTransformer strips combining marks after NFD decomposition, turning
// "camión" into "camion".
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Text normalizes a free-text vehicle description or catalog field:
// lowercase, diacritics folded to ASCII, VIN tokens stripped, whitespace
// collapsed, consecutive duplicate words collapsed. Never fails; malformed
// input degrades to best-effort cleanup.
func Text(s string) string {
	s = strings.ToLower(s)
	s = foldDiacritics(s)
	s = vinPattern.ReplaceAllString(s, " ")
	s = whitespacePattern.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	s = collapseDuplicateWords(s)
	return s
}

func foldDiacritics(s string) string {
	out, _, err := transform.String(foldTransformer, s)
	if err != nil {
		return s
	}
	return out
}

// collapseDuplicateWords removes immediate repetitions: "tanque tanque" → "tanque".
func collapseDuplicateWords(s string) string {
	if s == "" {
		return s
	}
	words := strings.Split(s, " ")
	out := words[:1]
	for _, w := range words[1:] {
		if w == out[len(out)-1] {
			continue
		}
		out = append(out, w)
	}
	return strings.Join(out, " ")
}
