package parse

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldDiacritics removes combining marks so that "Müller" and "Muller"
// compare equal. A fresh transformer chain is built per call; the norm
// transformers carry state and must not be shared across goroutines.
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return folded
}

// foldLine normalizes a line for label matching: diacritics folded,
// lowercased, whitespace collapsed to single spaces.
func foldLine(s string) string {
	s = strings.ToLower(foldDiacritics(s))
	return strings.Join(strings.Fields(s), " ")
}

// foldUpper normalizes text for plate scanning: diacritics folded and
// uppercased, line structure preserved.
func foldUpper(s string) string {
	return strings.ToUpper(foldDiacritics(s))
}
