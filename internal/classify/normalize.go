package classify

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// combiningTilde survives folding so that Ñ recomposes after NFC.
const combiningTilde = '\u0303'

func foldable(r rune) bool {
	return unicode.Is(unicode.Mn, r) && r != combiningTilde
}

// Normalize upper-cases s, folds accents (keeping Ñ) and collapses runs of
// whitespace into a single space.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.Predicate(foldable)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToUpper(folded)), " ")
}
