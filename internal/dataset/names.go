package dataset

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// nameFold decomposes compatibility characters and strips combining marks, so
// "CO₂" folds to "CO2" and accented letters lose their accents before the
// ASCII pass below.
var nameFold = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// StandardizeName converts a raw column header to its canonical snake_case
// form: compatibility-fold (subscript digits become plain digits, accents are
// stripped), lowercase, whitespace/hyphens/underscores collapse to single
// underscores, everything else (parentheses included) is dropped, and edge
// underscores are trimmed.
//
// The function is idempotent: its output maps to itself.
func StandardizeName(name string) string {
	folded, _, err := transform.String(nameFold, name)
	if err != nil {
		folded = name
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	pendingSep := false
	for _, r := range folded {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		case r == ' ' || r == '\t' || r == '-' || r == '_':
			pendingSep = true
		default:
			// dropped: parentheses, punctuation, symbols
		}
	}
	return b.String()
}
