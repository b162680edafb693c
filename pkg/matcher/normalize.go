package matcher

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// articles are ignored when comparing title tokens.
var articles = map[string]bool{"a": true, "an": true, "the": true}

// NormalizeTitle case-folds a title, strips accents, drops any subtitle after
// the first colon, removes punctuation and collapses whitespace.
func NormalizeTitle(title string) string {
	if i := strings.IndexAny(title, ":："); i >= 0 {
		title = title[:i]
	}
	return normalize(title)
}

// NormalizeAuthor is NormalizeTitle without the subtitle rule.
func NormalizeAuthor(author string) string {
	return normalize(author)
}

func normalize(s string) string {
	// Casers and transformer chains are stateful; build them per call.
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	folded := cases.Fold().String(stripped)

	var sb strings.Builder
	for _, r := range folded {
		switch {
		case r == '\'' || r == '’':
			// Keep contractions together: "don't" -> "dont".
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
		default:
			sb.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

// tokenSet splits a normalized string into its distinct tokens, leaving out
// articles unless they're all there is.
func tokenSet(normalized string) map[string]bool {
	fields := strings.Fields(normalized)
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		if !articles[f] {
			set[f] = true
		}
	}
	if len(set) == 0 {
		for _, f := range fields {
			set[f] = true
		}
	}
	return set
}

// jaccard is |a ∩ b| / |a ∪ b|, or 0 when both are empty.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
