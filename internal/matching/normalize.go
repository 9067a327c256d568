// Package matching canonicalizes payer and guardian names and scores how close two names are.
package matching

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var connectives = map[string]struct{}{
	"de":  {},
	"da":  {},
	"do":  {},
	"dos": {},
	"das": {},
	"e":   {},
	"del": {},
	"la":  {},
	"el":  {},
}

// Normalize lowercases the name, strips diacritics, collapses whitespace and drops
// standalone connective words. Token order is preserved.
func Normalize(name string) string {
	tokens := strings.Fields(Fold(name))
	kept := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, skip := connectives[token]; skip {
			continue
		}
		kept = append(kept, token)
	}
	return strings.Join(kept, " ")
}

// Fold lowercases and strips diacritics without removing any token.
func Fold(name string) string {
	lowered := strings.ToLower(name)
	// transformers keep internal state, so a fresh chain is built per call
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	stripped, _, err := transform.String(t, lowered)
	if err != nil {
		stripped = lowered
	}
	return strings.Join(strings.Fields(stripped), " ")
}
