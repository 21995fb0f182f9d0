// Package normalize canonicalizes street names for comparison and derives
// the alternative search terms used when a raw query finds too little.
package normalize

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MinTermLength is the shortest term worth sending upstream.
const MinTermLength = 2

// stripAccents builds a fresh transformer per call; transform.Chain keeps
// internal state and is not safe for concurrent use.
func stripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Normalize lowercases s, strips diacritics, replaces punctuation and
// symbols with spaces and collapses whitespace.
// "Av. Córdoba" → "av cordoba".
func Normalize(s string) string {
	s = stripAccents(strings.ToLower(s))
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// Tokens splits the normalized form of s on whitespace.
func Tokens(s string) []string {
	return strings.Fields(Normalize(s))
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

// PrincipalName drops leading code tokens (anything containing a digit)
// from the normalized name: "336 GUTIERREZ" → "gutierrez".
// A name made only of codes is returned normalized as is.
func PrincipalName(name string) string {
	toks := Tokens(name)
	i := 0
	for i < len(toks) && hasDigit(toks[i]) {
		i++
	}
	if i == len(toks) {
		return strings.Join(toks, " ")
	}
	return strings.Join(toks[i:], " ")
}

func stripDigits(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// Variants returns the alternative search terms for term, in order:
// the normalized term, its last token, its first token when longer than
// two characters, and the term without digits. Duplicates and entries
// shorter than MinTermLength are dropped.
func Variants(term string) []string {
	n := Normalize(term)
	if n == "" {
		return nil
	}
	toks := strings.Fields(n)

	candidates := []string{n, toks[len(toks)-1]}
	if utf8.RuneCountInString(toks[0]) > 2 {
		candidates = append(candidates, toks[0])
	}
	candidates = append(candidates, stripDigits(n))

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if utf8.RuneCountInString(c) < MinTermLength {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
