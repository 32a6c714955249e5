package parser

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s and strips combining marks so "Bürstner" and "burstner" compare equal.
func Fold(s string) string {
	// transform chains keep state, so each call builds its own
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// foldRunes folds rune by rune so that index i of the result corresponds to
// rune i of s. Fold may change the string length; this never does.
func foldRunes(s string) []rune {
	src := []rune(s)
	out := make([]rune, len(src))
	for i, r := range src {
		out[i] = foldRune(r)
	}
	return out
}

func foldRune(r rune) rune {
	if r < unicode.MaxASCII {
		return unicode.ToLower(r)
	}
	for _, d := range norm.NFD.String(string(r)) {
		if !unicode.Is(unicode.Mn, d) {
			return unicode.ToLower(d)
		}
	}
	return unicode.ToLower(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// indexWord finds needle in hay starting at from, requiring that the match is
// not glued to letters or digits on either side. It returns -1 when absent.
func indexWord(hay, needle []rune, from int) int {
	n := len(needle)
	if n == 0 {
		return -1
	}
	for i := from; i+n <= len(hay); i++ {
		if hay[i] != needle[0] {
			continue
		}
		match := true
		for k := 1; k < n; k++ {
			if hay[i+k] != needle[k] {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		if i > 0 && isWordRune(hay[i-1]) && isWordRune(needle[0]) {
			continue
		}
		if end := i + n; end < len(hay) && isWordRune(hay[end]) && isWordRune(needle[n-1]) {
			continue
		}
		return i
	}
	return -1
}

// Mentions reports whether phrase occurs in text as whole words, ignoring case and accents.
func Mentions(text, phrase string) bool {
	phrase = strings.Join(strings.Fields(phrase), " ")
	if phrase == "" {
		return false
	}
	text = strings.Join(strings.Fields(text), " ")
	return indexWord(foldRunes(text), foldRunes(phrase), 0) >= 0
}
