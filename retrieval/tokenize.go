package retrieval

import (
	"regexp"
	"strings"
)

var wordRe = regexp.MustCompile(`[a-zA-Z0-9][a-zA-Z0-9_\-]+`)

// Tokenize lower-cases text and splits it into words of at least two
// characters, dropping punctuation.
func Tokenize(text string) []string {
	words := wordRe.FindAllString(text, -1)
	for i, w := range words {
		words[i] = strings.ToLower(w)
	}
	return words
}

// TermSet returns the distinct tokens of text.
func TermSet(text string) map[string]struct{} {
	words := Tokenize(text)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
