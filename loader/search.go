package loader

import (
	"slices"
	"strings"
	"unicode"

	"ragstream/types"
)

// snippetRadius is counted in characters on either side of the match.
const snippetRadius = 80

// FindQueryPositions returns, for every page containing query
// (case-insensitive), a snippet around the first occurrence. Snippets keep
// the page's own casing.
func FindQueryPositions(pages []Page, query string) []types.PageHit {
	hits := []types.PageHit{}
	q := foldRunes(strings.TrimSpace(query))
	if len(q) == 0 {
		return hits
	}

	for _, p := range pages {
		text := []rune(p.Text)
		// folding rune by rune keeps offsets aligned with text
		i := indexRunes(foldRunes(p.Text), q)
		if i < 0 {
			continue
		}
		start := max(0, i-snippetRadius)
		end := min(len(text), i+len(q)+snippetRadius)
		snippet := strings.ReplaceAll(string(text[start:end]), "\n", " ")
		hits = append(hits, types.PageHit{Page: p.Number, Snippet: snippet})
	}
	return hits
}

func foldRunes(s string) []rune {
	r := []rune(s)
	for i, c := range r {
		r[i] = unicode.ToLower(c)
	}
	return r
}

func indexRunes(s, sub []rune) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if slices.Equal(s[i:i+len(sub)], sub) {
			return i
		}
	}
	return -1
}
