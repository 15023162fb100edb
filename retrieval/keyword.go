// Package retrieval ranks stored chunks against a query. Callers depend on
// Searcher only, so the keyword scorer can be replaced by an index or an
// embedding search without touching them.
package retrieval

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"ragstream/store"
	"ragstream/types"
)

type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]types.SearchResult, error)
}

// KeywordSearcher scores every chunk of every document by token overlap.
type KeywordSearcher struct {
	store store.DocumentStorer
}

func NewKeywordSearcher(s store.DocumentStorer) *KeywordSearcher {
	return &KeywordSearcher{store: s}
}

// Search returns at most topK chunks sharing at least one token with query,
// best first. Equal scores keep ingestion order, then chunk position.
func (k *KeywordSearcher) Search(ctx context.Context, query string, topK int) ([]types.SearchResult, error) {
	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 || topK <= 0 {
		return []types.SearchResult{}, nil
	}

	docs, err := k.store.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	var scored []types.SearchResult
	for _, doc := range docs {
		for _, chunk := range doc.Chunks {
			terms := chunk.Terms
			if terms == nil {
				terms = TermSet(chunk.Content)
			}
			if s := score(queryTokens, terms); s > 0 {
				scored = append(scored, types.SearchResult{Chunk: chunk, Title: doc.Title, Score: float64(s)})
			}
		}
	}

	// docs and chunks are scanned in order, so a stable sort on score alone
	// keeps the tie-break.
	slices.SortStableFunc(scored, func(a, b types.SearchResult) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	if scored == nil {
		scored = []types.SearchResult{}
	}
	return scored, nil
}

// Recent returns up to n chunks of the most recently ingested document,
// ordered by page and then by length.
func (k *KeywordSearcher) Recent(ctx context.Context, n int) ([]types.SearchResult, error) {
	docs, err := k.store.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	if len(docs) == 0 || n <= 0 {
		return []types.SearchResult{}, nil
	}

	doc := docs[len(docs)-1]
	chunks := slices.Clone(doc.Chunks)
	slices.SortStableFunc(chunks, func(a, b types.Chunk) int {
		if c := cmp.Compare(a.Page, b.Page); c != 0 {
			return c
		}
		return cmp.Compare(len(a.Content), len(b.Content))
	})
	if len(chunks) > n {
		chunks = chunks[:n]
	}

	out := make([]types.SearchResult, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, types.SearchResult{Chunk: c, Title: doc.Title})
	}
	return out, nil
}

func score(queryTokens []string, terms map[string]struct{}) int {
	s := 0
	for _, t := range queryTokens {
		if _, ok := terms[t]; ok {
			s++
		}
	}
	return s
}
