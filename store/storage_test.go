package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragstream/types"
)

func newDoc(id string, texts ...string) types.Document {
	doc := types.Document{ID: id, Title: id}
	for i, text := range texts {
		doc.Chunks = append(doc.Chunks, types.Chunk{Index: i, Page: 1, Content: text})
	}
	return doc
}

func TestMemoryStore_SaveAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SaveDocument(ctx, newDoc("a.pdf", "one", "two")))

	doc, err := s.GetDocumentByID(ctx, "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", doc.ID)
	require.Len(t, doc.Chunks, 2)
	assert.Equal(t, "a.pdf", doc.Chunks[1].DocID)
	assert.False(t, doc.CreatedAt.IsZero())
	assert.Equal(t, 1, s.Count())
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetDocumentByID(context.Background(), "nope.pdf")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestMemoryStore_SaveRejectsEmptyID(t *testing.T) {
	s := NewMemoryStore()
	assert.Error(t, s.SaveDocument(context.Background(), types.Document{}))
	assert.Zero(t, s.Count())
}

func TestMemoryStore_ReplaceMovesToEnd(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SaveDocument(ctx, newDoc("a.pdf", "old")))
	require.NoError(t, s.SaveDocument(ctx, newDoc("b.pdf", "other")))
	require.NoError(t, s.SaveDocument(ctx, newDoc("a.pdf", "new", "newer")))

	docs, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b.pdf", docs[0].ID)
	assert.Equal(t, "a.pdf", docs[1].ID)
	assert.Len(t, docs[1].Chunks, 2)
}

func TestMemoryStore_SnapshotIsolation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	doc := newDoc("a.pdf", "one")
	require.NoError(t, s.SaveDocument(ctx, doc))

	// mutating the caller's slice after commit must not leak in
	doc.Chunks[0].Content = "changed"
	got, err := s.GetDocumentByID(ctx, "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "one", got.Chunks[0].Content)
}

func TestMemoryStore_ReadersSeeWholeDocuments(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	const chunks = 20

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			texts := make([]string, chunks)
			for n := range texts {
				texts[n] = fmt.Sprintf("doc %d chunk %d", i, n)
			}
			assert.NoError(t, s.SaveDocument(ctx, newDoc(fmt.Sprintf("%d.pdf", i), texts...)))
		}
	}()

	for i := 0; i < 200; i++ {
		docs, err := s.ListDocuments(ctx)
		require.NoError(t, err)
		for _, d := range docs {
			assert.Len(t, d.Chunks, chunks)
		}
	}
	wg.Wait()
	assert.Equal(t, 50, s.Count())
}
