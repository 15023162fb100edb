package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"ragstream/types"
)

var ErrDocumentNotFound = errors.New("document not found")

type DocumentStorer interface {
	SaveDocument(context.Context, types.Document) error
	GetDocumentByID(context.Context, string) (*types.Document, error)
	ListDocuments(context.Context) ([]types.Document, error)
	Count() int
}

// MemoryStore keeps documents in ingestion order. A document becomes visible
// to readers in one step, with all of its chunks.
type MemoryStore struct {
	mu   sync.RWMutex
	docs []types.Document
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// SaveDocument commits doc, replacing any document with the same ID and
// moving it to the end of the ingestion order.
func (s *MemoryStore) SaveDocument(_ context.Context, doc types.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("save document: empty id")
	}
	doc.Chunks = slices.Clone(doc.Chunks)
	for i := range doc.Chunks {
		doc.Chunks[i].DocID = doc.ID
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = slices.DeleteFunc(s.docs, func(d types.Document) bool { return d.ID == doc.ID })
	s.docs = append(s.docs, doc)
	return nil
}

func (s *MemoryStore) GetDocumentByID(_ context.Context, id string) (*types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.docs {
		if s.docs[i].ID == id {
			doc := s.docs[i]
			return &doc, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
}

// ListDocuments returns a snapshot in ingestion order. Documents are never
// mutated after commit, so the returned values can be shared.
func (s *MemoryStore) ListDocuments(_ context.Context) ([]types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.docs), nil
}

func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
