package types

import (
	"time"
)

type Chunk struct {
	DocID   string // back-reference to the owning Document
	Index   int    // position within the document
	Page    int
	Content string
	Terms   map[string]struct{}
}

type Document struct {
	ID         string    // Safe stored filename, also exposed as pdf_id
	Title      string    // Human readable title derived from the filename
	Filename   string    // Original filename as uploaded
	SourcePath string    // Where the file lives on disk
	Pages      int       // Number of pages found by the parser
	Chunks     []Chunk   // Ordered by Index
	CreatedAt  time.Time // Time the document was committed
}

// SearchResult is one ranked chunk returned by a retrieval engine.
type SearchResult struct {
	Chunk Chunk
	Title string
	Score float64
}

// Citation is the answer-local view of a retrieved chunk.
type Citation struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	PDFID string `json:"pdf_id"`
	Page  int    `json:"page"`
}

type PageHit struct {
	Page    int    `json:"page"`
	Snippet string `json:"snippet"`
}
