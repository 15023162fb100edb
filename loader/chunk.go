package loader

import (
	"strings"

	"ragstream/retrieval"
	"ragstream/types"
)

const (
	defaultChunkSize    = 200
	defaultChunkOverlap = 35
)

// splitWords cuts text into windows of size words, each starting
// size-overlap words after the previous one.
func splitWords(text string, size, overlap int) []string {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	words := strings.Fields(text)
	var out []string
	for i := 0; i < len(words); i += size - overlap {
		end := min(i+size, len(words))
		out = append(out, strings.Join(words[i:end], " "))
		if end == len(words) {
			break
		}
	}
	return out
}

func buildChunks(docID string, pages []Page, size, overlap int) []types.Chunk {
	var chunks []types.Chunk
	for _, p := range pages {
		for _, content := range splitWords(p.Text, size, overlap) {
			chunks = append(chunks, types.Chunk{
				DocID:   docID,
				Index:   len(chunks),
				Page:    p.Number,
				Content: content,
				Terms:   retrieval.TermSet(content),
			})
		}
	}
	return chunks
}
