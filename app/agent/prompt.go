package agent

import (
	"fmt"
	"strings"
	"sync"

	"ragstream/model"
	"ragstream/types"

	"github.com/pkoukk/tiktoken-go"
)

const systemPrompt = `You are a helpful assistant. Use the provided PDF context snippets to answer.
If the answer is not present in the context, say you couldn't find it in the uploaded PDFs.
Cite sources with numbered citations like [1], [2] inline.
Do not reveal chain-of-thought. Do not output <think> or <thinking> blocks.`

const maxSnippetRunes = 900

// TokenCounter reports how many model tokens s takes.
type TokenCounter func(s string) (int, error)

// NewTiktokenCounter counts with the gpt-3.5-turbo encoding. The encoding is
// loaded on first use.
func NewTiktokenCounter() TokenCounter {
	var (
		once sync.Once
		enc  *tiktoken.Tiktoken
		err  error
	)
	return func(s string) (int, error) {
		once.Do(func() {
			enc, err = tiktoken.EncodingForModel("gpt-3.5-turbo")
		})
		if err != nil {
			return 0, err
		}
		return len(enc.Encode(s, nil, nil)), nil
	}
}

// compose builds the model prompt and returns the results that made it into
// the context. Results are dropped from the tail until the prompt fits the
// token budget.
func (a *Agent) compose(question string, results []types.SearchResult) (model.Prompt, []types.SearchResult) {
	selected := results
	for {
		p := model.Prompt{
			System:      systemPrompt,
			User:        userPrompt(question, selected),
			Temperature: a.cfg.Temperature,
			MaxTokens:   a.cfg.MaxTokens,
		}
		if a.cfg.MaxContextTokens <= 0 || len(selected) == 0 {
			return p, selected
		}
		n := a.countTokens(p.System + p.User)
		if n <= a.cfg.MaxContextTokens {
			return p, selected
		}
		a.logger.Debug("prompt over budget, dropping context", "tokens", n, "budget", a.cfg.MaxContextTokens, "chunks", len(selected))
		selected = selected[:len(selected)-1]
	}
}

func (a *Agent) countTokens(s string) int {
	if a.tokens != nil {
		n, err := a.tokens(s)
		if err == nil {
			return n
		}
		a.logger.Warn("token counting failed, estimating", "error", err)
	}
	// roughly four characters per token for English text
	return len(s) / 4
}

func userPrompt(question string, results []types.SearchResult) string {
	parts := make([]string, 0, len(results))
	for i, r := range results {
		parts = append(parts, fmt.Sprintf("[%d] (PDF: %s, page %d) %s", i+1, r.Chunk.DocID, r.Chunk.Page, truncate(r.Chunk.Content, maxSnippetRunes)))
	}
	context := "No relevant documents found."
	if len(parts) > 0 {
		context = strings.Join(parts, "\n\n")
	}
	return fmt.Sprintf("Context from documents:\n%s\n\nQuestion: %s\n\nAnswer using the context above.", context, question)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
