package model

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"time"
)

// Prompt is everything a provider needs for one completion.
type Prompt struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Generator streams a completion as text fragments in generation order.
// Nothing is sent to the provider until the sequence is ranged over. A
// failure is yielded once as ("", err) and ends the sequence.
type Generator interface {
	Generate(ctx context.Context, p Prompt) iter.Seq2[string, error]
}

// ProviderError is returned for every failure talking to the model provider.
type ProviderError struct {
	Provider string
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

type Config struct {
	Provider string
	URL      string
	Model    string
	APIKey   string
	Timeout  time.Duration

	// RateLimit caps requests per second to the provider; 0 means unlimited.
	RateLimit float64
	RateBurst int
}

// New builds the generator selected by cfg.Provider.
func New(cfg Config) (Generator, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	client := &http.Client{Timeout: timeout}

	var g Generator
	switch cfg.Provider {
	case "", "openai", "groq":
		g = NewOpenAIChat(cfg.URL, cfg.Model, cfg.APIKey, client)
	case "ollama":
		g = NewOllama(cfg.URL, cfg.Model, client)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if cfg.RateLimit > 0 {
		g = NewRateLimited(g, cfg.RateLimit, cfg.RateBurst)
	}
	return g, nil
}
