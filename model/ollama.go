package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
)

const DefaultOllamaURL = "http://localhost:11434/api/generate"

// Ollama streams completions from a local Ollama /api/generate endpoint.
type Ollama struct {
	apiURL string
	model  string
	client *http.Client
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type OllamaGenerateRequest struct {
	Model   string        `json:"model"`
	System  string        `json:"system"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type OllamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func NewOllama(apiURL, model string, client *http.Client) *Ollama {
	if apiURL == "" {
		apiURL = DefaultOllamaURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Ollama{
		apiURL: apiURL,
		model:  model,
		client: client,
	}
}

func (o *Ollama) fail(status int, err error) *ProviderError {
	return &ProviderError{Provider: "ollama", Status: status, Err: err}
}

func (o *Ollama) Generate(ctx context.Context, p Prompt) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		body, err := json.Marshal(OllamaGenerateRequest{
			Model:  o.model,
			System: p.System,
			Prompt: p.User,
			Stream: true,
			Options: ollamaOptions{
				Temperature: p.Temperature,
				NumPredict:  p.MaxTokens,
			},
		})
		if err != nil {
			yield("", o.fail(0, fmt.Errorf("failed to marshal request: %w", err)))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiURL, bytes.NewReader(body))
		if err != nil {
			yield("", o.fail(0, fmt.Errorf("failed to create request: %w", err)))
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := o.client.Do(req)
		if err != nil {
			yield("", o.fail(0, fmt.Errorf("failed to make request: %w", err)))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			yield("", o.fail(resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(msg)))))
			return
		}

		// Ollama answers with one JSON object per line until done is set.
		decoder := json.NewDecoder(resp.Body)
		for {
			var chunk OllamaGenerateResponse
			if err := decoder.Decode(&chunk); err != nil {
				if errors.Is(err, io.EOF) {
					err = io.ErrUnexpectedEOF
				}
				yield("", o.fail(0, fmt.Errorf("decode response: %w", err)))
				return
			}
			if chunk.Error != "" {
				yield("", o.fail(0, errors.New(chunk.Error)))
				return
			}
			if chunk.Response != "" && !yield(chunk.Response, nil) {
				return
			}
			if chunk.Done {
				return
			}
		}
	}
}
