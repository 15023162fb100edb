package model

import (
	"bufio"
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

const DefaultOpenAIURL = "https://api.groq.com/openai/v1"

// OpenAIChat talks to any OpenAI compatible /chat/completions endpoint with
// stream enabled (OpenAI, Groq, vLLM, ...).
type OpenAIChat struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewOpenAIChat(baseURL, model, apiKey string, client *http.Client) *OpenAIChat {
	if baseURL == "" {
		baseURL = DefaultOpenAIURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenAIChat{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		apiKey:  apiKey,
		client:  client,
	}
}

func (o *OpenAIChat) fail(status int, err error) *ProviderError {
	return &ProviderError{Provider: "openai", Status: status, Err: err}
}

func (o *OpenAIChat) Generate(ctx context.Context, p Prompt) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if o.apiKey == "" {
			yield("", o.fail(0, errors.New("api key is not configured")))
			return
		}

		body, err := json.Marshal(chatRequest{
			Model: o.model,
			Messages: []chatMessage{
				{Role: "system", Content: p.System},
				{Role: "user", Content: p.User},
			},
			Temperature: p.Temperature,
			MaxTokens:   p.MaxTokens,
			Stream:      true,
		})
		if err != nil {
			yield("", o.fail(0, fmt.Errorf("marshal request: %w", err)))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			yield("", o.fail(0, fmt.Errorf("create request: %w", err)))
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Authorization", "Bearer "+o.apiKey)

		resp, err := o.client.Do(req)
		if err != nil {
			yield("", o.fail(0, fmt.Errorf("send request: %w", err)))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			yield("", o.fail(resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(msg)))))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				return
			}

			var chunk chatStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				yield("", o.fail(0, fmt.Errorf("malformed stream chunk: %w", err)))
				return
			}
			if chunk.Error != nil {
				yield("", o.fail(0, errors.New(chunk.Error.Message)))
				return
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !yield(chunk.Choices[0].Delta.Content, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", o.fail(0, fmt.Errorf("read stream: %w", err)))
			return
		}
		yield("", o.fail(0, io.ErrUnexpectedEOF))
	}
}
