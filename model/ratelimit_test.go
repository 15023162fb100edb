package model

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingGenerator struct {
	calls int
}

func (g *countingGenerator) Generate(context.Context, Prompt) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		g.calls++
		if !yield("a", nil) {
			return
		}
		yield("b", nil)
	}
}

func TestRateLimited_PassesFragmentsThrough(t *testing.T) {
	next := &countingGenerator{}
	g := NewRateLimited(next, 100, 2)

	out, err := collect(t, g, Prompt{User: "q"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, out)
	assert.Equal(t, 1, next.calls)
}

func TestRateLimited_CancelledWhileWaiting(t *testing.T) {
	next := &countingGenerator{}
	// one request per hour: the second call cannot get a token before its deadline
	g := NewRateLimited(next, 1.0/3600, 1)
	_, err := collect(t, g, Prompt{User: "first"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	var got error
	for _, err := range g.Generate(ctx, Prompt{User: "second"}) {
		got = err
	}
	require.Error(t, got)
	var perr *ProviderError
	assert.True(t, errors.As(got, &perr))
	assert.Equal(t, 1, next.calls, "the provider is not called without a token")
}

func TestNew_WrapsWithRateLimit(t *testing.T) {
	g, err := New(Config{Provider: "ollama", Model: "m", RateLimit: 2, RateBurst: 1})
	require.NoError(t, err)
	assert.IsType(t, &RateLimited{}, g)

	g, err = New(Config{Provider: "ollama", Model: "m"})
	require.NoError(t, err)
	assert.IsType(t, &Ollama{}, g)
}
