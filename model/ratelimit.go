package model

import (
	"context"
	"iter"

	"golang.org/x/time/rate"
)

// RateLimited holds back completions so the provider sees at most
// perSecond requests per second, with bursts of up to burst.
type RateLimited struct {
	next    Generator
	limiter *rate.Limiter
}

func NewRateLimited(next Generator, perSecond float64, burst int) *RateLimited {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (r *RateLimited) Generate(ctx context.Context, p Prompt) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := r.limiter.Wait(ctx); err != nil {
			yield("", &ProviderError{Provider: "rate limit", Err: err})
			return
		}
		for fragment, err := range r.next.Generate(ctx, p) {
			if !yield(fragment, err) {
				return
			}
		}
	}
}
