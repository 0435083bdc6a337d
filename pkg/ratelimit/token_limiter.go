package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// TokenLimiter throttles consumption of a per-minute token budget,
// such as an LLM provider's tokens-per-minute quota.
type TokenLimiter struct {
	limiter      *rate.Limiter
	maxPerMinute int
}

// NewTokenLimiter creates a limiter that refills maxPerMinute tokens
// over the course of each minute, with a burst of the full budget.
func NewTokenLimiter(maxPerMinute int) *TokenLimiter {
	perSecond := rate.Limit(float64(maxPerMinute) / 60.0)
	return &TokenLimiter{
		limiter:      rate.NewLimiter(perSecond, maxPerMinute),
		maxPerMinute: maxPerMinute,
	}
}

// Wait blocks until n tokens are available or the context is done.
// Requests larger than the whole budget are clamped to the burst so
// they wait for a full window instead of erroring.
func (t *TokenLimiter) Wait(ctx context.Context, n int) error {
	if n > t.maxPerMinute {
		n = t.maxPerMinute
	}
	return t.limiter.WaitN(ctx, n)
}

// GetRemaining reports the tokens currently available.
func (t *TokenLimiter) GetRemaining() int {
	return int(t.limiter.Tokens())
}
