package limiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket is a smooth limiter backed by golang.org/x/time/rate. Unlike
// FixedWindow it refills continuously, so it never admits a double burst at a
// window boundary.
type TokenBucket struct {
	lim *rate.Limiter
}

var _ Limiter = (*TokenBucket)(nil)

// NewTokenBucket creates a limiter refilling perSecond tokens per second, holding at most burst.
func NewTokenBucket(perSecond float64, burst int) *TokenBucket {
	return &TokenBucket{lim: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// NewTokenBucketEvery spreads maxRequests over interval, allowing a burst of maxRequests.
func NewTokenBucketEvery(maxRequests int, interval time.Duration) *TokenBucket {
	if maxRequests <= 0 {
		return &TokenBucket{lim: rate.NewLimiter(0, 0)}
	}

	return &TokenBucket{lim: rate.NewLimiter(rate.Every(interval/time.Duration(maxRequests)), maxRequests)}
}

// TryAcquire takes a token if one is available.
func (b *TokenBucket) TryAcquire() bool {
	return b.lim.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (b *TokenBucket) Wait(ctx context.Context) error {
	return b.lim.Wait(ctx)
}

// Tokens returns the number of tokens currently available.
func (b *TokenBucket) Tokens() float64 {
	return b.lim.Tokens()
}
