package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"marketfetcher/internal/candle"
	"marketfetcher/internal/fetcher"
)

// Limit describes the request budget for one provider.
type Limit struct {
	// RequestsPerSecond is the sustained rate. Zero or negative means unlimited.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	// Burst is the number of requests allowed at once.
	Burst int `mapstructure:"burst"`
}

// Limiter manages rate limits for different providers. Construct one per
// process and share it; providers without a configured limit are not limited.
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
}

// New creates a limiter from per-provider limits
func New(limits map[string]Limit) *Limiter {
	l := &Limiter{
		limiters: make(map[string]*rate.Limiter, len(limits)),
	}
	for name, lim := range limits {
		l.Set(name, lim)
	}
	return l
}

// Set installs or replaces the limit for a provider
func (l *Limiter) Set(name string, lim Limit) {
	burst := lim.Burst
	if burst < 1 {
		burst = 1
	}

	r := rate.Inf
	if lim.RequestsPerSecond > 0 {
		r = rate.Limit(lim.RequestsPerSecond)
	}

	l.mu.Lock()
	l.limiters[name] = rate.NewLimiter(r, burst)
	l.mu.Unlock()
}

// Wait blocks until the rate limiter permits an event for the given provider
// It returns an error if the context is canceled before the event can proceed
func (l *Limiter) Wait(ctx context.Context, name string) error {
	l.mu.RLock()
	limiter, exists := l.limiters[name]
	l.mu.RUnlock()

	if !exists {
		// If no limiter exists for this provider, allow the request without limiting
		return nil
	}

	return limiter.Wait(ctx)
}

// Wrap returns a fetcher that waits for the provider's budget before each call.
func (l *Limiter) Wrap(f fetcher.Fetcher) fetcher.Fetcher {
	return &limitedFetcher{inner: f, limiter: l}
}

type limitedFetcher struct {
	inner   fetcher.Fetcher
	limiter *Limiter
}

func (lf *limitedFetcher) Name() string {
	return lf.inner.Name()
}

func (lf *limitedFetcher) Fetch(ctx context.Context, req fetcher.Request) ([]candle.Candle, error) {
	if err := lf.limiter.Wait(ctx, lf.inner.Name()); err != nil {
		return nil, fetcher.NewTimeoutError(err)
	}
	return lf.inner.Fetch(ctx, req)
}
