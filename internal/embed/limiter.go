package embed

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a requests-per-minute ceiling across all embedding
// callers. The ceiling is updatable live from configuration changes
// (last-write-wins); callers block on Wait, not on the network.
type RateLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	rpm     int
}

// NewRateLimiter creates a limiter with the given requests-per-minute
// ceiling. rpm <= 0 uses DefaultRequestsPerMinute.
func NewRateLimiter(rpm int) *RateLimiter {
	if rpm <= 0 {
		rpm = DefaultRequestsPerMinute
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burstFor(rpm)),
		rpm:     rpm,
	}
}

// burstFor allows short bursts proportional to the per-second rate.
func burstFor(rpm int) int {
	burst := rpm / 60
	if burst < 1 {
		burst = 1
	}
	return burst
}

// Wait blocks until a request slot is available or ctx is cancelled.
func (l *RateLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	lim := l.limiter
	l.mu.Unlock()
	return lim.Wait(ctx)
}

// SetRequestsPerMinute updates the ceiling. Concurrent waiters observe the
// new rate on their next acquisition.
func (l *RateLimiter) SetRequestsPerMinute(rpm int) {
	if rpm <= 0 {
		rpm = DefaultRequestsPerMinute
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rpm = rpm
	l.limiter.SetLimit(rate.Limit(float64(rpm) / 60.0))
	l.limiter.SetBurst(burstFor(rpm))
}

// RequestsPerMinute returns the current ceiling.
func (l *RateLimiter) RequestsPerMinute() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rpm
}

// LimitedProvider funnels every embedding call of an inner provider
// through a shared RateLimiter. One EmbedDocuments call counts as one
// request regardless of batch size, matching provider billing.
type LimitedProvider struct {
	inner   Provider
	limiter *RateLimiter
}

// NewLimited wraps a provider with the shared rate limiter.
func NewLimited(inner Provider, limiter *RateLimiter) *LimitedProvider {
	return &LimitedProvider{inner: inner, limiter: limiter}
}

// EmbedDocuments waits for a request slot, then delegates.
func (p *LimitedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.inner.EmbedDocuments(ctx, texts)
}

// EmbedQuery waits for a request slot, then delegates.
func (p *LimitedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.inner.EmbedQuery(ctx, text)
}

// Dimensions returns the embedding dimension (passthrough).
func (p *LimitedProvider) Dimensions() int { return p.inner.Dimensions() }

// ModelName returns the model identifier (passthrough).
func (p *LimitedProvider) ModelName() string { return p.inner.ModelName() }

// Close closes the inner provider.
func (p *LimitedProvider) Close() error { return p.inner.Close() }

// Verify interface implementation
var _ Provider = (*LimitedProvider)(nil)
