package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter defines the interface for rate limiting a single stream of work
type Limiter interface {
	// Allow reports whether an event may happen now, consuming a token if so
	Allow() bool
	// Wait blocks until a token is available or ctx is done
	Wait(ctx context.Context) error
	// Reset refills the limiter
	Reset()
}

// TokenBucket is a Limiter backed by x/time/rate
type TokenBucket struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	limit   rate.Limit
	burst   int
}

// NewTokenBucket allows perMinute events per minute with the given burst
func NewTokenBucket(perMinute, burst int) *TokenBucket {
	limit := PerMinute(perMinute)
	return &TokenBucket{
		limiter: rate.NewLimiter(limit, burst),
		limit:   limit,
		burst:   burst,
	}
}

// PerMinute converts an events-per-minute figure into a rate.Limit
func PerMinute(n int) rate.Limit {
	if n <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(n) / 60.0)
}

func (tb *TokenBucket) current() *rate.Limiter {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.limiter
}

// Allow checks if an event can proceed
func (tb *TokenBucket) Allow() bool {
	return tb.current().Allow()
}

// Wait blocks until a token is available
func (tb *TokenBucket) Wait(ctx context.Context) error {
	return tb.current().Wait(ctx)
}

// Reset restores the bucket to full burst capacity
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.limiter = rate.NewLimiter(tb.limit, tb.burst)
}

// Keyed manages one token bucket per key. The scraper keys navigations by
// login identity; the HTTP API keys requests by client address.
type Keyed struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	onWait   func(key string, waited time.Duration)
}

// NewKeyed creates a keyed limiter allowing perMinute events per key
func NewKeyed(perMinute, burst int) *Keyed {
	return &Keyed{
		limiters: make(map[string]*rate.Limiter),
		limit:    PerMinute(perMinute),
		burst:    burst,
	}
}

// OnWait registers a callback invoked after Wait had to block
func (k *Keyed) OnWait(fn func(key string, waited time.Duration)) {
	k.mu.Lock()
	k.onWait = fn
	k.mu.Unlock()
}

// Get returns the rate limiter for key, creating it on first use
func (k *Keyed) Get(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	limiter, exists := k.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(k.limit, k.burst)
		k.limiters[key] = limiter
	}
	return limiter
}

// Allow checks if an event is allowed for the given key
func (k *Keyed) Allow(key string) bool {
	return k.Get(key).Allow()
}

// Wait blocks until an event is allowed for key or ctx is done
func (k *Keyed) Wait(ctx context.Context, key string) error {
	start := time.Now()
	if err := k.Get(key).Wait(ctx); err != nil {
		return err
	}

	waited := time.Since(start)
	k.mu.Lock()
	fn := k.onWait
	k.mu.Unlock()
	if fn != nil && waited > time.Millisecond {
		fn(key, waited)
	}
	return nil
}

// Tokens returns the current number of available tokens for key
func (k *Keyed) Tokens(key string) float64 {
	return k.Get(key).Tokens()
}

// Forget drops the bucket for key
func (k *Keyed) Forget(key string) {
	k.mu.Lock()
	delete(k.limiters, key)
	k.mu.Unlock()
}

// Len returns the number of tracked keys
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}

// For binds the keyed limiter to one key so it satisfies Limiter
func (k *Keyed) For(key string) Limiter {
	return keyLimiter{k: k, key: key}
}

type keyLimiter struct {
	k   *Keyed
	key string
}

func (l keyLimiter) Allow() bool                    { return l.k.Allow(l.key) }
func (l keyLimiter) Wait(ctx context.Context) error { return l.k.Wait(ctx, l.key) }
func (l keyLimiter) Reset()                         { l.k.Forget(l.key) }
