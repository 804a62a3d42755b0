// Package ratelimit provides per-tenant token bucket rate limiting.
package ratelimit

import (
	"sync"
	"time"
)

// Config configures the limiter from the rate_limits section.
type Config struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
}

// Bucket implements a token bucket refilled at requests_per_minute.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newBucket(cfg Config) *Bucket {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Bucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: float64(rpm) / 60.0,
		lastRefill: time.Now(),
	}
}

// Allow consumes a token if one is available.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// WaitTime returns how long until a request would be allowed.
func (b *Bucket) WaitTime() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= 1 {
		return 0
	}
	needed := 1 - b.tokens
	return time.Duration(needed / b.refillRate * float64(time.Second))
}

// refill adds tokens based on elapsed time; callers hold the lock.
func (b *Bucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now

	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}

// Limiter manages one bucket per tenant. It is a process-wide singleton
// shared across handlers.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*Bucket
	config  Config
	maxKeys int
}

// NewLimiter creates a tenant-keyed limiter.
func NewLimiter(cfg Config) *Limiter {
	return &Limiter{
		buckets: make(map[string]*Bucket),
		config:  cfg,
		maxKeys: 10000,
	}
}

// Allow reports whether a request for the tenant should proceed.
func (l *Limiter) Allow(tenant string) bool {
	if !l.config.Enabled {
		return true
	}
	return l.bucket(tenant).Allow()
}

// WaitTime returns the Retry-After hint for a denied tenant.
func (l *Limiter) WaitTime(tenant string) time.Duration {
	if !l.config.Enabled {
		return 0
	}
	return l.bucket(tenant).WaitTime()
}

func (l *Limiter) bucket(tenant string) *Bucket {
	l.mu.RLock()
	bucket, ok := l.buckets[tenant]
	l.mu.RUnlock()
	if ok {
		return bucket
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if bucket, ok = l.buckets[tenant]; ok {
		return bucket
	}
	if len(l.buckets) >= l.maxKeys {
		l.prune()
	}
	bucket = newBucket(l.config)
	l.buckets[tenant] = bucket
	return bucket
}

// prune drops buckets that are back at capacity (inactive tenants);
// callers hold the write lock.
func (l *Limiter) prune() {
	for key, bucket := range l.buckets {
		bucket.mu.Lock()
		bucket.refill()
		full := bucket.tokens >= bucket.maxTokens*0.9
		bucket.mu.Unlock()
		if full {
			delete(l.buckets, key)
		}
	}
}
