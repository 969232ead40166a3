package api

import (
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	RPS   int // sustained requests per second per client
	Burst int // bucket capacity
}

// limiter is a token-bucket limiter keyed per client credential.
type limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64
	burst   float64
	now     func() time.Time
}

type bucket struct {
	remaining float64
	updatedAt time.Time
}

func newLimiter(cfg RateLimitConfig) *limiter {
	return &limiter{
		buckets: make(map[string]*bucket),
		rate:    float64(cfg.RPS),
		burst:   float64(cfg.Burst),
		now:     time.Now,
	}
}

func (l *limiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{remaining: l.burst, updatedAt: now}
		l.buckets[key] = b
	}

	b.remaining += now.Sub(b.updatedAt).Seconds() * l.rate
	if b.remaining > l.burst {
		b.remaining = l.burst
	}
	b.updatedAt = now

	if b.remaining < 1 {
		return false
	}
	b.remaining--
	return true
}

// sweep drops buckets idle long enough to have fully refilled.
func (l *limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-10 * time.Minute)
	for key, b := range l.buckets {
		if b.updatedAt.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// clientKey prefers the bearer credential, so every API key gets its own
// budget regardless of how many hosts share it. Unauthenticated traffic
// falls back to per-IP buckets.
func clientKey(c *fiber.Ctx) string {
	if auth := c.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return "key:" + strings.TrimPrefix(auth, "Bearer ")
	}
	return "ip:" + c.IP()
}

// NewRateLimitMiddleware returns a per-client token-bucket rate limiter.
// Probe endpoints are never limited.
func NewRateLimitMiddleware(cfg RateLimitConfig) fiber.Handler {
	l := newLimiter(cfg)

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			l.sweep()
		}
	}()

	return func(c *fiber.Ctx) error {
		if probePath(c.Path()) {
			return c.Next()
		}
		if !l.allow(clientKey(c)) {
			c.Set("Retry-After", "1")
			return problemResponse(c, fiber.StatusTooManyRequests,
				"rate_limited", "Too Many Requests",
				"Request rate limit exceeded")
		}
		return c.Next()
	}
}
