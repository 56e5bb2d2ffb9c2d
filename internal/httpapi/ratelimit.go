package httpapi

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// RateLimitInfo configures a token-bucket limiter: MaxRequests per
// WindowSeconds with a Burst-sized bucket.
type RateLimitInfo struct {
	WindowSeconds int
	MaxRequests   int
	Burst         int
}

// tokenBucket is a single client's bucket.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(capacity int, refillRate float64) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// allow consumes a token if available and reports when the next one
// arrives otherwise.
func (tb *tokenBucket) allow() (bool, time.Time) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.tokens += now.Sub(tb.lastRefill).Seconds() * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true, now
	}
	wait := (1.0 - tb.tokens) / tb.refillRate
	return false, now.Add(time.Duration(wait * float64(time.Second)))
}

// rateLimiter keeps per-client buckets, pruning idle ones.
type rateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*tokenBucket
	config  RateLimitInfo
}

func newRateLimiter(config RateLimitInfo) *rateLimiter {
	rl := &rateLimiter{
		buckets: make(map[string]*tokenBucket),
		config:  config,
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *rateLimiter) bucket(key string) *tokenBucket {
	rl.mu.RLock()
	b, ok := rl.buckets[key]
	rl.mu.RUnlock()
	if ok {
		return b
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok := rl.buckets[key]; ok {
		return b
	}
	refillRate := float64(rl.config.MaxRequests) / float64(rl.config.WindowSeconds)
	b = newTokenBucket(rl.config.Burst, refillRate)
	rl.buckets[key] = b
	return b
}

func (rl *rateLimiter) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-30 * time.Minute)
		rl.mu.Lock()
		for key, b := range rl.buckets {
			b.mu.Lock()
			idle := b.lastRefill.Before(cutoff)
			b.mu.Unlock()
			if idle {
				delete(rl.buckets, key)
			}
		}
		rl.mu.Unlock()
	}
}

// AuthRateLimitMiddleware bounds credential-bearing endpoints per
// client IP, answering 429 with Retry-After when the bucket is dry.
func AuthRateLimitMiddleware(config RateLimitInfo) func(http.Handler) http.Handler {
	rl := newRateLimiter(config)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r)
			ok, nextToken := rl.bucket(key).allow()
			if !ok {
				retryAfter := int(time.Until(nextToken).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				log.Warn().Str("client", key).Str("path", r.URL.Path).Msg("rate limit exceeded")
				writeError(w, r, http.StatusTooManyRequests, "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
