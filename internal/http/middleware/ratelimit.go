// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the message-flood limiter: an in-memory token-bucket
// rate limiter keyed per sender and room, with opportunistic garbage
// collection of idle buckets. One chatty sender flooding one room must not
// consume the budget of their other rooms, and never anyone else's.
//
// Notes:
//   - Process-local, matching the hub's per-process presence scope. A
//     horizontally scaled deployment needs a shared limiter to enforce
//     global limits.
//   - Idempotent replays bypass the limiter entirely (paired with
//     IdempotencyValidator): a retry of an already-completed send costs
//     no tokens.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// keyFunc selects the identity used to key a rate-limit bucket.
//
// Implementations must return a stable string for the duration of a request.
// Keys are namespaced ("user:", "ip:") so identity classes cannot collide.
type keyFunc func(*gin.Context) string

// KeyBySenderRoom returns a keyFunc that scopes buckets to (sender, room):
// the authenticated identity from the Gin context plus the :room path
// parameter when the route carries one. Requests outside a room (health,
// websocket upgrade) fall back to the bare sender key, and unauthenticated
// requests to the client IP.
func KeyBySenderRoom() keyFunc {
	return func(c *gin.Context) string {
		key := ""
		if v, ok := c.Get("userID"); ok {
			if s, ok := v.(string); ok && s != "" {
				key = "user:" + s
			}
		}
		if key == "" {
			key = "ip:" + c.ClientIP()
		}
		if room := c.Param("room"); room != "" {
			key += "|room:" + room
		}
		return key
	}
}

// bucket holds one sender's limiter and the last time it was seen, so idle
// entries can be evicted.
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter implements the per-key token-bucket limiter.
//
// Buckets are created on demand in a mutex-guarded map. Idle buckets are
// evicted after a TTL via opportunistic cleanup during lookups, which bounds
// memory even when room identifiers churn.
//
// Safe for concurrent use.
type RateLimiter struct {
	rps     rate.Limit
	burst   int
	keyFn   keyFunc
	mu      sync.Mutex
	buckets map[string]*bucket

	ttl      time.Duration
	cleanupN uint64
}

// NewRateLimiter constructs a RateLimiter with the given tokens-per-second
// and burst size, keyed by keyFn.
//
//   - rps:   tokens replenished per second (0 allows no requests; use >0).
//   - burst: maximum burst size; values <= 0 are coerced to 1.
//   - keyFn: maps a request to a bucket identity.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		keyFn:   keyFn,
		buckets: make(map[string]*bucket),
		ttl:     10 * time.Minute, // evict idle entries after TTL
	}
}

// getBucket returns (and refreshes) the limiter for key, creating it if
// absent. Opportunistic GC of idle entries runs after ~5000 lookups, BEFORE
// the requested bucket is touched, so an old bucket can be evicted even when
// it is the one being fetched.
func (rl *RateLimiter) getBucket(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	rl.cleanupN++
	if rl.cleanupN >= 5000 {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.ttl {
				delete(rl.buckets, k)
			}
		}
		rl.cleanupN = 0
	}

	if b, ok := rl.buckets[key]; ok {
		b.lastSeen = now
		lim := b.limiter
		rl.mu.Unlock()
		return lim
	}

	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.buckets[key] = &bucket{limiter: lim, lastSeen: now}
	rl.mu.Unlock()
	return lim
}

// IsRateBypass reports whether IdempotencyValidator marked this request for
// rate-limit bypass, i.e. it replays a previously completed send.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass) // set by IdempotencyValidator
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler returns a Gin middleware that enforces per-key token-bucket
// limits.
//
// Behavior:
//   - If IsRateBypass(c) is true (idempotent replay), limiting is skipped.
//   - Otherwise the request is checked against its key's limiter; exhausted
//     buckets get a 429 with the standard error envelope and a minimal
//     Retry-After header.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		key := rl.keyFn(c)
		lim := rl.getBucket(key)

		if lim.Allow() {
			c.Next()
			return
		}

		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get("X-Request-ID"),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
		})
	}
}
