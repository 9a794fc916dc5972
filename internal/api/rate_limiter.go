package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/mls-sync/internal/errors"
)

// idle limiters are dropped after this long
const limiterIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client host
type RateLimiter struct {
	limiters  map[string]*clientLimiter
	mu        sync.Mutex
	lastSweep time.Time
	now       func() time.Time

	limit     rate.Limit
	burstSize int
}

// NewRateLimiter creates a new rate limiter; rps <= 0 disables limiting
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 10
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &RateLimiter{
		limiters:  make(map[string]*clientLimiter),
		now:       time.Now,
		limit:     limit,
		burstSize: burst,
	}
}

// getLimiter returns the limiter for a client, creating it on first use
func (rl *RateLimiter) getLimiter(client string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= limiterIdleTTL {
		rl.sweep(now)
	}

	entry, exists := rl.limiters[client]
	if !exists {
		entry = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burstSize)}
		rl.limiters[client] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// sweep drops limiters not used within limiterIdleTTL; caller holds mu
func (rl *RateLimiter) sweep(now time.Time) {
	for client, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) >= limiterIdleTTL {
			delete(rl.limiters, client)
		}
	}
	rl.lastSweep = now
}

// size reports how many clients are tracked
func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// clientHost identifies the caller by remote host; headers are caller-controlled and ignored
func clientHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// retryAfterSeconds is the wait for one token, rounded up to a whole second
func retryAfterSeconds(limit rate.Limit) int {
	if limit <= 0 || limit == rate.Inf {
		return 1
	}
	return int(math.Max(1, math.Ceil(1/float64(limit))))
}

// RateLimitMiddleware creates a middleware that enforces rate limiting
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := rl.getLimiter(clientHost(r))

			if !limiter.Allow() {
				retryAfter := retryAfterSeconds(limiter.Limit())
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				respondServiceError(w, r, apperrors.NewRateLimitError(retryAfter))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
