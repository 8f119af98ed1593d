// Per-user token-bucket rate limiting for the coaching API. Each LLM round is
// expensive, so the limiter sits in front of every authenticated route.
package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/preflightlabs/preflight/internal/api/ctxkeys"
)

// rateLimitBurst allows short bursts above the sustained per-minute rate.
const rateLimitBurst = 5

// RateLimit returns middleware limiting each caller to perMinute requests.
// Callers are keyed by the authenticated user id, falling back to the remote
// address for unauthenticated routes. perMinute <= 0 disables limiting.
func RateLimit(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	pool := &limiterPool{
		limit:    rate.Limit(float64(perMinute) / 60.0),
		limiters: make(map[string]*rate.Limiter),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ctxkeys.Value(r.Context(), ctxkeys.UserID)
			if key == "" {
				key = remoteHost(r)
			}
			if !pool.allow(key) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "60")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"}) //nolint:errcheck
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// limiterPool holds one token bucket per caller key.
type limiterPool struct {
	mu       sync.Mutex
	limit    rate.Limit
	limiters map[string]*rate.Limiter
}

func (p *limiterPool) allow(key string) bool {
	p.mu.Lock()
	limiter, ok := p.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(p.limit, rateLimitBurst)
		p.limiters[key] = limiter
	}
	p.mu.Unlock()
	return limiter.Allow()
}

// remoteHost strips the port from RemoteAddr; falls back to the raw value.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
