// internal/api/ratelimit.go
package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultIdleTTL is how long an unused client bucket is kept.
const DefaultIdleTTL = 5 * time.Minute

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows rps requests per second per IP with bursts of up
// to burst. A background goroutine drops idle clients until Stop.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	rl := newRateLimiter(rps, burst, time.Now)
	go rl.pruneLoop()
	return rl
}

func newRateLimiter(rps float64, burst int, now func() time.Time) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		clients: make(map[string]*client),
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: DefaultIdleTTL,
		now:     now,
		stop:    make(chan struct{}),
	}
}

// Allow reports whether ip may make a request now and consumes a token.
func (rl *RateLimiter) Allow(ip string) bool {
	now := rl.now()

	rl.mu.Lock()
	c, ok := rl.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[ip] = c
	}
	c.lastSeen = now
	rl.mu.Unlock()

	return c.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) pruneLoop() {
	ticker := time.NewTicker(rl.idleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.prune()
		case <-rl.stop:
			return
		}
	}
}

// prune forgets clients idle for longer than idleTTL.
func (rl *RateLimiter) prune() {
	threshold := rl.now().Add(-rl.idleTTL)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, c := range rl.clients {
		if c.lastSeen.Before(threshold) {
			delete(rl.clients, ip)
		}
	}
}

// Stop ends the prune goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

// Stats reports the limiter settings and tracked clients.
func (rl *RateLimiter) Stats() map[string]any {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return map[string]any{
		"active_clients": len(rl.clients),
		"rate_per_sec":   float64(rl.limit),
		"burst_size":     rl.burst,
	}
}

// ClientIP returns the address a request is rate limited by. Proxy headers
// are honoured only when the direct peer is loopback, so remote clients
// cannot pick their own bucket.
func ClientIP(r *http.Request) string {
	remote := strings.TrimSpace(r.RemoteAddr)
	host := remote
	if h, _, err := net.SplitHostPort(remote); err == nil {
		host = h
	}
	peer := net.ParseIP(host)

	if peer != nil && peer.IsLoopback() {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
	}
	if peer != nil {
		return peer.String()
	}
	return host
}

// WithRateLimit rejects requests over the limit with 429. A nil limiter
// disables limiting.
func WithRateLimit(rl *RateLimiter) Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if rl == nil || r.Method == http.MethodOptions {
				next(w, r)
				return
			}
			if !rl.Allow(ClientIP(r)) {
				w.Header().Set("Retry-After", "1")
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next(w, r)
		}
	}
}
