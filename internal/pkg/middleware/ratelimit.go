package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pyro/internal/httpkit"
	"pyro/internal/pkg/errors"
)

// CodeRateLimited is returned when a client exceeds its request rate.
const CodeRateLimited = errors.CodeResourceExhaust

const limiterIdle = 10 * time.Minute

type client struct {
	lim  *rate.Limiter
	seen time.Time
}

// Limiter hands out one token bucket per client address.
type Limiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*client
	sweep   time.Time
	now     func() time.Time
}

func NewLimiter(rps float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*client),
		now:     time.Now,
	}
}

// Allow reports whether key may make a request now.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.sweep) > limiterIdle {
		for k, c := range l.clients {
			if now.Sub(c.seen) > limiterIdle {
				delete(l.clients, k)
			}
		}
		l.sweep = now
	}

	c, ok := l.clients[key]
	if !ok {
		c = &client{lim: rate.NewLimiter(l.rps, l.burst)}
		l.clients[key] = c
	}
	c.seen = now
	return c.lim.AllowN(now, 1)
}

// RateLimit rejects requests over rps per client with 429. A non-positive
// rps disables it.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rps <= 0 {
			return next
		}
		l := NewLimiter(rps, burst)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(clientKey(r)) {
				w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
				httpkit.WriteErr(w, http.StatusTooManyRequests, string(CodeRateLimited), "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
