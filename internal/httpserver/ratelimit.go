package httpserver

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/al-bashkir/implicit-session/internal/logsanitize"
)

const (
	defaultRequestRate  = 10
	defaultRequestBurst = 50
	limiterIdleTTL      = 5 * time.Minute
	limiterSweepEvery   = time.Minute
	maxTrackedClients   = 10000
)

type clientBucket struct {
	tokens   *rate.Limiter
	lastSeen time.Time
}

// clientLimiter keeps a token bucket per client IP. Idle buckets are swept
// lazily on access.
type clientLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*clientBucket
	limit     rate.Limit
	burst     int
	maxSize   int
	lastSweep time.Time
	clock     func() time.Time
}

func newClientLimiter(limit rate.Limit, burst int) *clientLimiter {
	return &clientLimiter{
		buckets: make(map[string]*clientBucket),
		limit:   limit,
		burst:   burst,
		maxSize: maxTrackedClients,
		clock:   time.Now,
	}
}

// allow takes one token for ip. When none is available it returns false
// and how long the client should wait.
func (l *clientLimiter) allow(ip string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if now.Sub(l.lastSweep) > limiterSweepEvery {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > limiterIdleTTL {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[ip]
	if !ok {
		if len(l.buckets) >= l.maxSize {
			l.dropLeastRecent()
		}
		b = &clientBucket{tokens: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = now

	r := b.tokens.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return false, wait
	}
	return true, 0
}

// dropLeastRecent must be called with mu held.
func (l *clientLimiter) dropLeastRecent() {
	var victim string
	var seen time.Time
	for k, b := range l.buckets {
		if victim == "" || b.lastSeen.Before(seen) {
			victim, seen = k, b.lastSeen
		}
	}
	delete(l.buckets, victim)
}

func rateLimitMiddleware(next http.Handler, limiter *clientLimiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if ok, wait := limiter.allow(ip); !ok {
			slog.Warn("rate limit exceeded", // #nosec G706 -- values sanitized via logsanitize
				"request_id", RequestIDFromContext(r.Context()),
				"ip", logsanitize.Sanitize(ip),
				"path", logsanitize.Sanitize(r.URL.Path),
			)
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP uses RemoteAddr only. Forwarding headers are client-controlled.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
