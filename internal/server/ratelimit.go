package server

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/docqa-go/internal/logging"
)

// Per-client token-bucket defaults for the POST routes. Chat and summary
// calls are expensive (each one reaches the LLM), so the sustained rate is
// low; the burst absorbs a UI firing a handful of requests at once.
const (
	defaultRateLimit = 10
	defaultRateBurst = 20
)

// Buckets for clients idle longer than staleAfter are dropped so the map
// does not grow with every address ever seen.
const (
	evictInterval = time.Minute
	staleAfter    = 5 * time.Minute
)

// bucket pairs a client's token bucket with its last activity timestamp.
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter enforces a per-client-IP token bucket across the POST routes.
// All clients share one rps/burst configuration; each IP gets its own bucket.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	rps   rate.Limit
	burst int
	log   *slog.Logger
}

// newRateLimiter builds a rateLimiter and starts its eviction goroutine.
// Calling the returned stop function ends the goroutine.
func newRateLimiter(rps float64, burst int, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		buckets: make(map[string]*bucket),
		rps:     rate.Limit(rps),
		burst:   burst,
		log:     log,
	}

	stopCh := make(chan struct{})
	go rl.evictLoop(stopCh)

	return rl, func() { close(stopCh) }
}

// allow reports whether a request from ip may proceed, creating the bucket
// on first sight and refreshing its activity timestamp.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[ip] = b
	}
	b.lastSeen = time.Now()
	return b.limiter.Allow()
}

func (rl *rateLimiter) evictLoop(stopCh <-chan struct{}) {
	ticker := time.NewTicker(evictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			rl.evict()
		}
	}
}

// evict drops buckets whose owners have been idle past staleAfter.
func (rl *rateLimiter) evict() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-staleAfter)
	for ip, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, ip)
		}
	}
}

// middleware rejects over-limit requests with 429 and a Retry-After header,
// logging a WARN with the offending IP and path.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.allow(ip) {
			logging.FromContext(r.Context()).Warn("rate limit exceeded",
				slog.String("ip", ip),
				slog.String("path", r.URL.Path),
			)
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP strips the port from RemoteAddr. X-Forwarded-For is deliberately
// ignored: the server binds locally and a spoofable header must not grant a
// fresh bucket.
func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if i := strings.LastIndexByte(addr, ':'); i >= 0 {
		return addr[:i]
	}
	return addr
}
