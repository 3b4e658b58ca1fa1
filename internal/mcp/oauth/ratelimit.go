package oauth

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*ipLimiter
	rate       rate.Limit
	burst      int
	trustProxy bool
	now        func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter allowing perSecond requests per
// second per IP with the given burst. trustProxy enables X-Forwarded-For and
// X-Real-IP; only set it behind a trusted proxy.
func NewRateLimiter(perSecond float64, burst int, trustProxy bool) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	rl := &RateLimiter{
		limiters:   make(map[string]*ipLimiter),
		rate:       rate.Limit(perSecond),
		burst:      burst,
		trustProxy: trustProxy,
		now:        time.Now,
		stop:       make(chan struct{}),
	}

	go rl.cleanupLoop(DefaultRateLimitCleanupInterval)

	return rl
}

// Reserve takes a token for ip and reports whether the request may proceed.
// When it may not, the returned duration is how long until a token frees up.
func (rl *RateLimiter) Reserve(ip string) (bool, time.Duration) {
	now := rl.now()

	rl.mu.Lock()
	l, ok := rl.limiters[ip]
	if !ok {
		l = &ipLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[ip] = l
	}
	l.lastSeen = now
	rl.mu.Unlock()

	if l.limiter.AllowN(now, 1) {
		return true, 0
	}

	r := l.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return false, wait
}

// Allow reports whether a request from ip may proceed.
func (rl *RateLimiter) Allow(ip string) bool {
	ok, _ := rl.Reserve(ip)
	return ok
}

// Len returns the number of tracked IPs.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Cleanup drops limiters that have been idle longer than
// InactiveLimiterCleanupWindow as of now.
func (rl *RateLimiter) Cleanup(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for ip, l := range rl.limiters {
		if now.Sub(l.lastSeen) > InactiveLimiterCleanupWindow {
			delete(rl.limiters, ip)
			removed++
		}
	}
	return removed
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup(rl.now())
		case <-rl.stop:
			return
		}
	}
}

// Stop ends the background cleanup.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stop)
	})
}

// Middleware rejects requests over the per-IP budget with 429 and a
// Retry-After header.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r, rl.trustProxy)

		if ok, wait := rl.Reserve(ip); !ok {
			w.Header().Set("Retry-After", retryAfterSeconds(wait))
			writeError(w, ErrRateLimitExceeded(
				fmt.Sprintf("Rate limit exceeded for %s. Please try again later", ip)))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// getClientIP extracts the client IP address from the request.
// Proxy headers are only consulted when trustProxy is set.
func getClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
