package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/recoguard/recoguard/internal/pkg/errors"
	"github.com/recoguard/recoguard/internal/pkg/logger"
	"github.com/recoguard/recoguard/internal/pkg/security"
)

// client is one caller's token bucket.
type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per client IP.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client

	rate       rate.Limit
	burst      int
	cleanup    time.Duration
	staleAfter time.Duration
	exempt     []string
	log        *logger.Logger
	now        func() time.Time
}

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// RequestsPerSecond is the sustained rate per client.
	RequestsPerSecond float64
	// Burst is the bucket size. Defaults to the per-second rate.
	Burst int
	// CleanupInterval is how often Run forgets idle clients.
	CleanupInterval time.Duration
	// StaleAfter is how long a client may stay idle before it is forgotten.
	StaleAfter time.Duration
	// Exempt paths are never limited. Defaults to /healthz and /metrics.
	Exempt []string
	Logger *logger.Logger
}

// DefaultRateLimiterConfig returns sensible defaults.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 100,
		Burst:             200,
		CleanupInterval:   time.Minute,
		StaleAfter:        5 * time.Minute,
		Exempt:            []string{"/healthz", "/metrics"},
	}
}

// NewRateLimiter creates a limiter. Call Run to evict idle clients.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	def := DefaultRateLimiterConfig()
	if cfg.Burst <= 0 {
		cfg.Burst = max(int(cfg.RequestsPerSecond), 1)
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.Exempt == nil {
		cfg.Exempt = def.Exempt
	}
	return &RateLimiter{
		clients:    make(map[string]*client),
		rate:       rate.Limit(cfg.RequestsPerSecond),
		burst:      cfg.Burst,
		cleanup:    cfg.CleanupInterval,
		staleAfter: cfg.StaleAfter,
		exempt:     cfg.Exempt,
		log:        logger.OrDefault(cfg.Logger).WithComponent("ratelimit"),
		now:        time.Now,
	}
}

// take spends one token for ip. When the bucket is empty it returns the wait
// until the next token.
func (rl *RateLimiter) take(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	c, ok := rl.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.clients[ip] = c
	}
	c.lastSeen = now

	if c.limiter.AllowN(now, 1) {
		return true, 0
	}
	r := c.limiter.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return false, wait
}

// Allow reports whether a request from ip may proceed.
func (rl *RateLimiter) Allow(ip string) bool {
	ok, _ := rl.take(ip)
	return ok
}

// Run evicts idle clients every CleanupInterval until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(rl.cleanup)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := rl.evictStale(); n > 0 {
				rl.log.Debug("Evicted idle rate limit clients", "count", n)
			}
		}
	}
}

func (rl *RateLimiter) evictStale() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.staleAfter)
	n := 0
	for ip, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, ip)
			n++
		}
	}
	return n
}

// Clients returns the number of tracked clients.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Middleware rejects over-limit requests with 429 and a Retry-After header
// in whole seconds.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if slices.Contains(rl.exempt, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ip := ClientIP(r)
		ok, wait := rl.take(ip)
		if !ok {
			secs := max(int(math.Ceil(wait.Seconds())), 1)
			rl.log.Debug("Rate limited", "client", ip, "path", security.SanitizeForLog(r.URL.Path), "retry_after", secs)
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			apperrors.WriteErrorWithStatus(w, http.StatusTooManyRequests, apperrors.RateLimitedError(secs))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// connection's remote host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
