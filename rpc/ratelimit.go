package rpc

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig bounds how many requests a single client may issue.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute float64
	Burst             int
}

type rateEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

type rateLimiter struct {
	cfg      RateLimitConfig
	mu       sync.Mutex
	visitors map[string]*rateEntry
	now      func() time.Time
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 600
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	return &rateLimiter{
		cfg:      cfg,
		visitors: make(map[string]*rateEntry),
		now:      time.Now,
	}
}

func (l *rateLimiter) allow(source string) bool {
	if !l.cfg.Enabled {
		return true
	}
	if source == "" {
		source = "unknown"
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.visitors[source]
	if !ok {
		perSecond := l.cfg.RequestsPerMinute / 60.0
		entry = &rateEntry{limiter: rate.NewLimiter(rate.Limit(perSecond), l.cfg.Burst)}
		l.visitors[source] = entry
	}
	entry.seen = now
	l.pruneLocked(now)
	return entry.limiter.AllowN(now, 1)
}

// pruneLocked evicts limiters idle for over ten minutes. Callers hold l.mu.
func (l *rateLimiter) pruneLocked(now time.Time) {
	for source, entry := range l.visitors {
		if now.Sub(entry.seen) > 10*time.Minute {
			delete(l.visitors, source)
		}
	}
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
