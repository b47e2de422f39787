package access

import (
	"math"
	"sync"
	"time"

	"github.com/poeproxy/poe-openai-proxy/internal/config"
	"golang.org/x/time/rate"
)

// Limiter throttles requests per principal with a token bucket. A zero
// requests-per-minute setting disables it.
type Limiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// NewLimiter returns a Limiter configured from cfg.
func NewLimiter(cfg config.RateLimitConfig) *Limiter {
	l := &Limiter{}
	l.Update(cfg)
	return l
}

// Update applies new limits. Existing buckets are discarded.
func (l *Limiter) Update(cfg config.RateLimitConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters = make(map[string]*rate.Limiter)
	if cfg.RequestsPerMinute <= 0 {
		l.limit, l.burst = 0, 0
		return
	}
	l.limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60)
	l.burst = cfg.Burst
	if l.burst <= 0 {
		l.burst = cfg.RequestsPerMinute
	}
}

// Allow reports whether key may make a request now. When it may not, the
// returned duration is the suggested wait.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	l.mu.Lock()
	if l.limit == 0 {
		l.mu.Unlock()
		return true, 0
	}
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	perToken := time.Duration(math.Ceil(float64(time.Second) / float64(l.limit)))
	l.mu.Unlock()

	if lim.Allow() {
		return true, 0
	}
	return false, perToken
}
