package gateway

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// maxCounters bounds the rate limiter's memory under a high-cardinality
// host population. Evicting an idle counter merely restarts its window
// early, which errs on the permissive side.
const maxCounters = 16384

// RateLimiter is a per-key fixed window counter over a bounded LRU.
type RateLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	counters *lru.Cache[string, *windowCounter]
}

type windowCounter struct {
	start time.Time
	count int
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	counters, _ := lru.New[string, *windowCounter](maxCounters)
	return &RateLimiter{
		limit:    limit,
		window:   window,
		counters: counters,
	}
}

func (l *RateLimiter) Allow(key string, now time.Time) bool {
	if l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.counters.Get(key)
	if !ok || now.Sub(c.start) >= l.window {
		l.counters.Add(key, &windowCounter{start: now, count: 1})
		return true
	}
	if c.count >= l.limit {
		return false
	}
	c.count++
	return true
}
