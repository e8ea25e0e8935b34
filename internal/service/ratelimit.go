package service

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// KeyedLimiter is a per-key token bucket limiter. It is safe for concurrent
// use; buckets idle for longer than ten minutes are dropped.
type KeyedLimiter struct {
	mu      sync.Mutex
	buckets *cache.Cache
	limit   rate.Limit
	burst   int
}

// NewKeyedLimiter allows up to burst events per key, refilling at perSecond.
func NewKeyedLimiter(perSecond float64, burst int) *KeyedLimiter {
	return &KeyedLimiter{
		buckets: cache.New(10*time.Minute, 5*time.Minute),
		limit:   rate.Limit(perSecond),
		burst:   burst,
	}
}

// Allow reports whether key may proceed, consuming one token if so.
func (l *KeyedLimiter) Allow(key string) bool {
	return l.limiter(key).Allow()
}

func (l *KeyedLimiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, ok := l.buckets.Get(key); ok {
		lim := v.(*rate.Limiter)
		l.buckets.SetDefault(key, lim)
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.buckets.SetDefault(key, lim)
	return lim
}
