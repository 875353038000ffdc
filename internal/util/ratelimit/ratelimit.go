// Package ratelimit throttles attempts per key with a token bucket each.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const sweepEvery = 256

// KeyLimiter keeps one rate.Limiter per key and drops idle keys on a sweep.
type KeyLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu    sync.Mutex
	byKey map[string]*bucket
	hits  uint64
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// PerMinute returns a limiter allowing n attempts per minute per key with the
// given burst. It returns nil, which allows everything, when n or burst is
// not positive.
func PerMinute(n float64, burst int) *KeyLimiter {
	if n <= 0 || burst <= 0 {
		return nil
	}
	return &KeyLimiter{
		limit:   rate.Limit(n / 60),
		burst:   burst,
		idleTTL: 30 * time.Minute,
		byKey:   make(map[string]*bucket),
	}
}

// Allow reports whether one attempt for key may proceed at now.
func (l *KeyLimiter) Allow(key string, now time.Time) bool {
	if l == nil || key == "" {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.byKey[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[key] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%sweepEvery == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}
	return allowed
}

// Reset forgets key, typically after a successful attempt.
func (l *KeyLimiter) Reset(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byKey, key)
}
