// Package ratelimit enforces per-device token-bucket rate limits.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type deviceBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Limiter holds one token bucket per device (capacity = burst, refill =
// rps). Buckets are created lazily and pruned when idle. Scope is per
// process: multiple ingest processes each apply the full budget, so the
// aggregate admitted rate grows with the process count.
type Limiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*deviceBucket
	now     func() time.Time
}

// New creates a limiter admitting rps messages per second with bursts up
// to burst per device.
func New(rps float64, burst int) *Limiter {
	return &Limiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*deviceBucket),
		now:     time.Now,
	}
}

// Allow reports whether the device may send one more message now.
// Excess over the bucket capacity is rejected, never queued.
func (l *Limiter) Allow(tenantID, deviceID string) bool {
	key := tenantID + "/" + deviceID

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &deviceBucket{lim: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = l.now()
	l.mu.Unlock()

	return b.lim.Allow()
}

// Prune drops buckets for devices silent longer than maxIdle. An idle
// bucket is full anyway, so dropping it loses nothing.
func (l *Limiter) Prune(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-maxIdle)
	removed := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked devices.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
