package handlers

import (
	"strings"
	"sync"
	"time"
)

// rateLimiter gates checkout attempts per caller.
type rateLimiter interface {
	Allow(key string) bool
}

// windowLimiter counts requests per key within fixed windows. Closed windows
// are swept whenever a new one opens, so the map stays bounded by the number
// of callers active in the current window.
type windowLimiter struct {
	max    int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	buckets map[string]*windowBucket
}

type windowBucket struct {
	hits     int
	closesAt time.Time
}

func newWindowLimiter(max int, window time.Duration, clock func() time.Time) rateLimiter {
	if max <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowLimiter{
		max:     max,
		window:  window,
		clock:   clock,
		buckets: make(map[string]*windowBucket),
	}
}

func (l *windowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	if key = strings.TrimSpace(key); key == "" {
		key = "anonymous"
	}

	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := l.buckets[key]
	if bucket == nil || !now.Before(bucket.closesAt) {
		l.sweepClosed(now)
		l.buckets[key] = &windowBucket{hits: 1, closesAt: now.Add(l.window)}
		return true
	}
	if bucket.hits >= l.max {
		return false
	}
	bucket.hits++
	return true
}

// sweepClosed drops buckets whose window has ended. Caller holds the lock.
func (l *windowLimiter) sweepClosed(now time.Time) {
	for key, bucket := range l.buckets {
		if !now.Before(bucket.closesAt) {
			delete(l.buckets, key)
		}
	}
}
