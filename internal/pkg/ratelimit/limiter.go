package ratelimit

import (
	"math"
	"strings"
	"sync"
	"time"
)

// Limiter allows one submission per key in the cooldown window
type Limiter struct {
	window time.Duration
	lock   sync.Mutex
	last   map[string]time.Time
}

// NewLimiter creates limiter, window <= 0 disables limiting
func NewLimiter(window time.Duration) *Limiter {
	return &Limiter{window: window, last: map[string]time.Time{}}
}

// Key makes a rate limit key from the caller origin and uploader identity
func Key(origin, uploader string) string {
	return origin + "|" + strings.ToLower(strings.TrimSpace(uploader))
}

// CheckAndRecord records now and returns true if key is allowed,
// otherwise returns false and seconds to wait
func (l *Limiter) CheckAndRecord(key string, now time.Time) (bool, int) {
	if l.window <= 0 {
		return true, 0
	}
	l.lock.Lock()
	defer l.lock.Unlock()

	prev, ok := l.last[key]
	if ok {
		elapsed := now.Sub(prev)
		if elapsed < l.window {
			return false, retryAfter(l.window - elapsed)
		}
	}
	l.last[key] = now
	return true, 0
}

// Window returns the configured cooldown
func (l *Limiter) Window() time.Duration {
	return l.window
}

func retryAfter(d time.Duration) int {
	res := int(math.Ceil(d.Seconds()))
	if res < 1 {
		return 1
	}
	return res
}
