package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_CheckAndRecord(t *testing.T) {
	l := NewLimiter(time.Minute)
	now := time.Now()

	ok, wait := l.CheckAndRecord("k", now)
	assert.True(t, ok)
	assert.Equal(t, 0, wait)

	ok, wait = l.CheckAndRecord("k", now.Add(time.Second))
	assert.False(t, ok)
	assert.Equal(t, 59, wait)

	ok, wait = l.CheckAndRecord("k", now.Add(59*time.Second+100*time.Millisecond))
	assert.False(t, ok)
	assert.Equal(t, 1, wait)

	ok, _ = l.CheckAndRecord("other", now.Add(time.Second))
	assert.True(t, ok)

	ok, _ = l.CheckAndRecord("k", now.Add(time.Minute))
	assert.True(t, ok)
	ok, wait = l.CheckAndRecord("k", now.Add(time.Minute+time.Millisecond))
	assert.False(t, ok)
	assert.Equal(t, 60, wait)
}

func TestLimiter_RetryWithinWindow(t *testing.T) {
	w := 30 * time.Second
	l := NewLimiter(w)
	now := time.Now()
	l.CheckAndRecord("k", now)
	for _, d := range []time.Duration{0, time.Millisecond, time.Second, 15 * time.Second, 29*time.Second + 999*time.Millisecond} {
		ok, wait := l.CheckAndRecord("k", now.Add(d))
		assert.False(t, ok)
		assert.Greater(t, wait, 0)
		assert.LessOrEqual(t, wait, int(w.Seconds()))
	}
}

func TestLimiter_Disabled(t *testing.T) {
	l := NewLimiter(0)
	now := time.Now()
	for i := 0; i < 3; i++ {
		ok, _ := l.CheckAndRecord("k", now)
		assert.True(t, ok)
	}
}

func TestLimiter_Window(t *testing.T) {
	assert.Equal(t, time.Minute, NewLimiter(time.Minute).Window())
	assert.Equal(t, time.Duration(0), NewLimiter(0).Window())
}

func TestLimiter_Concurrent(t *testing.T) {
	l := NewLimiter(time.Hour)
	now := time.Now()
	var wg sync.WaitGroup
	var lock sync.Mutex
	allowed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.CheckAndRecord("k", now); ok {
				lock.Lock()
				allowed++
				lock.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, allowed)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "10.0.0.1|jonas", Key("10.0.0.1", " Jonas "))
}
