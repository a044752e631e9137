// Package ratelimit provides token buckets for inbound relay traffic: one
// per connection for messages, and one per remote address for upgrades.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a token bucket refilled at rate tokens per second up to burst.
type Limiter struct {
	rate       float64
	burst      int
	tokens     float64
	lastUpdate time.Time
	mu         sync.Mutex
}

func NewLimiter(rate float64, burst int) *Limiter {
	return &Limiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: time.Now(),
	}
}

func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked(time.Now())

	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

func (l *Limiter) refillLocked(now time.Time) {
	elapsed := now.Sub(l.lastUpdate).Seconds()
	l.lastUpdate = now

	l.tokens += elapsed * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}
}

func (l *Limiter) idleSince() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastUpdate
}

// ClientLimiters hands out one Limiter per key (a remote address) and
// forgets keys that have been idle longer than the idle timeout.
type ClientLimiters struct {
	limiters        map[string]*Limiter
	rate            float64
	burst           int
	mu              sync.RWMutex
	cleanupInterval time.Duration
	idleTimeout     time.Duration
	stop            chan struct{}
	stopOnce        sync.Once
}

func NewClientLimiters(rate float64, burst int) *ClientLimiters {
	cl := &ClientLimiters{
		limiters:        make(map[string]*Limiter),
		rate:            rate,
		burst:           burst,
		cleanupInterval: time.Minute,
		idleTimeout:     10 * time.Minute,
		stop:            make(chan struct{}),
	}
	go cl.cleanup()
	return cl
}

// Allow takes one token from key's bucket.
func (cl *ClientLimiters) Allow(key string) bool {
	return cl.Get(key).Allow()
}

func (cl *ClientLimiters) Get(key string) *Limiter {
	cl.mu.RLock()
	limiter, ok := cl.limiters[key]
	cl.mu.RUnlock()

	if ok {
		return limiter
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if limiter, ok := cl.limiters[key]; ok {
		return limiter
	}

	limiter = NewLimiter(cl.rate, cl.burst)
	cl.limiters[key] = limiter
	return limiter
}

func (cl *ClientLimiters) Len() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.limiters)
}

func (cl *ClientLimiters) Stop() {
	cl.stopOnce.Do(func() { close(cl.stop) })
}

func (cl *ClientLimiters) cleanup() {
	ticker := time.NewTicker(cl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cl.stop:
			return
		case now := <-ticker.C:
			cl.evictIdle(now)
		}
	}
}

func (cl *ClientLimiters) evictIdle(now time.Time) int {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	evicted := 0
	for key, limiter := range cl.limiters {
		if now.Sub(limiter.idleSince()) > cl.idleTimeout {
			delete(cl.limiters, key)
			evicted++
		}
	}
	return evicted
}
