package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a token bucket shared by every caller of one upstream (RPC node, price API)
type Limiter struct {
	rate       float64 // tokens per second
	burst      float64
	tokens     float64
	lastUpdate time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// New creates a limiter refilling at rps tokens per second with room for burst tokens
func New(rps float64, burst int) *Limiter {
	if rps <= 0 {
		rps = 1.0
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		rate:       rps,
		burst:      float64(burst),
		tokens:     float64(burst),
		lastUpdate: time.Now(),
		now:        time.Now,
	}
}

// Wait blocks until a token is available or ctx is done
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		wait, ok := l.reserve()
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Allow takes a token if one is available without blocking
func (l *Limiter) Allow() bool {
	_, ok := l.reserve()
	return ok
}

// reserve takes a token, or reports how long until one is due
func (l *Limiter) reserve() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.tokens += now.Sub(l.lastUpdate).Seconds() * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.lastUpdate = now

	if l.tokens >= 1.0 {
		l.tokens -= 1.0
		return 0, true
	}

	missing := 1.0 - l.tokens
	return time.Duration(missing / l.rate * float64(time.Second)), false
}
