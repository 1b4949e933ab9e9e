package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	start time.Time
	count int
}

// Limiter admits at most max events per connection in each fixed window.
// A window opens on the first event after the previous one expired.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	max     int
	period  time.Duration
	now     func() time.Time
}

func New(period time.Duration, max int) *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		max:     max,
		period:  period,
		now:     time.Now,
	}
}

func (l *Limiter) Allow(connID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[connID]
	if !ok || now.Sub(w.start) > l.period {
		l.windows[connID] = &window{start: now, count: 1}
		return true
	}
	w.count++
	return w.count <= l.max
}

// Forget drops the record for a closed connection.
func (l *Limiter) Forget(connID string) {
	l.mu.Lock()
	delete(l.windows, connID)
	l.mu.Unlock()
}

// Len reports how many connections are tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
