package rate

import (
	"context"
	"sync"
	"time"
)

type MemoryLimiter struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	windows     map[string]*window
	lastCleanup time.Time
}

type window struct {
	count int
	reset time.Time
}

func NewMemory(limit int, period time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:       limit,
		window:      period,
		windows:     map[string]*window{},
		lastCleanup: time.Now(),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) >= l.window {
		for k, w := range l.windows {
			if now.After(w.reset) {
				delete(l.windows, k)
			}
		}
		l.lastCleanup = now
	}

	w, ok := l.windows[key]
	if !ok || now.After(w.reset) {
		l.windows[key] = &window{count: 1, reset: now.Add(l.window)}
		return true, 0, nil
	}
	if w.count >= l.limit {
		return false, max(w.reset.Sub(now), 0), nil
	}
	w.count++
	return true, 0, nil
}
