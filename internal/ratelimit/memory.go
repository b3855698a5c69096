package ratelimit

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type memoryWindow struct {
	stamps    []time.Time
	window    time.Duration
	expiresAt time.Time
}

// prune drops entries at or before cutoff; stamps are kept in arrival order.
func (w *memoryWindow) prune(cutoff time.Time) {
	idx := 0
	for idx < len(w.stamps) && !w.stamps[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[idx:]...)
	}
}

// MemoryLimiter implements a sliding-window limiter in process memory.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
}

// NewMemoryLimiter constructs a MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*memoryWindow),
	}
}

// Allow records now in the key's window and reports whether it fits the rule.
func (l *MemoryLimiter) Allow(_ context.Context, key string, rule Rule, now time.Time) (Result, error) {
	if !rule.Enabled() || key == "" {
		return allowAll(rule), nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windows[key]
	if w == nil {
		w = &memoryWindow{}
		l.windows[key] = w
	}
	w.window = rule.Window
	w.prune(now.Add(-rule.Window))
	w.stamps = append(w.stamps, now)

	count := len(w.stamps)
	allowed := count <= rule.MaxRequests
	if !allowed {
		w.stamps = w.stamps[:count-1]
	}
	last := w.stamps[len(w.stamps)-1]
	w.expiresAt = last.Add(rule.Window)

	remaining := rule.MaxRequests - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:       allowed,
		Limit:         rule.MaxRequests,
		Remaining:     remaining,
		ResetTime:     w.stamps[0].Add(rule.Window),
		TotalRequests: count,
	}, nil
}

// Sweep evicts windows whose entries have all expired by now.
func (l *MemoryLimiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	evicted := 0
	for key, w := range l.windows {
		w.prune(now.Add(-w.window))
		if len(w.stamps) == 0 && !now.Before(w.expiresAt) {
			delete(l.windows, key)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of tracked windows.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Start runs the sweep loop until ctx is done.
func (l *MemoryLimiter) Start(ctx context.Context, interval time.Duration, nowFn func() time.Time) {
	if l == nil || interval <= 0 {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if evicted := l.Sweep(nowFn()); evicted > 0 {
					log.Debugf("rate limit: swept %d idle windows", evicted)
				}
			}
		}
	}()
}
