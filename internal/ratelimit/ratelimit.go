// Package ratelimit implements a per-credential sliding-window request
// limiter. State is in-process only; a restart resets all windows.
package ratelimit

import (
	"sync"
	"time"
)

const (
	// Window is the trailing interval requests are counted over.
	Window = 60 * time.Second
	// sweepInterval controls how often idle windows are dropped.
	sweepInterval = 5 * time.Minute
)

// Result reports one limiter decision.
type Result struct {
	Allowed   bool
	Remaining int
	// ResetMs is how long until the oldest counted request leaves the window.
	// Only meaningful on deny.
	ResetMs int64
}

// Limiter tracks request timestamps per credential.
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
	stopCh  chan struct{}
}

// NewLimiter creates a Limiter and starts the idle-window sweeper.
func NewLimiter() *Limiter {
	l := &Limiter{
		windows: make(map[string][]time.Time),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Check applies the sliding window for one credential. A nil ceiling admits
// everything without recording. Expired timestamps are evicted lazily here;
// the timestamp of an allowed request is recorded before returning.
func (l *Limiter) Check(credentialID string, ceiling *int) Result {
	if ceiling == nil || *ceiling <= 0 {
		return Result{Allowed: true, Remaining: -1}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-Window)

	window := l.windows[credentialID]
	// Evict entries older than the window.
	kept := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= *ceiling {
		l.windows[credentialID] = kept
		resetMs := kept[0].Add(Window).Sub(now).Milliseconds()
		if resetMs < 0 {
			resetMs = 0
		}
		return Result{Allowed: false, Remaining: 0, ResetMs: resetMs}
	}

	l.windows[credentialID] = append(kept, now)
	return Result{Allowed: true, Remaining: *ceiling - len(kept) - 1}
}

// Stop terminates the background sweeper.
func (l *Limiter) Stop() {
	close(l.stopCh)
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stopCh:
			return
		}
	}
}

// sweep drops windows whose newest entry has aged out, bounding memory for
// credentials that went quiet.
func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-Window)
	for id, window := range l.windows {
		if len(window) == 0 || !window[len(window)-1].After(cutoff) {
			delete(l.windows, id)
		}
	}
}
