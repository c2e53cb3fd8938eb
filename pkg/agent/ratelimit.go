package agent

import (
	"sync"
	"time"
)

// RateLimit is a sliding-window limit for one tool: at most MaxCalls
// invocations within any Window.
type RateLimit struct {
	MaxCalls int
	Window   time.Duration
}

// toolRateLimiter tracks per-tool call timestamps against sliding windows.
// Adapted from the per-client gateway limiter; here the key is the tool
// name, the only identity used for rate-limit lookups.
type toolRateLimiter struct {
	mu     sync.Mutex
	limits map[string]RateLimit
	calls  map[string][]time.Time
	now    func() time.Time
}

func newToolRateLimiter(limits map[string]RateLimit) *toolRateLimiter {
	return &toolRateLimiter{
		limits: limits,
		calls:  make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow records the call and returns true when the tool is under its limit.
// Tools without a configured limit are always allowed.
func (l *toolRateLimiter) Allow(toolName string) bool {
	limit, ok := l.limits[toolName]
	if !ok || limit.MaxCalls <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-limit.Window)

	recent := l.calls[toolName][:0]
	for _, ts := range l.calls[toolName] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	l.calls[toolName] = recent

	if len(recent) >= limit.MaxCalls {
		return false
	}

	l.calls[toolName] = append(recent, now)
	return true
}
