package gatekeeper

import (
	"sync"
	"time"
)

// RateLimiter is a fixed-window request counter per source. The window only
// resets once it has fully elapsed, so exactly max requests are admitted per
// window from a given source.
type RateLimiter struct {
	mu      sync.Mutex
	sources map[string]*window
	length  time.Duration
	max     int
	now     func() time.Time
}

type window struct {
	count int
	start time.Time
}

func NewRateLimiter(length time.Duration, max int) *RateLimiter {
	rl := &RateLimiter{
		sources: make(map[string]*window),
		length:  length,
		max:     max,
		now:     time.Now,
	}

	go rl.cleanupLoop()

	return rl
}

// Admit counts one request from sourceID and reports whether it is within
// the window ceiling.
func (rl *RateLimiter) Admit(sourceID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.sources[sourceID]
	if !ok || now.Sub(w.start) > rl.length {
		rl.sources[sourceID] = &window{count: 1, start: now}
		return true
	}

	w.count++
	return w.count <= rl.max
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.sweep()
	}
}

// sweep drops sources whose window expired long ago so memory stays bounded
// in long-running processes.
func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for id, w := range rl.sources {
		if now.Sub(w.start) > 10*rl.length {
			delete(rl.sources, id)
		}
	}
}
