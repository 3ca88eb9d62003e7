package gateway

import "time"

// rateLimiter caps the lines one connection may send per window.
// It is owned by the connection's read loop and is not safe for concurrent use.
type rateLimiter struct {
	limit   int
	window  time.Duration
	counter int
	started time.Time
	now     func() time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{limit: limit, window: window, now: time.Now}
}

func (r *rateLimiter) allow() bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	now := r.now()
	if now.Sub(r.started) >= r.window {
		r.started = now
		r.counter = 0
	}
	r.counter++
	return r.counter <= r.limit
}
