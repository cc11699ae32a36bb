package gateway

import (
	"sync"
	"time"
)

const (
	reasonRateLimited   = "rate limit exceeded"
	reasonTooConcurrent = "too many concurrent requests"
)

// ClientRateLimiter bounds a connection's request rate over a sliding minute and its
// concurrent in-flight requests.
type ClientRateLimiter struct {
	mu            sync.Mutex
	perMinute     int
	maxConcurrent int
	window        []time.Time
	inFlight      int
	now           func() time.Time
}

// NewClientRateLimiter creates a limiter with default limits
func NewClientRateLimiter() *ClientRateLimiter {
	return NewClientRateLimiterWithLimits(60, 4)
}

// NewClientRateLimiterWithLimits creates a limiter with custom limits
func NewClientRateLimiterWithLimits(requestsPerMinute, maxConcurrent int) *ClientRateLimiter {
	return &ClientRateLimiter{
		perMinute:     requestsPerMinute,
		maxConcurrent: maxConcurrent,
		now:           time.Now,
	}
}

// Acquire admits a request and reserves a concurrency slot. The caller must call
// Release when the request finishes. On rejection it returns the RPC error code.
func (r *ClientRateLimiter) Acquire() (bool, int, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight >= r.maxConcurrent {
		return false, TooManyConcurrent, reasonTooConcurrent
	}

	now := r.now()
	r.prune(now)
	if len(r.window) >= r.perMinute {
		return false, RateLimitExceeded, reasonRateLimited
	}

	r.window = append(r.window, now)
	r.inFlight++
	return true, 0, ""
}

// Release frees a concurrency slot taken by Acquire
func (r *ClientRateLimiter) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight > 0 {
		r.inFlight--
	}
}

// Stats returns requests in the current window and in-flight requests
func (r *ClientRateLimiter) Stats() (requests, inFlight int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune(r.now())
	return len(r.window), r.inFlight
}

// prune drops timestamps older than one minute; window is kept in arrival order.
func (r *ClientRateLimiter) prune(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(r.window) && !r.window[i].After(cutoff) {
		i++
	}
	r.window = r.window[i:]
}
