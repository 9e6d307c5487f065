package httpclient

import (
	"net/http"
	"strconv"
	"sync"
)

// RateLimitInfo is the last-observed rate-limit snapshot, advisory only.
// Reset is the epoch second at which the window renews.
type RateLimitInfo struct {
	Limit     int64
	Remaining int64
	Reset     int64
}

// rateLimitTracker holds one process-wide snapshot, overwritten on every
// response that carries all three rate-limit headers. Never persisted.
type rateLimitTracker struct {
	mu   sync.Mutex
	info RateLimitInfo
	seen bool
}

// record updates the snapshot from response headers. The snapshot is only
// replaced when all three headers are present and parse as integers;
// partial header sets leave the previous snapshot intact.
func (t *rateLimitTracker) record(h http.Header) {
	limit, err := strconv.ParseInt(h.Get("X-RateLimit-Limit"), 10, 64)
	if err != nil {
		return
	}
	remaining, err := strconv.ParseInt(h.Get("X-RateLimit-Remaining"), 10, 64)
	if err != nil {
		return
	}
	reset, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.info = RateLimitInfo{Limit: limit, Remaining: remaining, Reset: reset}
	t.seen = true
}

// current returns the last-observed snapshot and whether one exists.
func (t *rateLimitTracker) current() (RateLimitInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info, t.seen
}
