package pagestore

import (
	"math/rand/v2"
	"net/http"
	"time"
)

const maxRetries = 3

// retryable reports whether a fetch attempt is worth retrying: transport
// errors and 5xx responses. Writes are never retried; a timed-out write may
// already have committed.
func retryable(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	return resp.StatusCode >= 500
}

// backoff returns a duration for attempt n (0-indexed) with jitter.
func backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}
