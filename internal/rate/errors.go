package rate

import "errors"

var (
	// ErrRateLimited is returned when an identifier or IP exhausted its window.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable is returned when the counters cannot be read or written.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
