package rate

import "errors"

var (
	// ErrRedisUnavailable wraps any failure talking to Redis.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
