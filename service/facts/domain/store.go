package domain

import (
	"context"
	"time"
)

// Store is the shared key-value store behind the cache, the rate limiter
// windows and the cooldown flags. Implementations must be safe for
// concurrent use; every method may block on the network.
//
// The cache, limiter and cooldown layers each prefix their own namespace
// onto the keys they pass in, so implementations never interpret keys.
type Store interface {
	// Get returns the value stored under key; ok=false on a miss.
	// A miss is not an error.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// SetEX writes value under key with expiry ttl (> 0), overwriting
	// unconditionally.
	SetEX(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// PTTL reports the remaining lifetime of key; ok=false when the key
	// is absent.
	PTTL(ctx context.Context, key string) (remaining time.Duration, ok bool, err error)

	// CountWindow records one timestamped attempt under key and returns
	// how many attempts fall inside the trailing window, counting this
	// one. Slide, record and count happen as a single atomic operation
	// against the store, never as read-then-write.
	CountWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}
