package domain

import (
	"context"
	"time"
)

// Cache maps canonical keys to previously computed, fully-serialized
// success bodies. A present entry is always a complete, validated
// response, never a partial or error body.
//
// Caching is an optimization, not a correctness requirement:
// implementations treat a store failure on Lookup as a miss and swallow
// Store failures.
type Cache interface {
	Lookup(ctx context.Context, key Key) ([]byte, bool)
	Store(ctx context.Context, key Key, body []byte, ttl time.Duration)
}
