package domain

import (
	"context"
	"time"
)

// UpstreamOp names one upstream operation class. Each class has an
// independent quota upstream and therefore its own cooldown flag.
type UpstreamOp string

const (
	UpstreamLookup   UpstreamOp = "lookup"
	UpstreamSearch   UpstreamOp = "search"
	UpstreamTimeline UpstreamOp = "timeline"
)

// Cooldowns tracks per-operation upstream overload flags. Flags expire on
// their own and are never cleared early.
type Cooldowns interface {
	// Remaining reports the time left on an active cooldown; zero when
	// there is none.
	Remaining(ctx context.Context, op UpstreamOp) (time.Duration, error)

	// Trip flags op as overloaded for d. Called exactly when an upstream
	// call fails with an overload signal.
	Trip(ctx context.Context, op UpstreamOp, d time.Duration) error
}
