package domain

import (
	"context"
	"time"
)

// StatsEvent is one recorded pipeline outcome.
//
// Mind cardinality: events carry the operation and outcome class, never
// raw handles or client keys, so a backing store cannot blow up on key
// count.
type StatsEvent struct {
	Op     Op
	Class  Class
	Cached bool

	// Limiter is set when Class is ClassLimitedLocal.
	Limiter LimiterClass

	At      time.Time
	Elapsed time.Duration
}

// StatsStore is the persistence strategy for outcome statistics.
//
// Implementations may store to Redis, memory, a metrics SDK, etc. Callers
// treat Record as best-effort: an error never fails the request being
// recorded.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
