package domain

import (
	"context"
	"time"
)

// LimiterClass distinguishes the three sliding-window budgets.
type LimiterClass string

const (
	LimitClient LimiterClass = "client"
	LimitHandle LimiterClass = "handle"
	LimitGlobal LimiterClass = "global"
)

// GlobalSubject is the constant subject of the global budget.
const GlobalSubject = "global"

// Decision is the outcome of one limiter check.
type Decision struct {
	Allowed bool
	// RetryAfter is the value to advertise when blocking.
	// Zero means no recommendation.
	RetryAfter time.Duration
}

// Limiter answers whether one more unit is allowed for a subject right
// now. The class (capacity, window) is bound at construction.
//
// An error means the check itself failed, not that the subject is over
// budget; the caller decides whether that fails open or closed.
type Limiter interface {
	Allow(ctx context.Context, subject string) (Decision, error)
}

// LimiterSet groups the three budgets. The client gate runs first and
// alone, so abusive traffic never consumes handle or global budget; the
// other two checks are independent of each other.
type LimiterSet struct {
	Client Limiter
	Handle Limiter
	Global Limiter
}
