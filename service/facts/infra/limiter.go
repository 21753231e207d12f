package infra

import (
	"context"
	"time"

	"profile-gateway/service/facts/domain"
)

// WindowLimiter enforces one sliding-window budget against the shared
// store. Every Allow call records an attempt before deciding, including
// the ones that come back denied, so hammering a blocked subject keeps it
// blocked.
type WindowLimiter struct {
	store    domain.Store
	class    domain.LimiterClass
	capacity int64
	window   time.Duration
}

var _ domain.Limiter = (*WindowLimiter)(nil)

func NewWindowLimiter(store domain.Store, class domain.LimiterClass, capacity int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{
		store:    store,
		class:    class,
		capacity: int64(capacity),
		window:   window,
	}
}

func (l *WindowLimiter) Class() domain.LimiterClass { return l.class }
func (l *WindowLimiter) Capacity() int              { return int(l.capacity) }
func (l *WindowLimiter) Window() time.Duration      { return l.window }

func (l *WindowLimiter) Allow(ctx context.Context, subject string) (domain.Decision, error) {
	n, err := l.store.CountWindow(ctx, l.key(subject), l.window)
	if err != nil {
		return domain.Decision{}, err
	}
	if n <= l.capacity {
		return domain.Decision{Allowed: true}, nil
	}
	// The oldest in-window attempt ages out after at most one full window.
	return domain.Decision{Allowed: false, RetryAfter: l.window}, nil
}

func (l *WindowLimiter) key(subject string) string {
	return "limit:" + string(l.class) + ":" + subject
}
