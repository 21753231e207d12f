package application

import (
	"context"
	"time"

	"profile-gateway/service/facts/domain"
)

// ConcurrencyService bounds how many requests are in flight at once,
// without knowing anything about HTTP.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
}

// Acquire tries to take a slot.
// With AcquireTimeout <= 0 it waits until ctx ends; otherwise up to the
// timeout. ok=false means no slot was taken.
func (s ConcurrencyService) Acquire(ctx context.Context) (func(), bool) {
	if s.Pool == nil {
		return func() {}, true
	}

	if s.AcquireTimeout <= 0 {
		return s.Pool.Acquire(ctx)
	}

	acqCtx, cancel := context.WithTimeout(ctx, s.AcquireTimeout)
	defer cancel()
	return s.Pool.Acquire(acqCtx)
}
