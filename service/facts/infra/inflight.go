package infra

import (
	"context"

	"profile-gateway/service/facts/domain"
)

type inflightPool struct {
	sem chan struct{}
}

// NewInflightPool creates a simple channel-backed pool with capacity max.
func NewInflightPool(max int) domain.SlotPool {
	return &inflightPool{sem: make(chan struct{}, max)}
}

func (p *inflightPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.sem <- struct{}{}:
		return func() { <-p.sem }, true
	case <-ctx.Done():
		return nil, false
	}
}
