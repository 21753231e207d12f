package infra

import (
	"context"
	"time"

	"profile-gateway/service/facts/domain"
)

// StoreCooldowns keeps the per-operation upstream overload flags in the
// shared store. A flag is a key with a TTL and nothing else; Remaining
// reads the TTL back and an expired flag simply stops existing.
type StoreCooldowns struct {
	store domain.Store
}

var _ domain.Cooldowns = (*StoreCooldowns)(nil)

func NewStoreCooldowns(store domain.Store) *StoreCooldowns {
	return &StoreCooldowns{store: store}
}

func (c *StoreCooldowns) Remaining(ctx context.Context, op domain.UpstreamOp) (time.Duration, error) {
	d, ok, err := c.store.PTTL(ctx, c.key(op))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return d, nil
}

func (c *StoreCooldowns) Trip(ctx context.Context, op domain.UpstreamOp, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return c.store.SetEX(ctx, c.key(op), []byte("1"), d)
}

func (c *StoreCooldowns) key(op domain.UpstreamOp) string {
	return "cooldown:" + string(op)
}
