package infra

import (
	"context"

	"profile-gateway/service/facts/domain"
)

// MultiStats fans one event out to several stores. Every store gets the
// event even when an earlier one fails; the first error is reported.
type MultiStats []domain.StatsStore

var _ domain.StatsStore = (MultiStats)(nil)

func (m MultiStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	var firstErr error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
