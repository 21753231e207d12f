package infra

import (
	"context"
	"sync"

	"profile-gateway/service/facts/domain"
)

// MemoryStatsStore is a simple in-memory implementation.
// Useful for tests and development.
//
// It never expires anything and is not meant for production.
type MemoryStatsStore struct {
	mu        sync.Mutex
	byField   map[string]int64
	byOp      map[string]int64
	byLimiter map[domain.LimiterClass]int64
}

var _ domain.StatsStore = (*MemoryStatsStore)(nil)

func NewMemoryStatsStore() *MemoryStatsStore {
	return &MemoryStatsStore{
		byField:   make(map[string]int64),
		byOp:      make(map[string]int64),
		byLimiter: make(map[domain.LimiterClass]int64),
	}
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	field := statsField(ev)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.byField[field]++
	if ev.Op != "" {
		s.byOp[string(ev.Op)+":"+field]++
	}
	if ev.Class == domain.ClassLimitedLocal && ev.Limiter != "" {
		s.byLimiter[ev.Limiter]++
	}
	return nil
}

func (s *MemoryStatsStore) Totals() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.byField))
	for k, v := range s.byField {
		out[k] = v
	}
	return out
}

func (s *MemoryStatsStore) ByOp() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.byOp))
	for k, v := range s.byOp {
		out[k] = v
	}
	return out
}

func (s *MemoryStatsStore) ByLimiter() map[domain.LimiterClass]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.LimiterClass]int64, len(s.byLimiter))
	for k, v := range s.byLimiter {
		out[k] = v
	}
	return out
}
