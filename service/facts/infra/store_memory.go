package infra

import (
	"context"
	"sync"
	"time"

	"profile-gateway/service/facts/domain"
)

// MemoryStore is an in-process store for tests and explicit single-instance
// deployments. Nothing is shared across replicas and nothing survives a
// restart.
type MemoryStore struct {
	mu      sync.Mutex
	values  map[string]memoryValue
	windows map[string]*memoryWindow

	idleTTL      time.Duration
	cleanupEvery time.Duration

	// now is swappable so tests can drive a simulated clock.
	now func() time.Time
}

type memoryValue struct {
	data      []byte
	expiresAt time.Time
}

type memoryWindow struct {
	attempts []time.Time
	lastSeen time.Time
}

var _ domain.Store = (*MemoryStore)(nil)

type MemoryStoreOption func(*MemoryStore)

func WithIdleTTL(d time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) { s.cleanupEvery = d }
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		values:       make(map[string]memoryValue),
		windows:      make(map[string]*memoryWindow),
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) CleanupEvery() time.Duration { return s.cleanupEvery }

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	if !s.now().Before(v.expiresAt) {
		delete(s.values, key)
		return nil, false, nil
	}
	return v.data, true, nil
}

func (s *MemoryStore) SetEX(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = memoryValue{data: value, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) PTTL(_ context.Context, key string) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.values[key]
	if !ok {
		return 0, false, nil
	}
	d := v.expiresAt.Sub(s.now())
	if d <= 0 {
		delete(s.values, key)
		return 0, false, nil
	}
	return d, true, nil
}

func (s *MemoryStore) CountWindow(_ context.Context, key string, window time.Duration) (int64, error) {
	now := s.now()
	cutoff := now.Add(-window)

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		w = &memoryWindow{}
		s.windows[key] = w
	}

	kept := w.attempts[:0]
	for _, t := range w.attempts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.attempts = append(kept, now)
	w.lastSeen = now

	return int64(len(w.attempts)), nil
}

func (s *MemoryStore) Cleanup() {
	now := s.now()
	cutoff := now.Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range s.values {
		if !now.Before(v.expiresAt) {
			delete(s.values, k)
		}
	}
	for k, w := range s.windows {
		if w.lastSeen.Before(cutoff) {
			delete(s.windows, k)
		}
	}
}

// StartJanitor starts a goroutine that drops expired values and idle
// windows periodically. Stop it by cancelling the context.
func (s *MemoryStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}
