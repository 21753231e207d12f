package infra

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestBolt(t *testing.T) *BoltStore {
	t.Helper()
	s, err := OpenBoltStore(filepath.Join(t.TempDir(), "facts.db"))
	if err != nil {
		t.Fatalf("OpenBoltStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBoltStore_SetGetRoundTrip(t *testing.T) {
	s := openTestBolt(t)
	ctx := context.Background()

	if err := s.SetEX(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("SetEX: %v", err)
	}

	v, ok, err := s.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if string(v) != "v" {
		t.Fatalf("expected value %q, got %q", "v", v)
	}

	if _, ok, _ := s.Get(ctx, "missing"); ok {
		t.Fatalf("expected miss for unknown key")
	}
}

func TestBoltStore_GetMissesAfterExpiry(t *testing.T) {
	s := openTestBolt(t)
	ctx := context.Background()

	if err := s.SetEX(ctx, "k", []byte("v"), 5*time.Millisecond); err != nil {
		t.Fatalf("SetEX: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatalf("expected miss after expiry")
	}
	if _, ok, _ := s.PTTL(ctx, "k"); ok {
		t.Fatalf("expected no TTL after expiry")
	}
}

func TestBoltStore_PTTLReportsRemaining(t *testing.T) {
	s := openTestBolt(t)
	ctx := context.Background()

	if err := s.SetEX(ctx, "k", []byte("1"), time.Minute); err != nil {
		t.Fatalf("SetEX: %v", err)
	}

	d, ok, err := s.PTTL(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("expected TTL, got ok=%v err=%v", ok, err)
	}
	if d <= 0 || d > time.Minute {
		t.Fatalf("expected remaining in (0, 1m], got %v", d)
	}
}

func TestBoltStore_CountWindowCountsAttempts(t *testing.T) {
	s := openTestBolt(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		n, err := s.CountWindow(ctx, "w", time.Minute)
		if err != nil {
			t.Fatalf("CountWindow: %v", err)
		}
		if n != int64(i) {
			t.Fatalf("expected count %d, got %d", i, n)
		}
	}
}

func TestBoltStore_CountWindowPrunesOldAttempts(t *testing.T) {
	s := openTestBolt(t)
	ctx := context.Background()

	if _, err := s.CountWindow(ctx, "w", 5*time.Millisecond); err != nil {
		t.Fatalf("CountWindow: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	n, err := s.CountWindow(ctx, "w", 5*time.Millisecond)
	if err != nil {
		t.Fatalf("CountWindow: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected old attempt pruned, got count %d", n)
	}
}
