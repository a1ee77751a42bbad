package memory

import (
	"context"
	"testing"
	"time"

	"github.com/acteon-dev/acteon/internal/action"
	"github.com/acteon-dev/acteon/internal/store"
)

func testKey(id string) action.StateKey {
	return action.NewKey("ns", "tenant-a", action.KindDedup, id)
}

func TestCheckAndSetClaimsOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := testKey("evt-1")

	ok, err := s.CheckAndSet(ctx, key, []byte("v1"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("first CheckAndSet: ok=%v err=%v", ok, err)
	}

	ok, err = s.CheckAndSet(ctx, key, []byte("v2"), time.Minute)
	if err != nil || ok {
		t.Fatalf("second CheckAndSet should not claim: ok=%v err=%v", ok, err)
	}
}

func TestTTLExpiry(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := testKey("evt-ttl")

	if err := s.Set(ctx, key, []byte("v1"), 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)

	if _, err := s.Get(ctx, key); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestCompareAndSwap(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := testKey("cas-1")

	if err := s.Set(ctx, key, []byte("v1"), 0); err != nil {
		t.Fatal(err)
	}
	entry, err := s.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.CompareAndSwap(ctx, key, entry.Version, []byte("v2"), 0); err != nil {
		t.Fatalf("swap with correct version: %v", err)
	}
	if _, err := s.CompareAndSwap(ctx, key, entry.Version, []byte("v3"), 0); err != store.ErrVersionConflict {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestIncrement(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := action.NewKey("ns", "tenant-a", action.KindCounter, "c1")

	for i, want := range []int64{1, 2, 3} {
		got, err := s.Increment(ctx, key, 1, time.Minute)
		if err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
		if got != want {
			t.Fatalf("increment %d: want %d got %d", i, want, got)
		}
	}
}

func TestTimeoutIndexOrdering(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	a := action.NewKey("ns", "t", action.KindEventTimeout, "a")
	b := action.NewKey("ns", "t", action.KindEventTimeout, "b")
	c := action.NewKey("ns", "t", action.KindEventTimeout, "c")

	if err := s.IndexTimeout(ctx, "timeout", b, now.Add(2*time.Second)); err != nil {
		t.Fatal(err)
	}
	if err := s.IndexTimeout(ctx, "timeout", a, now.Add(1*time.Second)); err != nil {
		t.Fatal(err)
	}
	if err := s.IndexTimeout(ctx, "timeout", c, now.Add(3*time.Second)); err != nil {
		t.Fatal(err)
	}

	due, err := s.PopDueTimeouts(ctx, "timeout", now.Add(2500*time.Millisecond), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 2 || due[0].ID != "a" || due[1].ID != "b" {
		t.Fatalf("unexpected due order: %+v", due)
	}
}

func TestScanKeys(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Set(ctx, action.NewKey("ns", "tenant-a", action.KindDedup, "email-1"), []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, action.NewKey("ns", "tenant-a", action.KindDedup, "email-2"), []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, action.NewKey("ns", "tenant-a", action.KindDedup, "sms-1"), []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, action.NewKey("ns", "tenant-b", action.KindDedup, "email-3"), []byte("v"), 0); err != nil {
		t.Fatal(err)
	}

	results, err := s.ScanKeys(ctx, "ns", "tenant-a", action.KindDedup, "email-")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 prefix-matched results, got %d: %+v", len(results), results)
	}

	all, err := s.ScanKeys(ctx, "ns", "tenant-a", action.KindDedup, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 results with no prefix, got %d", len(all))
	}
}

func TestScanKeysByKind(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Set(ctx, action.NewKey("ns", "tenant-a", action.KindDedup, "a"), []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, action.NewKey("ns", "tenant-b", action.KindDedup, "b"), []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, action.NewKey("ns", "tenant-a", action.KindCounter, "c"), []byte("v"), 0); err != nil {
		t.Fatal(err)
	}

	results, err := s.ScanKeysByKind(ctx, action.KindDedup)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 cross-tenant results, got %d: %+v", len(results), results)
	}
}

func TestLockMutualExclusion(t *testing.T) {
	l := NewLock()
	ctx := context.Background()

	g1, ok, err := l.TryAcquire(ctx, "res-1", time.Second)
	if err != nil || !ok {
		t.Fatalf("first TryAcquire: ok=%v err=%v", ok, err)
	}

	if _, ok, err := l.TryAcquire(ctx, "res-1", time.Second); err != nil || ok {
		t.Fatalf("second TryAcquire should fail: ok=%v err=%v", ok, err)
	}

	if err := g1.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	g2, ok, err := l.TryAcquire(ctx, "res-1", time.Second)
	if err != nil || !ok {
		t.Fatalf("re-acquire after release: ok=%v err=%v", ok, err)
	}
	if held, _ := g2.IsHeld(ctx); !held {
		t.Fatal("expected g2 to be held")
	}
}
