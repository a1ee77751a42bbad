package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/acteon-dev/acteon/internal/action"
	"github.com/acteon-dev/acteon/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, "acteon-test")
}

func TestCheckAndSetClaimsOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := action.NewKey("ns", "tenant", action.KindDedup, "evt-1")

	ok, err := s.CheckAndSet(ctx, key, []byte("v1"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("first CheckAndSet: ok=%v err=%v", ok, err)
	}
	ok, err = s.CheckAndSet(ctx, key, []byte("v2"), time.Minute)
	if err != nil || ok {
		t.Fatalf("second CheckAndSet should not claim: ok=%v err=%v", ok, err)
	}
}

func TestCompareAndSwapConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := action.NewKey("ns", "tenant", action.KindState, "s1")

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
	s := newTestStore(t)
	ctx := context.Background()
	key := action.NewKey("ns", "tenant", action.KindCounter, "c1")

	got, err := s.Increment(ctx, key, 3, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if got != 3 {
		t.Fatalf("want 3 got %d", got)
	}
	got, err = s.Increment(ctx, key, 4, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if got != 7 {
		t.Fatalf("want 7 got %d", got)
	}
}

func TestTimeoutIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	a := action.NewKey("ns", "t", action.KindEventTimeout, "a")
	b := action.NewKey("ns", "t", action.KindEventTimeout, "b")

	if err := s.IndexTimeout(ctx, "timeout", a, now.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	if err := s.IndexTimeout(ctx, "timeout", b, now.Add(5*time.Second)); err != nil {
		t.Fatal(err)
	}

	due, err := s.PopDueTimeouts(ctx, "timeout", now.Add(2*time.Second), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID != "a" {
		t.Fatalf("unexpected due: %+v", due)
	}
}

func TestScanKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"email-1", "email-2", "sms-1"} {
		if err := s.Set(ctx, action.NewKey("ns", "tenant-a", action.KindDedup, id), []byte("v"), 0); err != nil {
			t.Fatal(err)
		}
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
}

func TestScanKeysByKind(t *testing.T) {
	s := newTestStore(t)
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
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	lock := NewLock(client, "acteon-test")
	ctx := context.Background()

	g1, ok, err := lock.TryAcquire(ctx, "res-1", time.Second)
	if err != nil || !ok {
		t.Fatalf("first TryAcquire: ok=%v err=%v", ok, err)
	}
	if _, ok, err := lock.TryAcquire(ctx, "res-1", time.Second); err != nil || ok {
		t.Fatalf("second TryAcquire should fail: ok=%v err=%v", ok, err)
	}
	if err := g1.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, err := lock.TryAcquire(ctx, "res-1", time.Second); err != nil || !ok {
		t.Fatalf("re-acquire after release: ok=%v err=%v", ok, err)
	}
}
