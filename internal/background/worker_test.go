package background

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
)

func TestDeterministicOffsetIsStableAndBounded(t *testing.T) {
	interval := 10 * time.Second
	a := deterministicOffset("event-timeout", "node-1", interval)
	b := deterministicOffset("event-timeout", "node-1", interval)
	if a != b {
		t.Fatalf("expected the same (worker, node) pair to hash to the same offset, got %v and %v", a, b)
	}
	if a < 0 || a >= interval {
		t.Fatalf("expected offset in [0, interval), got %v", a)
	}

	c := deterministicOffset("event-timeout", "node-2", interval)
	if a == c {
		t.Fatal("expected different nodes to land on different offsets (extremely unlikely collision)")
	}
}

func TestSchedulerRunsTickUntilCancelled(t *testing.T) {
	var calls int64
	w := Worker{
		Name:     "counter",
		Interval: 20 * time.Millisecond,
		Tick: func(ctx context.Context) (int, error) {
			atomic.AddInt64(&calls, 1)
			return 1, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := New(logr.Discard(), "test-node", w)
	go s.Start(ctx)

	time.Sleep(120 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)

	if atomic.LoadInt64(&calls) == 0 {
		t.Fatal("expected at least one tick to have run")
	}
}
