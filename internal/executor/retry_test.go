package executor

import (
	"testing"
	"time"
)

func TestNextDelayExponentialGrowsAndCaps(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts:    10,
		InitialBackoff: 100 * time.Millisecond,
		Multiplier:     2.0,
		MaxBackoff:     1 * time.Second,
		Kind:           BackoffExponential,
	}

	d1 := p.NextDelay(1)
	d2 := p.NextDelay(2)
	d3 := p.NextDelay(3)

	if d1 != 100*time.Millisecond {
		t.Fatalf("want 100ms got %v", d1)
	}
	if d2 != 200*time.Millisecond {
		t.Fatalf("want 200ms got %v", d2)
	}
	if d3 != 400*time.Millisecond {
		t.Fatalf("want 400ms got %v", d3)
	}

	capped := p.NextDelay(10)
	if capped > p.MaxBackoff {
		t.Fatalf("expected delay capped at %v, got %v", p.MaxBackoff, capped)
	}
}

func TestNextDelayConstant(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, InitialBackoff: 50 * time.Millisecond, Kind: BackoffConstant}
	if got := p.NextDelay(1); got != 50*time.Millisecond {
		t.Fatalf("want 50ms got %v", got)
	}
	if got := p.NextDelay(5); got != 50*time.Millisecond {
		t.Fatalf("want 50ms got %v", got)
	}
}

func TestNextDelayLinear(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, InitialBackoff: 100 * time.Millisecond, Kind: BackoffLinear}
	if got := p.NextDelay(3); got != 300*time.Millisecond {
		t.Fatalf("want 300ms got %v", got)
	}
}

func TestNextDelayJitterScalesButStaysBounded(t *testing.T) {
	p := DefaultRetryPolicy()
	base := RetryPolicy{InitialBackoff: p.InitialBackoff, Multiplier: p.Multiplier, Kind: p.Kind, MaxBackoff: p.MaxBackoff}
	unjittered := base.NextDelay(1)
	jittered := p.NextDelay(1)
	if jittered < unjittered {
		t.Fatalf("jitter should never reduce delay below base, got %v < %v", jittered, unjittered)
	}
	if late := p.NextDelay(9); late > p.MaxBackoff {
		t.Fatalf("jittered delay should stay capped at %v, got %v", p.MaxBackoff, late)
	}
}
