package executor

import (
	"math"
	"time"
)

// BackoffKind selects the delay curve between retry attempts.
type BackoffKind int

const (
	BackoffExponential BackoffKind = iota
	BackoffLinear
	BackoffConstant
)

// RetryPolicy mirrors the resolved job retry policy shape, generalized
// to provider execution: MaxAttempts counts total attempts (including
// the first), InitialBackoff is the delay before the second attempt.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Multiplier     float64
	MaxBackoff     time.Duration
	Kind           BackoffKind
	Jitter         bool
}

// DefaultRetryPolicy matches the original implementation's defaults:
// exponential backoff, 100ms initial, 2x multiplier, 30s cap, jittered.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    4,
		InitialBackoff: 100 * time.Millisecond,
		Multiplier:     2.0,
		MaxBackoff:     30 * time.Second,
		Kind:           BackoffExponential,
		Jitter:         true,
	}
}

// NextDelay returns the delay before scheduling the attempt after
// failedAttempt (1-indexed) has failed.
func (p RetryPolicy) NextDelay(failedAttempt int) time.Duration {
	if failedAttempt < 1 {
		failedAttempt = 1
	}

	var delay time.Duration
	switch p.Kind {
	case BackoffLinear:
		delay = p.InitialBackoff * time.Duration(failedAttempt)
	case BackoffConstant:
		delay = p.InitialBackoff
	default:
		multiplier := p.Multiplier
		if multiplier < 1 {
			multiplier = 1
		}
		exponent := float64(failedAttempt - 1)
		delay = time.Duration(float64(p.InitialBackoff) * math.Pow(multiplier, exponent))
	}
	if delay <= 0 {
		delay = p.InitialBackoff
	}
	if p.Jitter {
		delay = applyJitter(delay, failedAttempt)
	}
	if p.MaxBackoff > 0 && delay > p.MaxBackoff {
		delay = p.MaxBackoff
	}
	return delay
}

// applyJitter scales delay by a deterministic factor derived from the
// attempt number, avoiding a dependency on math/rand for reproducible
// tests while still de-synchronizing concurrent retriers.
func applyJitter(delay time.Duration, attempt int) time.Duration {
	factor := 1.0 + 0.1*float64(attempt%5)
	return time.Duration(float64(delay) * factor)
}
