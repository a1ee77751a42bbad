// Package executor drives provider calls with bounded concurrency,
// retry/backoff, per-provider circuit breaking, and a dead letter sink
// for exhausted attempts. The retry-policy shape is adapted from the
// teacher's scheduled job retry resolver, generalized from a one-shot
// job to a provider call the gateway pipeline may invoke synchronously
// or from a background worker.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"

	"github.com/acteon-dev/acteon/internal/action"
	"github.com/acteon-dev/acteon/internal/dlq"
	"github.com/acteon-dev/acteon/internal/metrics"
	"github.com/acteon-dev/acteon/internal/provider"
)

// Outcome summarizes one Dispatch's execution.
type Outcome struct {
	Success      bool
	Attempts     int
	LastResult   provider.Result
	LastErr      error
	DeadLettered bool
}

// Executor runs a single action against its provider with retry,
// concurrency limiting and circuit breaking.
type Executor struct {
	registry    *provider.Registry
	policy      RetryPolicy
	sem         *semaphore.Weighted
	breakers    map[string]*gobreaker.CircuitBreaker
	dlqSink     dlq.Sink
	metrics     *metrics.GatewayMetrics
	callTimeout time.Duration
	log         logr.Logger
}

// Config configures a new Executor.
type Config struct {
	Registry       *provider.Registry
	Policy         RetryPolicy
	MaxConcurrency int64
	DLQ            dlq.Sink
	Metrics        *metrics.GatewayMetrics
	CallTimeout    time.Duration
	Log            logr.Logger
}

func New(cfg Config) *Executor {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 64
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.Policy == (RetryPolicy{}) {
		cfg.Policy = DefaultRetryPolicy()
	}
	return &Executor{
		registry:    cfg.Registry,
		policy:      cfg.Policy,
		sem:         semaphore.NewWeighted(cfg.MaxConcurrency),
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
		dlqSink:     cfg.DLQ,
		metrics:     cfg.Metrics,
		callTimeout: cfg.CallTimeout,
		log:         cfg.Log,
	}
}

func (e *Executor) breakerFor(providerName string) *gobreaker.CircuitBreaker {
	if cb, ok := e.breakers[providerName]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        providerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.metrics.RecordCircuitBreakerTrip(name, to.String())
			e.log.Info("circuit breaker state change", "provider", name, "from", from.String(), "to", to.String())
		},
	})
	e.breakers[providerName] = cb
	return cb
}

// Execute runs act against its provider, retrying on retryable failures
// up to the configured policy, and dead-lettering on exhaustion.
func (e *Executor) Execute(ctx context.Context, act *action.Action) (Outcome, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return Outcome{}, fmt.Errorf("acquire execution slot: %w", err)
	}
	defer e.sem.Release(1)

	p, err := e.registry.Get(act.Provider)
	if err != nil {
		return Outcome{}, err
	}
	breaker := e.breakerFor(act.Provider)

	var outcome Outcome
	var lastErr error
	start := time.Now()

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		outcome.Attempts = attempt

		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		result, cbErr := breaker.Execute(func() (interface{}, error) {
			return p.Execute(callCtx, act)
		})
		cancel()

		if cbErr == nil {
			res := result.(provider.Result)
			outcome.LastResult = res
			if res.Success {
				outcome.Success = true
				e.metrics.RecordDispatch(act.Provider, "executed", time.Since(start))
				return outcome, nil
			}
			lastErr = fmt.Errorf("provider %q returned failure status %d", act.Provider, res.StatusCode)
			if !res.Retryable {
				break
			}
		} else {
			lastErr = cbErr
			if cbErr == gobreaker.ErrOpenState || cbErr == gobreaker.ErrTooManyRequests {
				break
			}
		}

		outcome.LastErr = lastErr
		if attempt == e.policy.MaxAttempts {
			break
		}
		e.metrics.RecordRetryAttempt(act.Provider)
		delay := e.policy.NextDelay(attempt)
		select {
		case <-ctx.Done():
			outcome.LastErr = ctx.Err()
			return outcome, ctx.Err()
		case <-time.After(delay):
		}
	}

	e.metrics.RecordDispatch(act.Provider, "failed", time.Since(start))
	if e.dlqSink != nil {
		entry := dlq.Entry{
			Action:       act,
			Provider:     act.Provider,
			FailureError: lastErr.Error(),
			Attempts:     outcome.Attempts,
			FirstFailAt:  start,
			LastFailAt:   time.Now(),
		}
		if pushErr := e.dlqSink.Push(ctx, entry); pushErr != nil {
			e.log.Error(pushErr, "failed to push exhausted action to dead letter sink", "action", act.ID)
		} else {
			outcome.DeadLettered = true
		}
	}
	return outcome, lastErr
}
