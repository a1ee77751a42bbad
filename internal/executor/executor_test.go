package executor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/acteon-dev/acteon/internal/action"
	"github.com/acteon-dev/acteon/internal/dlq"
	"github.com/acteon-dev/acteon/internal/metrics"
	"github.com/acteon-dev/acteon/internal/provider"
)

type fakeProvider struct {
	name       string
	failTimes  int
	calls      int32
	retryable  bool
	supportsAt bool
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) SupportsAttachments() bool { return f.supportsAt }
func (f *fakeProvider) HealthCheck(ctx context.Context) error { return nil }

func (f *fakeProvider) Execute(ctx context.Context, act *action.Action) (provider.Result, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if int(n) <= f.failTimes {
		return provider.Result{Success: false, Retryable: f.retryable, StatusCode: 500}, nil
	}
	return provider.Result{Success: true, StatusCode: 200}, nil
}

func newTestExecutor(p provider.Provider, sink dlq.Sink) *Executor {
	reg := provider.NewRegistry()
	reg.Register(p)
	return New(Config{
		Registry:       reg,
		Policy:         RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, Kind: BackoffConstant},
		MaxConcurrency: 4,
		DLQ:            sink,
		Metrics:        metrics.NoOp(),
		CallTimeout:    time.Second,
		Log:            logr.Discard(),
	})
}

func TestExecuteSucceedsOnFirstAttempt(t *testing.T) {
	p := &fakeProvider{name: "webhook"}
	e := newTestExecutor(p, dlq.NewMemorySink())

	act := action.New("ns", "tenant", "webhook", "notify", []byte(`{}`))
	outcome, err := e.Execute(context.Background(), act)
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.Success || outcome.Attempts != 1 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	p := &fakeProvider{name: "webhook", failTimes: 2, retryable: true}
	e := newTestExecutor(p, dlq.NewMemorySink())

	act := action.New("ns", "tenant", "webhook", "notify", []byte(`{}`))
	outcome, err := e.Execute(context.Background(), act)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Attempts != 3 {
		t.Fatalf("want 3 attempts got %d", outcome.Attempts)
	}
}

func TestExecuteExhaustsAndDeadLetters(t *testing.T) {
	p := &fakeProvider{name: "webhook", failTimes: 99, retryable: true}
	sink := dlq.NewMemorySink()
	e := newTestExecutor(p, sink)

	act := action.New("ns", "tenant", "webhook", "notify", []byte(`{}`))
	outcome, err := e.Execute(context.Background(), act)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !outcome.DeadLettered {
		t.Fatal("expected action to be dead lettered")
	}
	depth, _ := sink.Depth(context.Background())
	if depth != 1 {
		t.Fatalf("want dlq depth 1 got %d", depth)
	}
}

func TestExecuteDoesNotRetryNonRetryableFailure(t *testing.T) {
	p := &fakeProvider{name: "webhook", failTimes: 99, retryable: false}
	e := newTestExecutor(p, dlq.NewMemorySink())

	act := action.New("ns", "tenant", "webhook", "notify", []byte(`{}`))
	outcome, err := e.Execute(context.Background(), act)
	if err == nil {
		t.Fatal("expected error")
	}
	if outcome.Attempts != 1 {
		t.Fatalf("want 1 attempt for non-retryable failure got %d", outcome.Attempts)
	}
}

func TestExecuteUnknownProviderFails(t *testing.T) {
	e := newTestExecutor(&fakeProvider{name: "webhook"}, dlq.NewMemorySink())
	act := action.New("ns", "tenant", "does-not-exist", "notify", []byte(`{}`))
	if _, err := e.Execute(context.Background(), act); err == nil {
		t.Fatal("expected unknown provider error")
	}
}
