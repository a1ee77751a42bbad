package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/acteon-dev/acteon/internal/action"
	"github.com/acteon-dev/acteon/internal/chain"
	"github.com/acteon-dev/acteon/internal/provider"
	"github.com/acteon-dev/acteon/internal/rules/ir"
	"github.com/acteon-dev/acteon/internal/store/memory"
)

// recordingProvider counts how many times Execute ran, for asserting
// suppress/dedupe/throttle verdicts never reach the provider.
type recordingProvider struct {
	name  string
	calls int
}

func (p *recordingProvider) Name() string { return p.name }
func (p *recordingProvider) Execute(_ context.Context, _ *action.Action) (provider.Result, error) {
	p.calls++
	return provider.Result{Success: true, StatusCode: 200}, nil
}
func (p *recordingProvider) HealthCheck(_ context.Context) error { return nil }
func (p *recordingProvider) SupportsAttachments() bool           { return false }

func newTestAction(t *testing.T, dedupKey string) *action.Action {
	t.Helper()
	a := action.New("ns", "tenant-a", "webhook", "order.created", json.RawMessage(`{"amount":100}`))
	a.DedupKey = dedupKey
	return a
}

func newTestGateway(t *testing.T, rules []ir.Rule, prov *recordingProvider) *Gateway {
	t.Helper()
	gw, err := NewBuilder().
		WithState(memory.New()).
		WithLock(memory.NewLock()).
		WithRules(rules).
		WithProvider(prov).
		WithLockTiming(time.Second, time.Second).
		Build()
	if err != nil {
		t.Fatalf("build gateway: %v", err)
	}
	return gw
}

func TestDispatchAllowExecutes(t *testing.T) {
	prov := &recordingProvider{name: "webhook"}
	gw := newTestGateway(t, nil, prov)

	out, err := gw.Dispatch(context.Background(), newTestAction(t, ""))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if out.Kind != OutcomeExecuted {
		t.Fatalf("expected OutcomeExecuted, got %v", out.Kind)
	}
	if prov.calls != 1 {
		t.Fatalf("expected 1 provider call, got %d", prov.calls)
	}
}

func TestDispatchDenyNeverExecutes(t *testing.T) {
	prov := &recordingProvider{name: "webhook"}
	rules := []ir.Rule{{
		Name:      "deny-all",
		Priority:  0,
		Condition: ir.BoolLit(true),
		Action:    ir.RuleAction{Kind: ir.ActionDeny, DenyReason: "blocked by policy"},
	}}
	gw := newTestGateway(t, rules, prov)

	out, err := gw.Dispatch(context.Background(), newTestAction(t, ""))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if out.Kind != OutcomeFailed || out.Reason != ReasonDeniedByRule {
		t.Fatalf("expected denied failure, got %+v", out)
	}
	if prov.calls != 0 {
		t.Fatalf("expected 0 provider calls, got %d", prov.calls)
	}
}

func TestDispatchSuppressNeverExecutes(t *testing.T) {
	prov := &recordingProvider{name: "webhook"}
	rules := []ir.Rule{{
		Name:      "suppress-all",
		Priority:  0,
		Condition: ir.BoolLit(true),
		Action:    ir.RuleAction{Kind: ir.ActionSuppress, SuppressReason: "noisy"},
	}}
	gw := newTestGateway(t, rules, prov)

	out, err := gw.Dispatch(context.Background(), newTestAction(t, ""))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if out.Kind != OutcomeSuppressed {
		t.Fatalf("expected OutcomeSuppressed, got %+v", out)
	}
	if prov.calls != 0 {
		t.Fatalf("expected 0 provider calls, got %d", prov.calls)
	}
}

func TestDispatchDeduplicateSecondCallSkipsExecution(t *testing.T) {
	prov := &recordingProvider{name: "webhook"}
	rules := []ir.Rule{{
		Name:      "dedupe-all",
		Priority:  0,
		Condition: ir.BoolLit(true),
		Action:    ir.RuleAction{Kind: ir.ActionDeduplicate, DedupKey: "order.created", DedupTTL: time.Minute},
	}}
	gw := newTestGateway(t, rules, prov)

	first, err := gw.Dispatch(context.Background(), newTestAction(t, ""))
	if err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if first.Kind != OutcomeExecuted {
		t.Fatalf("expected first dispatch to execute, got %v", first.Kind)
	}

	second, err := gw.Dispatch(context.Background(), newTestAction(t, ""))
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if second.Kind != OutcomeDeduplicated {
		t.Fatalf("expected OutcomeDeduplicated, got %+v", second.Kind)
	}
	if prov.calls != 1 {
		t.Fatalf("expected exactly 1 provider call across both dispatches, got %d", prov.calls)
	}
}

func TestDispatchThrottleBlocksAfterLimit(t *testing.T) {
	prov := &recordingProvider{name: "webhook"}
	rules := []ir.Rule{{
		Name:      "throttle-all",
		Priority:  0,
		Condition: ir.BoolLit(true),
		Action:    ir.RuleAction{Kind: ir.ActionThrottle, ThrottleLimit: 1, ThrottleWindow: time.Minute},
	}}
	gw := newTestGateway(t, rules, prov)

	for i := 0; i < 1; i++ {
		out, err := gw.Dispatch(context.Background(), newTestAction(t, ""))
		if err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
		if out.Kind != OutcomeExecuted {
			t.Fatalf("dispatch %d: expected OutcomeExecuted, got %v", i, out.Kind)
		}
	}

	out, err := gw.Dispatch(context.Background(), newTestAction(t, ""))
	if err != nil {
		t.Fatalf("throttled dispatch: %v", err)
	}
	if out.Kind != OutcomeThrottled {
		t.Fatalf("expected OutcomeThrottled once limit is exceeded, got %+v", out)
	}
}

func TestDispatchRerouteSendsThroughNewProvider(t *testing.T) {
	email := &recordingProvider{name: "email"}
	sms := &recordingProvider{name: "sms"}
	rules := []ir.Rule{{
		Name:     "reroute-high-priority",
		Priority: 0,
		Condition: ir.Binary(ir.OpGt,
			ir.Field(ir.Field(ir.Ident("action"), "payload"), "priority"),
			ir.IntLit(9),
		),
		Action: ir.RuleAction{Kind: ir.ActionReroute, RerouteProvider: "sms"},
	}}
	gw, err := NewBuilder().
		WithState(memory.New()).
		WithLock(memory.NewLock()).
		WithRules(rules).
		WithProvider(email).
		WithProvider(sms).
		WithLockTiming(time.Second, time.Second).
		Build()
	if err != nil {
		t.Fatalf("build gateway: %v", err)
	}

	high := action.New("ns", "tenant-a", "email", "order.created", json.RawMessage(`{"priority":10}`))
	out, err := gw.Dispatch(context.Background(), high)
	if err != nil {
		t.Fatalf("dispatch high priority: %v", err)
	}
	if out.Kind != OutcomeRerouted || out.OriginalProvider != "email" || out.NewProvider != "sms" {
		t.Fatalf("expected Rerouted email->sms, got %+v", out)
	}

	low := action.New("ns", "tenant-a", "email", "order.created", json.RawMessage(`{"priority":1}`))
	out, err = gw.Dispatch(context.Background(), low)
	if err != nil {
		t.Fatalf("dispatch low priority: %v", err)
	}
	if out.Kind != OutcomeExecuted {
		t.Fatalf("expected OutcomeExecuted for low priority, got %+v", out)
	}

	if email.calls != 1 {
		t.Fatalf("expected 1 email provider call, got %d", email.calls)
	}
	if sms.calls != 1 {
		t.Fatalf("expected 1 sms provider call, got %d", sms.calls)
	}
}

func TestDispatchChainStartsExecution(t *testing.T) {
	prov := &recordingProvider{name: "webhook"}
	rules := []ir.Rule{{
		Name:      "start-onboarding-chain",
		Priority:  0,
		Condition: ir.BoolLit(true),
		Action:    ir.RuleAction{Kind: ir.ActionChain, ChainName: "onboarding"},
	}}
	def := chain.NewDefinition("onboarding", "send-welcome").
		WithStep(chain.Step{Name: "send-welcome", Kind: chain.StepSimple, Provider: "webhook", ActionType: "welcome"})

	gw, err := NewBuilder().
		WithState(memory.New()).
		WithLock(memory.NewLock()).
		WithRules(rules).
		WithProvider(prov).
		WithChain(def).
		WithLockTiming(time.Second, time.Second).
		Build()
	if err != nil {
		t.Fatalf("build gateway: %v", err)
	}

	out, err := gw.Dispatch(context.Background(), newTestAction(t, ""))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if out.Kind != OutcomeChainStarted {
		t.Fatalf("expected OutcomeChainStarted, got %+v", out)
	}
	if out.ChainName != "onboarding" || out.FirstStep != "send-welcome" {
		t.Fatalf("unexpected chain start outcome: %+v", out)
	}
	if out.ChainID == "" {
		t.Fatal("expected a non-empty chain execution id")
	}
	if prov.calls != 0 {
		t.Fatalf("chain start must not itself call a provider, got %d calls", prov.calls)
	}
}

func TestDryRunNeverExecutesOrWritesAudit(t *testing.T) {
	prov := &recordingProvider{name: "webhook"}
	rules := []ir.Rule{{
		Name:      "deny-all",
		Priority:  0,
		Condition: ir.BoolLit(true),
		Action:    ir.RuleAction{Kind: ir.ActionDeny, DenyReason: "blocked"},
	}}
	gw := newTestGateway(t, rules, prov)

	out, err := gw.DryRun(context.Background(), newTestAction(t, ""))
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if out.Kind != OutcomeDryRun {
		t.Fatalf("expected OutcomeDryRun, got %v", out.Kind)
	}
	if len(out.Trace) == 0 {
		t.Fatal("expected at least one rule trace entry")
	}
	if prov.calls != 0 {
		t.Fatalf("dry run must never call a provider, got %d calls", prov.calls)
	}
}
