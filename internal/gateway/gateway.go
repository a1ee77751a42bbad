package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/acteon-dev/acteon/internal/action"
	"github.com/acteon-dev/acteon/internal/approval"
	"github.com/acteon-dev/acteon/internal/audit"
	"github.com/acteon-dev/acteon/internal/chain"
	"github.com/acteon-dev/acteon/internal/events"
	"github.com/acteon-dev/acteon/internal/executor"
	"github.com/acteon-dev/acteon/internal/metrics"
	"github.com/acteon-dev/acteon/internal/provider"
	"github.com/acteon-dev/acteon/internal/rules/engine"
	"github.com/acteon-dev/acteon/internal/statemachine"
	"github.com/acteon-dev/acteon/internal/store"
)

// defaultDedupTTL is used for the implicit caller dedup check (Step 2)
// when no rule-provided Deduplicate verdict overrides it (§ Open
// Question 1: rule TTL wins when both apply).
const defaultDedupTTL = time.Hour

// AttachmentResolver fetches the bytes behind an Action.Attachments
// reference for providers that opt into receiving them (§3 addition).
type AttachmentResolver interface {
	Resolve(ctx context.Context, ref action.AttachmentRef) ([]byte, error)
}

// Gateway orchestrates one dispatch end to end: lock, dedup, rule
// evaluation, verdict handling, execution, audit.
type Gateway struct {
	state     store.StateStore
	lock      store.DistributedLock
	engine    *engine.RuleEngine
	providers *provider.Registry
	executor  *executor.Executor

	environment   map[string]string
	audit         audit.Sink
	metrics       *metrics.GatewayMetrics
	log           logr.Logger
	embedding     engine.EmbeddingEvaluator
	wasm          engine.WasmRuntime
	statemachines *statemachine.Registry
	chains        *chain.Registry
	approvals     *approval.Manager
	attachments   AttachmentResolver
	events        *events.Bus

	lockTTL  time.Duration
	lockWait time.Duration
}

// Dispatch runs the full pipeline (§4.4 Steps 0-6) for a single action.
func (g *Gateway) Dispatch(ctx context.Context, act *action.Action) (Outcome, error) {
	return g.dispatch(ctx, act, false)
}

// DryRun runs Steps 0-4 only: it never writes to the store, never calls
// a provider, never writes an audit record, and returns the full rule
// trace alongside the verdict that would have been chosen.
func (g *Gateway) DryRun(ctx context.Context, act *action.Action) (Outcome, error) {
	return g.dispatch(ctx, act, true)
}

// publishEvent fans out ev on the gateway's event bus, if one was
// configured via WithEvents; a gateway built without one is a silent
// no-op, so background workers never need a nil check of their own.
func (g *Gateway) publishEvent(ctx context.Context, ev events.Event) {
	if g.events == nil {
		return
	}
	ev.At = time.Now().UTC()
	g.events.Publish(ctx, ev)
}

func (g *Gateway) dispatch(ctx context.Context, act *action.Action, dryRun bool) (Outcome, error) {
	start := time.Now()

	// Step 0 — Admission.
	if act.TraceContext == nil {
		act.TraceContext = map[string]string{}
	}
	if act.TraceContext["trace_id"] == "" {
		act.TraceContext["trace_id"] = uuid.NewString()
	}
	if err := act.Validate(); err != nil {
		return failed(ReasonConfigurationError, err), fmt.Errorf("gateway: admission failed: %w", err)
	}

	if dryRun {
		return g.dryRunTrace(ctx, act)
	}

	// Step 1 — Lock.
	lockName := lockNameFor(act)
	guard, err := g.lock.Acquire(ctx, lockName, g.lockTTL, g.lockWait)
	if err != nil {
		g.recordAudit(ctx, act, "", "failed", "lock_contended")
		return Outcome{Kind: OutcomeFailed, Reason: ReasonLockContended, Detail: err.Error()}, nil
	}
	defer func() {
		if relErr := guard.Release(ctx); relErr != nil {
			g.log.Error(relErr, "failed to release dispatch lock", "lock", lockName)
		}
	}()

	// Step 2 — Dedup check (implicit caller dedup key).
	if act.DedupKey != "" {
		key := action.NewKey(act.Namespace, act.Tenant, action.KindDedup, act.DedupKey)
		claimed, err := g.state.CheckAndSet(ctx, key, []byte("1"), defaultDedupTTL)
		if err != nil {
			return failed(ReasonStoreError, err), fmt.Errorf("gateway: dedup check: %w", err)
		}
		if !claimed {
			out := Outcome{Kind: OutcomeDeduplicated}
			g.finish(ctx, act, "", out, start)
			return out, nil
		}
	}

	// Step 3 — Rule evaluation.
	ec := g.evalContext(act)
	verdict, err := g.engine.Evaluate(ctx, ec)
	if err != nil {
		return failed(ReasonRuleEvaluationError, err), fmt.Errorf("gateway: rule evaluation: %w", err)
	}
	g.metrics.RecordRuleMatch(verdict.RuleName)

	// Step 4 — Verdict handling, Step 5 — Execute (where applicable).
	out, err := g.handleVerdict(ctx, act, verdict)
	if err != nil {
		if out.Kind == OutcomeExecuted && out.Reason == "" {
			out = failed(ReasonStoreError, err)
		}
		return out, err
	}

	// Step 6 — Audit and release (release happens in the deferred call).
	g.finish(ctx, act, verdict.RuleName, out, start)
	return out, nil
}

func lockNameFor(act *action.Action) string {
	if act.DedupKey != "" {
		return action.NewKey(act.Namespace, act.Tenant, action.KindLock, act.DedupKey).String()
	}
	return action.NewKey(act.Namespace, act.Tenant, action.KindLock, act.ID).String()
}

func (g *Gateway) evalContext(act *action.Action) *engine.EvalContext {
	ec := engine.NewEvalContext(act, g.state, g.environment)
	if g.embedding != nil {
		ec.WithEmbedding(g.embedding)
	}
	if g.wasm != nil {
		ec.WithWasm(g.wasm)
	}
	return ec
}

func (g *Gateway) finish(ctx context.Context, act *action.Action, ruleName string, out Outcome, start time.Time) {
	g.metrics.RecordDispatch(act.Provider, out.Kind.String(), time.Since(start))
	g.recordAudit(ctx, act, ruleName, out.Kind.String(), out.Detail)
}

func (g *Gateway) recordAudit(ctx context.Context, act *action.Action, ruleName, outcome, detail string) {
	rec := audit.Record{
		ActionID:  act.ID,
		Namespace: act.Namespace,
		Tenant:    act.Tenant,
		Provider:  act.Provider,
		RuleName:  ruleName,
		Verdict:   ruleName,
		Outcome:   outcome,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}
	if err := g.audit.Record(ctx, rec); err != nil {
		g.log.Error(err, "failed to write audit record", "action", act.ID)
	}
}

// execute runs act's (possibly rerouted/modified) Action through the
// executor, translating its Outcome into the gateway's Outcome shape
// (§4.4 Step 5).
func (g *Gateway) execute(ctx context.Context, act *action.Action) (Outcome, error) {
	if _, err := g.providers.Get(act.Provider); err != nil {
		return Outcome{Kind: OutcomeFailed, Reason: ReasonUnknownProvider, Detail: err.Error()}, nil
	}
	out, err := g.executor.Execute(ctx, act)
	if out.Success {
		return Outcome{Kind: OutcomeExecuted, Result: out.LastResult, Attempts: out.Attempts}, nil
	}
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return Outcome{Kind: OutcomeFailed, Reason: ReasonProviderError, Attempts: out.Attempts, Detail: detail}, nil
}

// resolveAttachments fetches every attachment through the resolver when
// the target provider supports attachments, failing the dispatch if one
// cannot be fetched. The fetched bytes are discarded, so this call only
// validates reachability before the executor is invoked.
func (g *Gateway) resolveAttachments(ctx context.Context, act *action.Action) error {
	if g.attachments == nil || len(act.Attachments) == 0 {
		return nil
	}
	p, err := g.providers.Get(act.Provider)
	if err != nil || !p.SupportsAttachments() {
		return nil
	}
	for _, ref := range act.Attachments {
		if _, err := g.attachments.Resolve(ctx, ref); err != nil {
			return fmt.Errorf("gateway: resolve attachment %q: %w", ref.ID, err)
		}
	}
	return nil
}
