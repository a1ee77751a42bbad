package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/acteon-dev/acteon/internal/action"
	"github.com/acteon-dev/acteon/internal/rules/engine"
)

// handleVerdict implements §4.4 Step 4's per-variant dispatch table,
// falling through to Step 5 (execute) for the variants that allow it.
func (g *Gateway) handleVerdict(ctx context.Context, act *action.Action, v engine.Verdict) (Outcome, error) {
	switch v.Kind {
	case engine.VerdictAllow:
		if err := g.resolveAttachments(ctx, act); err != nil {
			return failed(ReasonStoreError, err), err
		}
		return g.execute(ctx, act)

	case engine.VerdictDeny:
		return Outcome{Kind: OutcomeFailed, Reason: ReasonDeniedByRule, RuleName: v.RuleName, Detail: v.DenyReason}, nil

	case engine.VerdictSuppress:
		return Outcome{Kind: OutcomeSuppressed, RuleName: v.RuleName, Detail: v.SuppressReason}, nil

	case engine.VerdictDeduplicate:
		return g.handleDeduplicate(ctx, act, v)

	case engine.VerdictReroute:
		original := act.Provider
		act.Provider = v.RerouteProvider
		if err := g.resolveAttachments(ctx, act); err != nil {
			return failed(ReasonStoreError, err), err
		}
		out, err := g.execute(ctx, act)
		if err != nil {
			return out, err
		}
		out.OriginalProvider, out.NewProvider = original, v.RerouteProvider
		if out.Kind == OutcomeExecuted {
			out.Kind = OutcomeRerouted
		}
		return out, nil

	case engine.VerdictThrottle:
		return g.handleThrottle(ctx, act, v)

	case engine.VerdictModify:
		if err := applyModify(ctx, g.evalContext(act), act, v.ModifyFields); err != nil {
			return failed(ReasonRuleEvaluationError, err), fmt.Errorf("gateway: apply modify verdict: %w", err)
		}
		if err := g.resolveAttachments(ctx, act); err != nil {
			return failed(ReasonStoreError, err), err
		}
		return g.execute(ctx, act)

	case engine.VerdictStateMachine:
		return g.handleStateMachine(ctx, act, v)

	case engine.VerdictGroup:
		return g.handleGroup(ctx, act, v)

	case engine.VerdictRequestApproval:
		return g.handleRequestApproval(ctx, act, v)

	case engine.VerdictChain:
		return g.handleChainStart(ctx, act, v)

	default:
		err := fmt.Errorf("gateway: unhandled verdict kind %v", v.Kind)
		return failed(ReasonConfigurationError, err), err
	}
}

func (g *Gateway) handleDeduplicate(ctx context.Context, act *action.Action, v engine.Verdict) (Outcome, error) {
	ttl := v.DedupTTL
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	dedupKey := v.DedupKey
	if dedupKey == "" && act.DedupKey != "" {
		// Step 2 already claimed the caller's key with defaultDedupTTL;
		// re-set it with the rule's TTL (rule TTL wins) and proceed.
		key := action.NewKey(act.Namespace, act.Tenant, action.KindDedup, act.DedupKey)
		if err := g.state.Set(ctx, key, []byte("1"), ttl); err != nil {
			return failed(ReasonStoreError, err), fmt.Errorf("gateway: rule dedup ttl: %w", err)
		}
		if err := g.resolveAttachments(ctx, act); err != nil {
			return failed(ReasonStoreError, err), err
		}
		return g.execute(ctx, act)
	}
	if dedupKey == "" {
		dedupKey = act.ID
	}
	key := action.NewKey(act.Namespace, act.Tenant, action.KindDedup, dedupKey)
	claimed, err := g.state.CheckAndSet(ctx, key, []byte("1"), ttl)
	if err != nil {
		return failed(ReasonStoreError, err), fmt.Errorf("gateway: rule dedup check: %w", err)
	}
	if !claimed {
		return Outcome{Kind: OutcomeDeduplicated, RuleName: v.RuleName}, nil
	}
	if err := g.resolveAttachments(ctx, act); err != nil {
		return failed(ReasonStoreError, err), err
	}
	return g.execute(ctx, act)
}

func (g *Gateway) handleThrottle(ctx context.Context, act *action.Action, v engine.Verdict) (Outcome, error) {
	key := action.NewKey(act.Namespace, act.Tenant, action.KindRateLimit, v.RuleName)
	count, err := g.state.Increment(ctx, key, 1, v.ThrottleWindow)
	if err != nil {
		return failed(ReasonStoreError, err), fmt.Errorf("gateway: throttle counter: %w", err)
	}
	if count > v.ThrottleLimit {
		entry, getErr := g.state.Get(ctx, key)
		remaining := v.ThrottleWindow
		if getErr == nil && !entry.ExpiresAt.IsZero() {
			if d := time.Until(entry.ExpiresAt); d > 0 {
				remaining = d
			}
		}
		return Outcome{Kind: OutcomeThrottled, RuleName: v.RuleName, RetryAfter: remaining}, nil
	}
	if err := g.resolveAttachments(ctx, act); err != nil {
		return failed(ReasonStoreError, err), err
	}
	return g.execute(ctx, act)
}
