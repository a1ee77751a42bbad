// Package engine implements the rule evaluator (Eval) and the ordered
// RuleEngine built on top of it, producing a Verdict per Action the way
// internal/engine.Engine.Evaluate produces a Decision per tool call in the
// teacher codebase — same "sorted rules, first match wins, default
// fallthrough" shape, generalized to the gateway's richer verdict set.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/acteon-dev/acteon/internal/rules/ir"
)

// RuleSet is an immutable, priority-sorted snapshot of rules. Readers see
// one snapshot in full, never a mix of old and new rules mid-evaluation
// (§5 hot-reload semantics).
type RuleSet struct {
	rules []ir.Rule
}

// NewRuleSet sorts rules by (priority asc, declaration order asc) once,
// at construction time, so Evaluate never re-sorts per call.
func NewRuleSet(rules []ir.Rule) *RuleSet {
	sorted := make([]ir.Rule, len(rules))
	copy(sorted, rules)
	for i := range sorted {
		sorted[i].DeclIndex = i
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].DeclIndex < sorted[j].DeclIndex
	})
	return &RuleSet{rules: sorted}
}

func (r *RuleSet) Rules() []ir.Rule { return r.rules }

// RuleEngine evaluates an action's EvalContext against the active
// RuleSet. The active set is held behind an atomic.Pointer so SwapRules
// can publish a new snapshot without readers ever observing a partial
// update.
type RuleEngine struct {
	active      atomic.Pointer[RuleSet]
	log         logr.Logger
	failClosed  bool
}

func NewRuleEngine(rules []ir.Rule, log logr.Logger) *RuleEngine {
	e := &RuleEngine{log: log}
	e.active.Store(NewRuleSet(rules))
	return e
}

// WithFailClosed controls whether a per-rule evaluation error is skipped
// (default, fail-open) or aborts the whole evaluation with VerdictDeny.
func (e *RuleEngine) WithFailClosed(v bool) *RuleEngine {
	e.failClosed = v
	return e
}

// SwapRules atomically publishes a new rule snapshot for hot reload.
func (e *RuleEngine) SwapRules(rules []ir.Rule) {
	e.active.Store(NewRuleSet(rules))
}

// EvalTrace records every rule considered during a dry-run/trace
// evaluation, in evaluation order.
type EvalTrace struct {
	RuleName string
	Matched  bool
	Err      error
}

// Evaluate runs rules in (priority, declaration) order, returning the
// first match's verdict, or VerdictAllow with an empty RuleName if none
// match. A per-rule condition-evaluation error is logged and the rule is
// skipped (fail-open) unless WithFailClosed(true) was set, in which case
// it aborts evaluation with VerdictDeny.
func (e *RuleEngine) Evaluate(ctx context.Context, ec *EvalContext) (Verdict, error) {
	v, _, err := e.evaluate(ctx, ec, false)
	return v, err
}

// Trace evaluates every rule (ignoring first-match-wins) and returns both
// the verdict that would have been produced and the full trace, for
// dry-run/debugging use.
func (e *RuleEngine) Trace(ctx context.Context, ec *EvalContext) (Verdict, []EvalTrace, error) {
	return e.evaluate(ctx, ec, true)
}

func (e *RuleEngine) evaluate(ctx context.Context, ec *EvalContext, trace bool) (Verdict, []EvalTrace, error) {
	set := e.active.Load()
	var traces []EvalTrace
	var verdict *Verdict

	for _, rule := range set.rules {
		result, err := Eval(ctx, ec, rule.Condition)
		if err != nil {
			if trace {
				traces = append(traces, EvalTrace{RuleName: rule.Name, Err: err})
			}
			e.log.V(1).Info("rule condition evaluation failed, skipping rule", "rule", rule.Name, "error", err.Error())
			if e.failClosed {
				return Verdict{Kind: VerdictDeny, RuleName: rule.Name, DenyReason: fmt.Sprintf("rule %q failed to evaluate: %v", rule.Name, err)}, traces, nil
			}
			continue
		}
		matched := result.IsTruthy()
		if trace {
			traces = append(traces, EvalTrace{RuleName: rule.Name, Matched: matched})
		}
		if matched && verdict == nil {
			v := actionToVerdict(rule.Name, rule.Action)
			verdict = &v
			if !trace {
				return v, nil, nil
			}
		}
	}

	if verdict != nil {
		return *verdict, traces, nil
	}
	return Verdict{Kind: VerdictAllow}, traces, nil
}
