package gateway

import (
	"context"

	"github.com/acteon-dev/acteon/internal/action"
)

// dryRunTrace implements Steps 0-4 only (§4.4 DryRun): it evaluates the
// rule set and computes what a Modify verdict would do to the payload,
// but never acquires the dispatch lock, never touches the store, never
// calls a provider, and never writes an audit record.
func (g *Gateway) dryRunTrace(ctx context.Context, act *action.Action) (Outcome, error) {
	ec := g.evalContext(act)
	verdict, evalTraces, err := g.engine.Trace(ctx, ec)
	if err != nil {
		return failed(ReasonRuleEvaluationError, err), err
	}

	trace := make([]TraceEntry, 0, len(evalTraces))
	for _, t := range evalTraces {
		entry := TraceEntry{RuleName: t.RuleName, Matched: t.Matched}
		if t.Err != nil {
			entry.Err = t.Err.Error()
		}
		trace = append(trace, entry)
	}

	out := Outcome{Kind: OutcomeDryRun, RuleName: verdict.RuleName, Trace: trace}

	if len(verdict.ModifyFields) > 0 {
		// Apply against a scratch copy so the trace reflects the
		// computed modification without mutating the caller's Action.
		scratch := *act
		if applyErr := applyModify(ctx, ec, &scratch, verdict.ModifyFields); applyErr == nil {
			out.ModifiedPayload = scratch.Payload
		}
	}

	return out, nil
}
