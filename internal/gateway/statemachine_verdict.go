package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/acteon-dev/acteon/internal/action"
	"github.com/acteon-dev/acteon/internal/fingerprint"
	"github.com/acteon-dev/acteon/internal/rules/engine"
)

// EventTimeoutIndexName is the timeout-index name the timeout worker
// scans for EventState auto-transitions.
const EventTimeoutIndexName = "event_timeouts"

// eventTimeoutRecord is the payload stored at an EventTimeout key: which
// state machine and fingerprint it belongs to, and the state to
// transition to when it fires.
type eventTimeoutRecord struct {
	StateMachine string `json:"state_machine"`
	Fingerprint  string `json:"fingerprint"`
	TransitionTo string `json:"transition_to"`
}

func (g *Gateway) handleStateMachine(ctx context.Context, act *action.Action, v engine.Verdict) (Outcome, error) {
	cfg, ok := g.statemachines.Get(v.StateMachine)
	if !ok {
		err := fmt.Errorf("gateway: state machine %q is not registered", v.StateMachine)
		return failed(ReasonConfigurationError, err), err
	}

	fp := fingerprint.Compute(act, v.FingerprintFields)
	stateKey := action.NewKey(act.Namespace, act.Tenant, action.KindEventState, fp)

	previous := cfg.InitialState
	if entry, err := g.state.Get(ctx, stateKey); err == nil {
		var es EventState
		if jsonErr := json.Unmarshal(entry.Value, &es); jsonErr == nil {
			previous = es.CurrentState
		}
	}

	if !cfg.IsTransitionAllowed(previous, v.TransitionTo) {
		return Outcome{
			Kind: OutcomeFailed, Reason: ReasonDeniedByRule, RuleName: v.RuleName,
			Detail: fmt.Sprintf("state machine %q has no transition %s -> %s", v.StateMachine, previous, v.TransitionTo),
		}, nil
	}

	now := time.Now().UTC()
	es := EventState{Fingerprint: fp, StateMachine: v.StateMachine, CurrentState: v.TransitionTo, UpdatedAt: now}
	data, err := json.Marshal(es)
	if err != nil {
		return failed(ReasonStoreError, err), fmt.Errorf("gateway: marshal event state: %w", err)
	}
	if err := g.state.Set(ctx, stateKey, data, 0); err != nil {
		return failed(ReasonStoreError, err), fmt.Errorf("gateway: persist event state: %w", err)
	}

	activeKey := action.NewKey(act.Namespace, act.Tenant, action.KindActiveEvents, fp)
	if err := g.state.Set(ctx, activeKey, data, 0); err != nil {
		g.log.Error(err, "failed to update active events index", "fingerprint", fp)
	}

	if timeout := cfg.TimeoutForState(v.TransitionTo); timeout != nil {
		rec := eventTimeoutRecord{StateMachine: v.StateMachine, Fingerprint: fp, TransitionTo: timeout.TransitionTo}
		recData, err := json.Marshal(rec)
		if err == nil {
			timeoutKey := action.NewKey(act.Namespace, act.Tenant, action.KindEventTimeout, fp)
			if err := g.state.Set(ctx, timeoutKey, recData, 0); err == nil {
				if err := g.state.IndexTimeout(ctx, EventTimeoutIndexName, timeoutKey, now.Add(timeout.After)); err != nil {
					g.log.Error(err, "failed to index event timeout", "fingerprint", fp)
				}
			}
		}
	}

	transition := cfg.GetTransition(previous, v.TransitionTo)
	notify := transition != nil && transition.On.Notify

	return Outcome{
		Kind: OutcomeStateChanged, RuleName: v.RuleName,
		Fingerprint: fp, PreviousState: previous, NewState: v.TransitionTo,
		Detail: fmt.Sprintf("notify=%v", notify),
	}, nil
}
