package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/acteon-dev/acteon/internal/action"
	"github.com/acteon-dev/acteon/internal/chain"
	"github.com/acteon-dev/acteon/internal/events"
	"github.com/acteon-dev/acteon/internal/rules/ir"
	"github.com/acteon-dev/acteon/internal/store"
)

func parseCronSchedule(expr string) (cron.Schedule, error) {
	return cron.ParseStandard(expr)
}

// chainDispatcher adapts Gateway.Dispatch to chain.Dispatcher's narrow,
// import-cycle-free signature: chain cannot see gateway.Outcome, so the
// concrete result is boxed as interface{} at this single call site.
type chainDispatcher struct{ g *Gateway }

func (d chainDispatcher) Dispatch(ctx context.Context, act *action.Action) (interface{}, error) {
	return d.g.Dispatch(ctx, act)
}

var _ chain.Dispatcher = chainDispatcher{}

// ProcessEventTimeouts fires pending state-machine timeouts: each due
// entry auto-transitions its EventState the way an explicit
// StateMachine verdict would, then drops the fired timeout record
// (§4.6 background timeout worker, grounded on the original
// workers/timeout.rs detect-decrypt-transition-delete sequence).
func (g *Gateway) ProcessEventTimeouts(ctx context.Context, limit int) (int, error) {
	due, err := g.state.PopDueTimeouts(ctx, EventTimeoutIndexName, time.Now().UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("gateway: pop due event timeouts: %w", err)
	}

	fired := 0
	for _, key := range due {
		entry, err := g.state.Get(ctx, key)
		if err != nil {
			continue // already cleaned up by a concurrent instance
		}
		var rec eventTimeoutRecord
		if err := json.Unmarshal(entry.Value, &rec); err != nil {
			g.log.Error(err, "failed to decode event timeout record", "fingerprint", key.ID)
			continue
		}

		now := time.Now().UTC()
		es := EventState{Fingerprint: rec.Fingerprint, StateMachine: rec.StateMachine, CurrentState: rec.TransitionTo, UpdatedAt: now}
		data, err := json.Marshal(es)
		if err != nil {
			g.log.Error(err, "failed to marshal timeout-driven event state", "fingerprint", key.ID)
			continue
		}
		stateKey := action.NewKey(key.Namespace, key.Tenant, action.KindEventState, key.ID)
		if err := g.state.Set(ctx, stateKey, data, 0); err != nil {
			g.log.Error(err, "failed to persist timeout-driven event state", "fingerprint", key.ID)
			continue
		}
		activeKey := action.NewKey(key.Namespace, key.Tenant, action.KindActiveEvents, key.ID)
		_ = g.state.Set(ctx, activeKey, data, 0)

		_ = g.state.Delete(ctx, key)
		g.publishEvent(ctx, events.Event{Kind: events.KindTimeoutFired, Namespace: key.Namespace, Tenant: key.Tenant, Detail: key.ID})
		fired++
	}
	return fired, nil
}

// ProcessDueGroups flushes every EventGroup whose notify window has
// elapsed, the same flush a Group verdict performs inline when it
// observes its own window has already passed (§4.6 background
// group-flush worker).
func (g *Gateway) ProcessDueGroups(ctx context.Context, limit int) (int, error) {
	due, err := g.state.PopDueTimeouts(ctx, pendingGroupsIndex, time.Now().UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("gateway: pop due groups: %w", err)
	}

	flushed := 0
	for _, pendingKey := range due {
		key := action.NewKey(pendingKey.Namespace, pendingKey.Tenant, action.KindGroup, pendingKey.ID)
		entry, err := g.state.Get(ctx, key)
		if err != nil {
			continue
		}
		var eg EventGroup
		if err := json.Unmarshal(entry.Value, &eg); err != nil {
			g.log.Error(err, "failed to decode due group", "group", pendingKey.ID)
			continue
		}
		if eg.Status != GroupOpen {
			continue // already flushed by a concurrent dispatch's inline check
		}
		placeholder := action.New(pendingKey.Namespace, pendingKey.Tenant, eg.Provider, "group_flush", nil)
		if _, err := g.flushGroup(ctx, placeholder, key, pendingKey, eg, eg.RuleName); err != nil {
			g.log.Error(err, "failed to flush due group", "group", pendingKey.ID)
			continue
		}
		g.publishEvent(ctx, events.Event{Kind: events.KindGroupFlushed, Namespace: pendingKey.Namespace, Tenant: pendingKey.Tenant, Detail: pendingKey.ID})
		flushed++
	}
	return flushed, nil
}

// ProcessDueScheduled dispatches every ScheduledAction whose fire time
// has passed. A short-TTL claim key guards against two instances
// dispatching the same scheduled action when both poll at once,
// mirroring workers/scheduled.rs's check-and-set claim (§4.6).
func (g *Gateway) ProcessDueScheduled(ctx context.Context, limit int) (int, error) {
	due, err := g.state.PopDueTimeouts(ctx, pendingScheduledIndex, time.Now().UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("gateway: pop due scheduled actions: %w", err)
	}

	dispatched := 0
	for _, pendingKey := range due {
		claimKey := action.NewKey(pendingKey.Namespace, pendingKey.Tenant, action.KindScheduledAction, pendingKey.ID+":claim")
		claimed, err := g.state.CheckAndSet(ctx, claimKey, []byte("1"), claimTTL)
		if err != nil || !claimed {
			continue // another instance already holds the claim
		}

		recordKey := action.NewKey(pendingKey.Namespace, pendingKey.Tenant, action.KindScheduledAction, pendingKey.ID)
		entry, err := g.state.Get(ctx, recordKey)
		if err == store.ErrNotFound {
			continue // already dispatched and cleaned up
		}
		if err != nil {
			g.log.Error(err, "failed to load scheduled action", "id", pendingKey.ID)
			continue
		}
		var rec scheduledActionRecord
		if err := json.Unmarshal(entry.Value, &rec); err != nil {
			g.log.Error(err, "failed to decode scheduled action", "id", pendingKey.ID)
			continue
		}

		if _, err := g.Dispatch(ctx, rec.Action); err != nil {
			g.log.Error(err, "scheduled action dispatch failed, will retry once claim expires", "id", pendingKey.ID)
			if idxErr := g.state.IndexTimeout(ctx, pendingScheduledIndex, pendingKey, time.Now().UTC().Add(claimTTL)); idxErr != nil {
				g.log.Error(idxErr, "failed to re-index scheduled action", "id", pendingKey.ID)
			}
			continue
		}
		_ = g.state.Delete(ctx, recordKey)
		g.publishEvent(ctx, events.Event{Kind: events.KindScheduledDue, Namespace: pendingKey.Namespace, Tenant: pendingKey.Tenant, Detail: pendingKey.ID})
		dispatched++
	}
	return dispatched, nil
}

// ProcessDueRecurring dispatches every RecurringAction due to fire,
// re-indexing it at its next cron occurrence unless it has been
// disabled or its end date has passed (§4.6). A five-second
// last-fired guard mirrors recurring.rs's double-dispatch safeguard.
func (g *Gateway) ProcessDueRecurring(ctx context.Context, limit int) (int, error) {
	due, err := g.state.PopDueTimeouts(ctx, pendingRecurringIndex, time.Now().UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("gateway: pop due recurring actions: %w", err)
	}

	dispatched := 0
	for _, pendingKey := range due {
		claimKey := action.NewKey(pendingKey.Namespace, pendingKey.Tenant, action.KindRecurringAction, pendingKey.ID+":claim")
		claimed, err := g.state.CheckAndSet(ctx, claimKey, []byte("1"), claimTTL)
		if err != nil || !claimed {
			continue
		}

		recordKey := action.NewKey(pendingKey.Namespace, pendingKey.Tenant, action.KindRecurringAction, pendingKey.ID)
		entry, err := g.state.Get(ctx, recordKey)
		if err != nil {
			continue // deleted or never existed; nothing left to reschedule
		}
		var rec recurringActionRecord
		if err := json.Unmarshal(entry.Value, &rec); err != nil {
			g.log.Error(err, "failed to decode recurring action", "id", pendingKey.ID)
			continue
		}

		now := time.Now().UTC()
		if !rec.Enabled || (rec.EndsAt != nil && now.After(*rec.EndsAt)) {
			continue // disabled or expired; drop it, do not reschedule
		}
		if rec.LastExecutedAt != nil && now.Sub(*rec.LastExecutedAt) < 5*time.Second {
			// Fired moments ago by a racing instance; reschedule for the
			// next occurrence without dispatching again.
			if !g.reindexRecurring(ctx, pendingKey, rec) {
				g.log.Error(fmt.Errorf("reindex failed"), "failed to reschedule recurring action", "id", pendingKey.ID)
			}
			continue
		}

		if _, err := g.Dispatch(ctx, rec.Action); err != nil {
			g.log.Error(err, "recurring action dispatch failed", "id", pendingKey.ID)
		} else {
			g.publishEvent(ctx, events.Event{Kind: events.KindRecurringDue, Namespace: pendingKey.Namespace, Tenant: pendingKey.Tenant, Detail: pendingKey.ID})
			dispatched++
		}

		rec.LastExecutedAt = &now
		data, err := json.Marshal(rec)
		if err == nil {
			_ = g.state.Set(ctx, recordKey, data, 0)
		}
		g.reindexRecurring(ctx, pendingKey, rec)
	}
	return dispatched, nil
}

func (g *Gateway) reindexRecurring(ctx context.Context, pendingKey action.StateKey, rec recurringActionRecord) bool {
	schedule, err := parseCronSchedule(rec.CronExpr)
	if err != nil {
		g.log.Error(err, "failed to parse recurring action cron expression", "id", pendingKey.ID)
		return false
	}
	next := schedule.Next(time.Now().UTC())
	if rec.EndsAt != nil && next.After(*rec.EndsAt) {
		return false // no further occurrences before the end date
	}
	if err := g.state.IndexTimeout(ctx, pendingRecurringIndex, pendingKey, next); err != nil {
		g.log.Error(err, "failed to reindex recurring action", "id", pendingKey.ID)
		return false
	}
	return true
}

// ProcessDueChains advances every chain.Execution whose next step is
// ready to run: it renders the step's payload against the execution's
// variable bag, dispatches it through the gateway, resolves the
// following step via branch evaluation, and persists the result,
// re-indexing for immediate pickup unless the chain just terminated.
func (g *Gateway) ProcessDueChains(ctx context.Context, limit int) (int, error) {
	due, err := g.state.PopDueTimeouts(ctx, pendingChainsIndex, time.Now().UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("gateway: pop due chains: %w", err)
	}

	disp := chainDispatcher{g}
	advanced := 0
	for _, pendingKey := range due {
		execKey := action.NewKey(pendingKey.Namespace, pendingKey.Tenant, action.KindChain, pendingKey.ID)
		entry, err := g.state.Get(ctx, execKey)
		if err != nil {
			continue
		}
		var exec chain.Execution
		if err := exec.UnmarshalJSON(entry.Value); err != nil {
			g.log.Error(err, "failed to decode chain execution", "chain", pendingKey.ID)
			continue
		}
		if exec.IsTerminal() {
			continue
		}
		if exec.CancelFlag {
			exec.Status = chain.StatusCancelled
			exec.UpdatedAt = time.Now().UTC()
			g.persistChain(ctx, execKey, &exec)
			continue
		}

		def, ok := g.chains.Get(exec.ChainName)
		if !ok {
			exec.Status = chain.StatusFailed
			exec.Error = fmt.Sprintf("chain %q is no longer registered", exec.ChainName)
			exec.UpdatedAt = time.Now().UTC()
			g.persistChain(ctx, execKey, &exec)
			continue
		}
		step, ok := def.Steps[exec.CurrentStep]
		if !ok {
			exec.Status = chain.StatusFailed
			exec.Error = fmt.Sprintf("step %q is not defined in chain %q", exec.CurrentStep, exec.ChainName)
			exec.UpdatedAt = time.Now().UTC()
			g.persistChain(ctx, execKey, &exec)
			continue
		}

		if step.PayloadTemplate.Kind != ir.ExprNull || step.Provider != "" {
			payload, err := chain.RenderPayload(ctx, &exec, step.PayloadTemplate)
			if err != nil {
				g.log.Error(err, "failed to render chain step payload", "chain", exec.ID, "step", step.Name)
			}
			stepAction := action.New(pendingKey.Namespace, pendingKey.Tenant, step.Provider, step.ActionType, payload)
			if _, err := disp.Dispatch(ctx, stepAction); err != nil {
				exec.Status = chain.StatusFailed
				exec.Error = err.Error()
				exec.UpdatedAt = time.Now().UTC()
				g.persistChain(ctx, execKey, &exec)
				continue
			}
		}

		next, err := chain.NextStep(ctx, def, step, &exec)
		if err != nil {
			exec.Status = chain.StatusFailed
			exec.Error = err.Error()
			exec.UpdatedAt = time.Now().UTC()
			g.persistChain(ctx, execKey, &exec)
			continue
		}

		exec.UpdatedAt = time.Now().UTC()
		if next == "" {
			exec.Status = chain.StatusCompleted
			g.persistChain(ctx, execKey, &exec)
			g.publishEvent(ctx, events.Event{Kind: events.KindChainTerminated, Namespace: pendingKey.Namespace, Tenant: pendingKey.Tenant, Detail: exec.ID})
		} else {
			exec.CurrentStep = next
			g.persistChain(ctx, execKey, &exec)
			if err := g.state.IndexTimeout(ctx, pendingChainsIndex, pendingKey, time.Now().UTC()); err != nil {
				g.log.Error(err, "failed to reindex chain for its next step", "chain", exec.ID)
			}
			g.publishEvent(ctx, events.Event{Kind: events.KindChainAdvanced, Namespace: pendingKey.Namespace, Tenant: pendingKey.Tenant, Detail: exec.ID})
		}
		advanced++
	}
	return advanced, nil
}

func (g *Gateway) persistChain(ctx context.Context, key action.StateKey, exec *chain.Execution) {
	data, err := exec.MarshalJSON()
	if err != nil {
		g.log.Error(err, "failed to marshal chain execution", "chain", exec.ID)
		return
	}
	if err := g.state.Set(ctx, key, data, 0); err != nil {
		g.log.Error(err, "failed to persist chain execution", "chain", exec.ID)
	}
}
