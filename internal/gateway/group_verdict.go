package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/acteon-dev/acteon/internal/action"
	"github.com/acteon-dev/acteon/internal/rules/engine"
	"github.com/acteon-dev/acteon/internal/template"
)

// maxGroupCASRetries bounds the compare-and-swap retry loop for
// concurrent appends to the same group, mirroring the executor's bounded
// retry philosophy rather than looping unboundedly under contention.
const maxGroupCASRetries = 8

func (g *Gateway) handleGroup(ctx context.Context, act *action.Action, v engine.Verdict) (Outcome, error) {
	key := action.NewKey(act.Namespace, act.Tenant, action.KindGroup, v.GroupKey)
	pendingKey := action.NewKey(act.Namespace, act.Tenant, action.KindPendingGroups, v.GroupKey)

	for attempt := 0; attempt < maxGroupCASRetries; attempt++ {
		entry, err := g.state.Get(ctx, key)
		if err != nil {
			now := time.Now().UTC()
			eg := EventGroup{
				GroupID: v.GroupKey, RuleName: v.RuleName, Provider: act.Provider, Template: v.GroupTemplate,
				Labels: v.GroupLabels, ActionIDs: []string{act.ID}, Size: 1, MaxSize: v.GroupMaxSize,
				NotifyAt: now.Add(v.GroupWindow), Status: GroupOpen, CreatedAt: now,
			}
			data, err := json.Marshal(eg)
			if err != nil {
				return failed(ReasonStoreError, err), fmt.Errorf("gateway: marshal new group: %w", err)
			}
			claimed, err := g.state.CheckAndSet(ctx, key, data, 0)
			if err != nil {
				return failed(ReasonStoreError, err), fmt.Errorf("gateway: create group: %w", err)
			}
			if !claimed {
				continue // lost the race to another dispatch creating the same group
			}
			if err := g.state.IndexTimeout(ctx, pendingGroupsIndex, pendingKey, eg.NotifyAt); err != nil {
				g.log.Error(err, "failed to index pending group", "group", v.GroupKey)
			}
			return Outcome{Kind: OutcomeGrouped, RuleName: v.RuleName, GroupID: v.GroupKey, GroupSize: 1, NotifyAt: eg.NotifyAt}, nil
		}

		var eg EventGroup
		if err := json.Unmarshal(entry.Value, &eg); err != nil {
			return failed(ReasonStoreError, err), fmt.Errorf("gateway: decode group %q: %w", v.GroupKey, err)
		}
		if eg.Status != GroupOpen {
			// Already flushing/notified under this id; start a fresh one.
			continue
		}
		eg.ActionIDs = append(eg.ActionIDs, act.ID)
		eg.Size++
		data, err := json.Marshal(eg)
		if err != nil {
			return failed(ReasonStoreError, err), fmt.Errorf("gateway: marshal appended group: %w", err)
		}
		if _, err := g.state.CompareAndSwap(ctx, key, entry.Version, data, 0); err != nil {
			continue // lost a concurrent race, retry against the fresh version
		}

		if eg.MaxSize > 0 && eg.Size >= eg.MaxSize {
			return g.flushGroup(ctx, act, key, pendingKey, eg, v.RuleName)
		}
		if time.Now().UTC().After(eg.NotifyAt) {
			return g.flushGroup(ctx, act, key, pendingKey, eg, v.RuleName)
		}
		return Outcome{Kind: OutcomeGrouped, RuleName: v.RuleName, GroupID: v.GroupKey, GroupSize: eg.Size, NotifyAt: eg.NotifyAt}, nil
	}
	err := fmt.Errorf("gateway: group %q append lost the CAS race %d times", v.GroupKey, maxGroupCASRetries)
	return failed(ReasonStoreError, err), err
}

// flushGroup renders the group's notification template and dispatches it
// through the group's target provider, the same flush the background
// group-flush worker performs when a group ages out (§4.6).
func (g *Gateway) flushGroup(ctx context.Context, act *action.Action, key, pendingKey action.StateKey, eg EventGroup, ruleName string) (Outcome, error) {
	eg.Status = GroupFlushing
	data, err := json.Marshal(eg)
	if err == nil {
		_ = g.state.Set(ctx, key, data, 0)
	}
	_ = g.state.RemoveTimeout(ctx, pendingGroupsIndex, pendingKey)

	rendered := eg.Template
	if expr, err := template.Compile(eg.Template); err == nil {
		if v, err := engine.Eval(ctx, g.evalContext(act), expr); err == nil {
			rendered = v.DisplayString()
		}
	}

	payload, _ := json.Marshal(struct {
		Message string `json:"message"`
		Size    int    `json:"size"`
	}{Message: rendered, Size: eg.Size})
	notifyAction := action.New(act.Namespace, act.Tenant, eg.Provider, "group_notification", payload)
	_, execErr := g.executor.Execute(ctx, notifyAction)

	eg.Status = GroupNotified
	if data, err := json.Marshal(eg); err == nil {
		_ = g.state.Set(ctx, key, data, 0)
	}

	out := Outcome{Kind: OutcomeGrouped, RuleName: ruleName, GroupID: eg.GroupID, GroupSize: eg.Size, NotifyAt: eg.NotifyAt}
	if execErr != nil {
		out.Detail = fmt.Sprintf("flush notification failed: %v", execErr)
	}
	return out, nil
}
