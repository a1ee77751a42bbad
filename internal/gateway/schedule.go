package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/acteon-dev/acteon/internal/action"
)

// Timeout-index names the pending_* workers scan (§4.6). EventTimeoutIndexName
// lives beside its handler in statemachine_verdict.go; the rest are grouped
// here next to the record types they index.
const (
	pendingGroupsIndex    = "pending_groups"
	pendingChainsIndex    = "pending_chains"
	pendingScheduledIndex = "pending_scheduled"
	pendingRecurringIndex = "pending_recurring"
)

// claimTTL bounds how long a background worker's claim on one due item is
// held before another instance is allowed to retry it, matching the
// original Rust workers' 60s claim window.
const claimTTL = 60 * time.Second

// scheduledActionRecord is the payload stored at a ScheduledAction key.
type scheduledActionRecord struct {
	Action *action.Action `json:"action"`
	FireAt time.Time      `json:"fire_at"`
}

// recurringActionRecord is the payload stored at a RecurringAction key.
type recurringActionRecord struct {
	Action         *action.Action `json:"action"`
	CronExpr       string         `json:"cron_expr"`
	Enabled        bool           `json:"enabled"`
	EndsAt         *time.Time     `json:"ends_at,omitempty"`
	LastExecutedAt *time.Time     `json:"last_executed_at,omitempty"`
}

// ScheduleAction registers tmpl for one future dispatch at fireAt, picked
// up by the scheduled-action background worker (§4.6).
func (g *Gateway) ScheduleAction(ctx context.Context, tmpl *action.Action, fireAt time.Time) (string, error) {
	id := uuid.NewString()
	rec := scheduledActionRecord{Action: tmpl, FireAt: fireAt}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("gateway: marshal scheduled action: %w", err)
	}
	key := action.NewKey(tmpl.Namespace, tmpl.Tenant, action.KindScheduledAction, id)
	if err := g.state.Set(ctx, key, data, 0); err != nil {
		return "", fmt.Errorf("gateway: persist scheduled action: %w", err)
	}
	pendingKey := action.NewKey(tmpl.Namespace, tmpl.Tenant, action.KindPendingScheduled, id)
	if err := g.state.IndexTimeout(ctx, pendingScheduledIndex, pendingKey, fireAt); err != nil {
		return "", fmt.Errorf("gateway: index scheduled action: %w", err)
	}
	return id, nil
}

// CreateRecurringAction registers tmpl to fire on cronExpr's schedule
// (standard 5-field cron) until endsAt, picked up by the recurring-action
// background worker (§4.6).
func (g *Gateway) CreateRecurringAction(ctx context.Context, tmpl *action.Action, cronExpr string, endsAt *time.Time) (string, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return "", fmt.Errorf("gateway: parse cron expression %q: %w", cronExpr, err)
	}
	id := uuid.NewString()
	rec := recurringActionRecord{Action: tmpl, CronExpr: cronExpr, Enabled: true, EndsAt: endsAt}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("gateway: marshal recurring action: %w", err)
	}
	key := action.NewKey(tmpl.Namespace, tmpl.Tenant, action.KindRecurringAction, id)
	if err := g.state.Set(ctx, key, data, 0); err != nil {
		return "", fmt.Errorf("gateway: persist recurring action: %w", err)
	}
	next := schedule.Next(time.Now().UTC())
	pendingKey := action.NewKey(tmpl.Namespace, tmpl.Tenant, action.KindPendingRecurring, id)
	if err := g.state.IndexTimeout(ctx, pendingRecurringIndex, pendingKey, next); err != nil {
		return "", fmt.Errorf("gateway: index recurring action: %w", err)
	}
	return id, nil
}
