package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/acteon-dev/acteon/internal/action"
	"github.com/acteon-dev/acteon/internal/rules/engine"
)

func (g *Gateway) handleRequestApproval(ctx context.Context, act *action.Action, v engine.Verdict) (Outcome, error) {
	if g.approvals == nil {
		err := fmt.Errorf("gateway: RequestApproval verdict with no approval signing key configured")
		return failed(ReasonConfigurationError, err), err
	}

	req, approveToken, rejectToken, err := g.approvals.Create(ctx, act.Namespace, act.Tenant, act.ID, v.RuleName, v.Approvers, v.ApprovalTimeout)
	if err != nil {
		return failed(ReasonStoreError, err), fmt.Errorf("gateway: create approval request: %w", err)
	}

	approveURL := fmt.Sprintf("/approvals/%s/approve?token=%s", req.ID, approveToken)
	rejectURL := fmt.Sprintf("/approvals/%s/reject?token=%s", req.ID, rejectToken)

	notificationSent := false
	if v.NotifyProvider != "" {
		if _, err := g.providers.Get(v.NotifyProvider); err == nil {
			payload, _ := json.Marshal(struct {
				Message    string `json:"message"`
				ApproveURL string `json:"approve_url"`
				RejectURL  string `json:"reject_url"`
			}{Message: v.ApprovalMessage, ApproveURL: approveURL, RejectURL: rejectURL})
			notifyAction := action.New(act.Namespace, act.Tenant, v.NotifyProvider, "approval_request", payload)
			if out, execErr := g.executor.Execute(ctx, notifyAction); execErr == nil {
				notificationSent = out.Success
			}
		}
	}

	return Outcome{
		Kind: OutcomePendingApproval, RuleName: v.RuleName,
		ApprovalID: req.ID, ApprovalExpires: req.Deadline,
		ApproveURL: approveURL, RejectURL: rejectURL, NotificationSent: notificationSent,
	}, nil
}
