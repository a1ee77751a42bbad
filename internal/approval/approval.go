// Package approval implements the RequestApproval verdict: a pending
// approval record is written to the state store, a signed approve/reject
// token is handed to the notifier, and a caller resolves it (Decide, or
// Expire once its deadline has passed). The store-backed
// poll-for-decision shape is adapted from the teacher's CRD-polling
// approval manager; persistence moves from a Kubernetes custom resource
// to a StateStore record addressed by KindApproval.
package approval

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/acteon-dev/acteon/internal/action"
	"github.com/acteon-dev/acteon/internal/store"
)

// Phase is the closed set of approval outcomes.
type Phase string

const (
	PhasePending  Phase = "pending"
	PhaseApproved Phase = "approved"
	PhaseDenied   Phase = "denied"
	PhaseExpired  Phase = "expired"
)

// Request is a persisted approval record.
type Request struct {
	ID         string    `json:"id"`
	ActionID   string    `json:"action_id"`
	Namespace  string    `json:"namespace"`
	Tenant     string    `json:"tenant"`
	RuleName   string    `json:"rule_name"`
	Approvers  []string  `json:"approvers"`
	Phase      Phase     `json:"phase"`
	DecidedBy  string    `json:"decided_by,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Deadline   time.Time `json:"deadline"`
}

// Signer produces and verifies HMAC-SHA256 tokens embedded in
// approve/reject links, adapted from the teacher's command-signing
// helper.
type Signer struct {
	key []byte
}

func NewSigner(key []byte) *Signer {
	return &Signer{key: key}
}

func (s *Signer) Sign(requestID string, decision Phase) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(requestID + "|" + string(decision)))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Signer) Verify(requestID string, decision Phase, token string) bool {
	expected := s.Sign(requestID, decision)
	expectedBytes, err := hex.DecodeString(expected)
	if err != nil {
		return false
	}
	givenBytes, err := hex.DecodeString(token)
	if err != nil {
		return false
	}
	return hmac.Equal(expectedBytes, givenBytes)
}

// Manager creates and resolves approval requests against a StateStore.
type Manager struct {
	state  store.StateStore
	signer *Signer
	log    logr.Logger
}

func NewManager(st store.StateStore, signer *Signer, log logr.Logger) *Manager {
	return &Manager{state: st, signer: signer, log: log}
}

// Create persists a new pending approval request and returns it along
// with its signed approve/reject tokens.
func (m *Manager) Create(ctx context.Context, namespace, tenant, actionID, ruleName string, approvers []string, timeout time.Duration) (*Request, string, string, error) {
	req := &Request{
		ID:        actionID,
		ActionID:  actionID,
		Namespace: namespace,
		Tenant:    tenant,
		RuleName:  ruleName,
		Approvers: approvers,
		Phase:     PhasePending,
		CreatedAt: time.Now().UTC(),
		Deadline:  time.Now().UTC().Add(timeout),
	}
	if err := m.save(ctx, req); err != nil {
		return nil, "", "", err
	}
	approveToken := m.signer.Sign(req.ID, PhaseApproved)
	rejectToken := m.signer.Sign(req.ID, PhaseDenied)

	dueKey := action.NewKey(namespace, tenant, action.KindPendingApprovals, req.ID)
	if err := m.state.IndexTimeout(ctx, "pending_approvals", dueKey, req.Deadline); err != nil {
		return nil, "", "", fmt.Errorf("index approval timeout: %w", err)
	}
	m.log.Info("approval request created", "action", actionID, "rule", ruleName, "deadline", req.Deadline)
	return req, approveToken, rejectToken, nil
}

// Decide resolves a pending request if token verifies against the
// requested decision; an already-decided request is left untouched.
func (m *Manager) Decide(ctx context.Context, namespace, tenant, requestID string, decision Phase, decidedBy, reason, token string) (*Request, error) {
	if decision != PhaseApproved && decision != PhaseDenied {
		return nil, fmt.Errorf("approval: invalid decision %q", decision)
	}
	if !m.signer.Verify(requestID, decision, token) {
		return nil, fmt.Errorf("approval: signature verification failed for request %q", requestID)
	}
	req, err := m.get(ctx, namespace, tenant, requestID)
	if err != nil {
		return nil, err
	}
	if req.Phase != PhasePending {
		return req, nil
	}
	req.Phase = decision
	req.DecidedBy = decidedBy
	req.Reason = reason
	if err := m.save(ctx, req); err != nil {
		return nil, err
	}
	key := action.NewKey(namespace, tenant, action.KindPendingApprovals, requestID)
	_ = m.state.RemoveTimeout(ctx, "pending_approvals", key)
	m.log.Info("approval request decided", "request", requestID, "phase", decision, "by", decidedBy)
	return req, nil
}

// Expire marks a still-pending request as expired; an already-decided
// request is left untouched. No background worker calls it.
func (m *Manager) Expire(ctx context.Context, namespace, tenant, requestID string) error {
	req, err := m.get(ctx, namespace, tenant, requestID)
	if err != nil {
		return err
	}
	if req.Phase != PhasePending {
		return nil
	}
	req.Phase = PhaseExpired
	return m.save(ctx, req)
}

func (m *Manager) get(ctx context.Context, namespace, tenant, requestID string) (*Request, error) {
	key := action.NewKey(namespace, tenant, action.KindApproval, requestID)
	entry, err := m.state.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var req Request
	if err := json.Unmarshal(entry.Value, &req); err != nil {
		return nil, fmt.Errorf("decode approval request %q: %w", requestID, err)
	}
	return &req, nil
}

func (m *Manager) save(ctx context.Context, req *Request) error {
	key := action.NewKey(req.Namespace, req.Tenant, action.KindApproval, req.ID)
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return m.state.Set(ctx, key, data, 0)
}
