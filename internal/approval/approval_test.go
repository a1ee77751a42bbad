package approval

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/acteon-dev/acteon/internal/store/memory"
)

func newTestManager() *Manager {
	return NewManager(memory.New(), NewSigner([]byte("test-signing-key")), logr.Discard())
}

func TestCreateThenApproveWithValidToken(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	req, approveToken, _, err := m.Create(ctx, "ns", "tenant", "act-1", "needs-sign-off", []string{"oncall"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if req.Phase != PhasePending {
		t.Fatalf("want pending got %v", req.Phase)
	}

	decided, err := m.Decide(ctx, "ns", "tenant", req.ID, PhaseApproved, "alice", "looks fine", approveToken)
	if err != nil {
		t.Fatal(err)
	}
	if decided.Phase != PhaseApproved {
		t.Fatalf("want approved got %v", decided.Phase)
	}
	if decided.DecidedBy != "alice" {
		t.Fatalf("want alice got %v", decided.DecidedBy)
	}
}

func TestDecideRejectsBadToken(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	req, _, _, err := m.Create(ctx, "ns", "tenant", "act-2", "needs-sign-off", nil, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.Decide(ctx, "ns", "tenant", req.ID, PhaseApproved, "alice", "", "not-a-real-token"); err == nil {
		t.Fatal("expected signature verification error")
	}
}

func TestRejectTokenCannotApprove(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	req, _, rejectToken, err := m.Create(ctx, "ns", "tenant", "act-3", "needs-sign-off", nil, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.Decide(ctx, "ns", "tenant", req.ID, PhaseApproved, "alice", "", rejectToken); err == nil {
		t.Fatal("expected reject token to fail approve verification")
	}
}

func TestDecideIsIdempotentOnceResolved(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	req, approveToken, rejectToken, err := m.Create(ctx, "ns", "tenant", "act-4", "needs-sign-off", nil, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.Decide(ctx, "ns", "tenant", req.ID, PhaseApproved, "alice", "", approveToken); err != nil {
		t.Fatal(err)
	}
	second, err := m.Decide(ctx, "ns", "tenant", req.ID, PhaseDenied, "bob", "too late", rejectToken)
	if err != nil {
		t.Fatal(err)
	}
	if second.Phase != PhaseApproved {
		t.Fatalf("decision should stay approved once resolved, got %v", second.Phase)
	}
}

func TestExpirePendingRequest(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	req, _, _, err := m.Create(ctx, "ns", "tenant", "act-5", "needs-sign-off", nil, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Expire(ctx, "ns", "tenant", req.ID); err != nil {
		t.Fatal(err)
	}
	expired, err := m.get(ctx, "ns", "tenant", req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if expired.Phase != PhaseExpired {
		t.Fatalf("want expired got %v", expired.Phase)
	}
}
