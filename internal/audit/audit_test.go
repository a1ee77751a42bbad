package audit

import (
	"context"
	"testing"
	"time"
)

func TestMemorySinkRecordAndQuery(t *testing.T) {
	s := NewMemorySink()
	ctx := context.Background()

	rec := Record{
		ActionID:  "act-1",
		Namespace: "ns",
		Tenant:    "tenant-a",
		Provider:  "webhook",
		RuleName:  "always-allow",
		Verdict:   "allow",
		Outcome:   "executed",
		Timestamp: time.Now(),
	}
	if err := s.Record(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := s.Query(ctx, "ns", "tenant-a", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ActionID != "act-1" {
		t.Fatalf("unexpected query result: %+v", got)
	}

	none, err := s.Query(ctx, "ns", "tenant-b", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no records for tenant-b, got %d", len(none))
	}
}

func TestMemorySinkQueryRespectsLimit(t *testing.T) {
	s := NewMemorySink()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = s.Record(ctx, Record{ActionID: "act", Namespace: "ns", Tenant: "t", Timestamp: time.Now()})
	}
	got, err := s.Query(ctx, "ns", "t", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 got %d", len(got))
	}
}
