package dlq

import (
	"context"
	"testing"
	"time"

	"github.com/acteon-dev/acteon/internal/action"
)

func TestMemorySinkPushAndList(t *testing.T) {
	s := NewMemorySink()
	ctx := context.Background()

	act := action.New("ns", "tenant", "webhook", "notify", []byte(`{}`))
	err := s.Push(ctx, Entry{Action: act, Provider: "webhook", FailureError: "boom", Attempts: 3, LastFailAt: time.Now()})
	if err != nil {
		t.Fatal(err)
	}

	depth, err := s.Depth(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if depth != 1 {
		t.Fatalf("want depth 1 got %d", depth)
	}

	entries, err := s.List(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Action.ID != act.ID {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestEncryptingSinkRoundTrips(t *testing.T) {
	inner := NewMemorySink()
	sink, err := NewEncryptingSink(inner, []byte("master-key-material"), []byte("salt"))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	act := action.New("ns", "tenant", "webhook", "notify", []byte(`{"secret":"value"}`))
	if err := sink.Push(ctx, Entry{Action: act, Provider: "webhook"}); err != nil {
		t.Fatal(err)
	}

	rawEntries, err := inner.List(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if string(rawEntries[0].Action.Payload) == `{"secret":"value"}` {
		t.Fatal("expected payload to be encrypted at rest in the underlying sink")
	}

	entries, err := sink.List(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if string(entries[0].Action.Payload) != `{"secret":"value"}` {
		t.Fatalf("expected decrypted payload, got %s", entries[0].Action.Payload)
	}
}
