package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/acteon-dev/acteon/internal/action"
	"github.com/acteon-dev/acteon/internal/rules/ir"
	"github.com/acteon-dev/acteon/internal/store/memory"
	"github.com/acteon-dev/acteon/internal/value"
)

func newAction(t *testing.T, payload string) *action.Action {
	t.Helper()
	a := action.New("ns", "tenant-a", "webhook", "incident.created", json.RawMessage(payload))
	a.Metadata.Labels = map[string]string{"severity": "high"}
	return a
}

func TestEvalFieldAndComparison(t *testing.T) {
	ec := NewEvalContext(newAction(t, `{"priority": 5}`), memory.New(), nil)

	expr := ir.Binary(ir.OpGte,
		ir.Field(ir.Field(ir.Ident("action"), "payload"), "priority"),
		ir.IntLit(3),
	)
	v, err := Eval(context.Background(), ec, expr)
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsTruthy() {
		t.Fatalf("expected priority>=3 to be true, got %v", v)
	}
}

func TestEvalAllAnyNot(t *testing.T) {
	ec := NewEvalContext(newAction(t, `{}`), memory.New(), nil)

	allExpr := ir.All(ir.BoolLit(true), ir.BoolLit(true))
	v, _ := Eval(context.Background(), ec, allExpr)
	if !v.IsTruthy() {
		t.Fatal("expected All(true,true) to be truthy")
	}

	anyExpr := ir.Any(ir.BoolLit(false), ir.BoolLit(true))
	v, _ = Eval(context.Background(), ec, anyExpr)
	if !v.IsTruthy() {
		t.Fatal("expected Any(false,true) to be truthy")
	}

	notExpr := ir.Not(ir.BoolLit(true))
	v, _ = Eval(context.Background(), ec, notExpr)
	if v.IsTruthy() {
		t.Fatal("expected Not(true) to be falsy")
	}
}

func TestEvalStateGetMissingIsNull(t *testing.T) {
	ec := NewEvalContext(newAction(t, `{}`), memory.New(), nil)
	expr := ir.StateGet("widget", ir.StringLit("missing-id"))
	v, err := Eval(context.Background(), ec, expr)
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind() != value.KindNull {
		t.Fatalf("expected Null for missing state key, got %v", v.Kind())
	}
}

func TestEvalStateCounter(t *testing.T) {
	st := memory.New()
	a := newAction(t, `{}`)
	key := action.NewKey(a.Namespace, a.Tenant, action.KindCounter, "req-count")
	if _, err := st.Increment(context.Background(), key, 4, time.Minute); err != nil {
		t.Fatal(err)
	}
	ec := NewEvalContext(a, st, nil)
	v, err := Eval(context.Background(), ec, ir.StateCounter(ir.StringLit("req-count")))
	if err != nil {
		t.Fatal(err)
	}
	n, _ := v.AsInt()
	if n != 4 {
		t.Fatalf("want 4 got %d", n)
	}
}

func TestEvalEnvLookupRecordsAccess(t *testing.T) {
	ec := NewEvalContext(newAction(t, `{}`), memory.New(), map[string]string{"region": "us-east-1"})
	tracker := NewAccessTracker()
	ec.WithAccessTracker(tracker)

	v, err := Eval(context.Background(), ec, ir.Field(ir.Ident("env"), "region"))
	if err != nil {
		t.Fatal(err)
	}
	s, _ := v.AsString()
	if s != "us-east-1" {
		t.Fatalf("want us-east-1 got %q", s)
	}
	keys := tracker.DrainEnvKeys()
	if len(keys) != 1 || keys[0] != "region" {
		t.Fatalf("expected access tracker to record 'region', got %v", keys)
	}
}

func TestEvalTimeFieldsRespectTimezone(t *testing.T) {
	ec := NewEvalContext(newAction(t, `{}`), memory.New(), nil)
	fixed := time.Date(2026, time.July, 30, 23, 15, 42, 0, time.UTC)
	ec.WithNow(fixed)

	hourUTC, err := Eval(context.Background(), ec, ir.Field(ir.Ident("time"), "hour"))
	if err != nil {
		t.Fatal(err)
	}
	if h, _ := hourUTC.AsInt(); h != 23 {
		t.Fatalf("want UTC hour 23, got %d", h)
	}

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	ec.WithTimezone(loc)
	local, err := Eval(context.Background(), ec, ir.Ident("time"))
	if err != nil {
		t.Fatal(err)
	}
	hour, err := local.Field("hour")
	if err != nil {
		t.Fatal(err)
	}
	if h, _ := hour.AsInt(); h == 23 {
		t.Fatal("expected timezone projection to change the hour")
	}
	dow, err := local.Field("day_of_week")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := dow.AsInt(); !ok {
		t.Fatal("expected day_of_week to be an int")
	}
}

func TestEvalMatchesRegex(t *testing.T) {
	ec := NewEvalContext(newAction(t, `{"host": "db-primary-03"}`), memory.New(), nil)
	expr := ir.Binary(ir.OpMatches,
		ir.Field(ir.Field(ir.Ident("action"), "payload"), "host"),
		ir.StringLit(`^db-primary-\d+$`),
	)
	v, err := Eval(context.Background(), ec, expr)
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsTruthy() {
		t.Fatal("expected host to match regex")
	}
}
