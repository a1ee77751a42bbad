package template

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/acteon-dev/acteon/internal/action"
	"github.com/acteon-dev/acteon/internal/rules/engine"
	"github.com/acteon-dev/acteon/internal/rules/ir"
	"github.com/acteon-dev/acteon/internal/store/memory"
)

func render(t *testing.T, tmpl string, a *action.Action) string {
	t.Helper()
	expr, err := Compile(tmpl)
	if err != nil {
		t.Fatal(err)
	}
	ec := engine.NewEvalContext(a, memory.New(), map[string]string{"region": "us-east-1"})
	v, err := engine.Eval(context.Background(), ec, expr)
	if err != nil {
		t.Fatal(err)
	}
	return v.DisplayString()
}

func TestCompilePureStringHasNoInterpolation(t *testing.T) {
	expr, err := Compile("a static message")
	if err != nil {
		t.Fatal(err)
	}
	if expr.Kind != ir.ExprString {
		t.Fatalf("expected pure String literal, got kind %v", expr.Kind)
	}
}

func TestRenderMixedTemplate(t *testing.T) {
	a := action.New("ns", "tenant", "webhook", "incident.created", json.RawMessage(`{"host":"db-1"}`))
	got := render(t, "host {{ action.payload.host }} in {{ env.region }}", a)
	want := "host db-1 in us-east-1"
	if got != want {
		t.Fatalf("want %q got %q", want, got)
	}
}

func TestRenderMissingPathIsEmptyString(t *testing.T) {
	a := action.New("ns", "tenant", "webhook", "incident.created", json.RawMessage(`{}`))
	got := render(t, "value: [{{ action.payload.missing }}]", a)
	if got != "value: []" {
		t.Fatalf("want 'value: []' got %q", got)
	}
}

func TestCompileUnbalancedBracesFails(t *testing.T) {
	if _, err := Compile("broken {{ action.id"); err == nil {
		t.Fatal("expected compile error for unbalanced braces")
	}
}
