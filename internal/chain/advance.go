package chain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/acteon-dev/acteon/internal/action"
	"github.com/acteon-dev/acteon/internal/rules/engine"
	"github.com/acteon-dev/acteon/internal/rules/ir"
)

// Registry is a name-addressed lookup of chain definitions, mirroring
// the shape of statemachine.Registry and provider.Registry.
type Registry struct {
	defs map[string]*Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

func (r *Registry) Register(d *Definition) {
	r.defs[d.Name] = d
}

func (r *Registry) Get(name string) (*Definition, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// Dispatcher synthesizes and dispatches one step's Action; the gateway
// package adapts Gateway.Dispatch to this narrow interface, so chain
// never imports gateway, which would otherwise form an import cycle
// (gateway imports chain to start and advance chain executions).
type Dispatcher interface {
	Dispatch(ctx context.Context, act *action.Action) (interface{}, error)
}

// variableEvalContext wraps the execution's variable bag into a
// synthetic Action payload, so branch conditions and payload templates
// reuse the exact same action.payload.<path> field-access semantics
// the rule engine evaluates for real actions.
func variableEvalContext(exec *Execution) (*engine.EvalContext, error) {
	wire := make(map[string]json.RawMessage, len(exec.Variables))
	for k, v := range exec.Variables {
		raw, err := v.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("marshal chain variable %q: %w", k, err)
		}
		wire[k] = raw
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal chain variable bag: %w", err)
	}
	synthetic := &action.Action{
		ID:         exec.ID,
		Namespace:  "",
		Tenant:     "",
		Provider:   "",
		Type:       "chain_step",
		Payload:    payload,
	}
	return engine.NewEvalContext(synthetic, nil, nil), nil
}

// NextStep resolves the step to run after current completes, evaluating
// each branch condition against the execution's variable bag in
// declaration order and falling through to DefaultNext when none match.
func NextStep(ctx context.Context, def *Definition, current Step, exec *Execution) (string, error) {
	ec, err := variableEvalContext(exec)
	if err != nil {
		return "", err
	}
	for _, branch := range current.Branches {
		if branch.Condition.Kind == ir.ExprNull {
			continue
		}
		result, err := engine.Eval(ctx, ec, branch.Condition)
		if err != nil {
			return "", fmt.Errorf("chain %q step %q branch condition: %w", def.Name, current.Name, err)
		}
		if result.IsTruthy() {
			return branch.NextStep, nil
		}
	}
	return current.DefaultNext, nil
}

// RenderPayload renders a step's payload template against the
// execution's variable bag, reusing the template compiler's Expr
// evaluation.
func RenderPayload(ctx context.Context, exec *Execution, tmpl ir.Expr) ([]byte, error) {
	ec, err := variableEvalContext(exec)
	if err != nil {
		return nil, err
	}
	v, err := engine.Eval(ctx, ec, tmpl)
	if err != nil {
		return nil, fmt.Errorf("render chain step payload: %w", err)
	}
	s, _ := v.AsString()
	return []byte(s), nil
}
