// Package chain defines multi-step workflow chains: named definitions
// of simple, sub-chain and parallel-group steps, and the execution
// record the background chain-advance worker mutates as a run
// progresses. Step branching mirrors the rule engine's condition
// expressions, reusing internal/rules/ir so a step's branch condition
// is evaluated by the same Eval the rule engine uses.
package chain

import (
	"encoding/json"
	"time"

	"github.com/acteon-dev/acteon/internal/rules/ir"
	"github.com/acteon-dev/acteon/internal/value"
)

// JoinPolicy governs how a parallel group's sub-steps are awaited.
type JoinPolicy string

const (
	JoinAll JoinPolicy = "all"
	JoinAny JoinPolicy = "any"
)

// FailurePolicy governs how a parallel group reacts to a sub-step failure.
type FailurePolicy string

const (
	FailFast    FailurePolicy = "fail_fast"
	BestEffort  FailurePolicy = "best_effort"
)

// StepKind is the closed set of chain step shapes.
type StepKind int

const (
	StepSimple StepKind = iota
	StepSubChain
	StepParallelGroup
)

// Branch conditionally selects the next step based on the prior step's
// response, evaluated with the chain's variable bag bound as the
// expression's action-like context.
type Branch struct {
	Condition ir.Expr
	NextStep  string
}

// Step is one node of a chain definition.
type Step struct {
	Name        string
	Kind        StepKind
	DefaultNext string // empty marks a terminal step
	Branches    []Branch

	// Simple
	Provider           string
	ActionType         string
	PayloadTemplate    ir.Expr

	// Sub-chain
	ChildChainName string
	MergeKey       string

	// Parallel group
	SubSteps        []Step
	Join            JoinPolicy
	Failure         FailurePolicy
	GroupTimeout    time.Duration
	MaxConcurrency  int
}

// Definition is a named, multi-step workflow.
type Definition struct {
	Name      string
	FirstStep string
	Steps     map[string]Step
}

// NewDefinition builds an empty chain definition.
func NewDefinition(name, firstStep string) *Definition {
	return &Definition{Name: name, FirstStep: firstStep, Steps: make(map[string]Step)}
}

func (d *Definition) WithStep(s Step) *Definition {
	d.Steps[s.Name] = s
	return d
}

func (d *Definition) TotalSteps() int {
	return len(d.Steps)
}

// Status is the closed set of chain execution outcomes.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Execution is a persisted, in-flight or terminal chain run.
type Execution struct {
	ID          string                 `json:"id"`
	ChainName   string                 `json:"chain_name"`
	CurrentStep string                 `json:"current_step"`
	Status      Status                 `json:"status"`
	Variables   map[string]value.Value `json:"variables"`
	CancelFlag  bool                   `json:"cancel_requested"`
	StartedAt   time.Time              `json:"started_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	Error       string                 `json:"error,omitempty"`
}

// executionWire is the JSON-serializable shadow of Execution:
// value.Value already marshals via its own MarshalJSON, but it has no
// symmetric UnmarshalJSON, so round-tripping through encoding/json
// decodes variables into interface{} first and re-wraps them with
// value.FromJSON.
type executionWire struct {
	ID          string                     `json:"id"`
	ChainName   string                     `json:"chain_name"`
	CurrentStep string                     `json:"current_step"`
	Status      Status                     `json:"status"`
	Variables   map[string]json.RawMessage `json:"variables"`
	CancelFlag  bool                       `json:"cancel_requested"`
	StartedAt   time.Time                  `json:"started_at"`
	UpdatedAt   time.Time                  `json:"updated_at"`
	Error       string                     `json:"error,omitempty"`
}

func (e *Execution) MarshalJSON() ([]byte, error) {
	w := executionWire{
		ID: e.ID, ChainName: e.ChainName, CurrentStep: e.CurrentStep, Status: e.Status,
		CancelFlag: e.CancelFlag, StartedAt: e.StartedAt, UpdatedAt: e.UpdatedAt, Error: e.Error,
		Variables: make(map[string]json.RawMessage, len(e.Variables)),
	}
	for k, v := range e.Variables {
		raw, err := v.MarshalJSON()
		if err != nil {
			return nil, err
		}
		w.Variables[k] = raw
	}
	return json.Marshal(w)
}

func (e *Execution) UnmarshalJSON(data []byte) error {
	var w executionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.ID, e.ChainName, e.CurrentStep, e.Status = w.ID, w.ChainName, w.CurrentStep, w.Status
	e.CancelFlag, e.StartedAt, e.UpdatedAt, e.Error = w.CancelFlag, w.StartedAt, w.UpdatedAt, w.Error
	e.Variables = make(map[string]value.Value, len(w.Variables))
	for k, raw := range w.Variables {
		var decoded interface{}
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return err
		}
		e.Variables[k] = value.FromJSON(decoded)
	}
	return nil
}

// NewExecution seeds a chain run from an action payload's top-level
// fields, so step templates can reference {{ trigger.foo }}-style
// variables alongside per-step outputs.
func NewExecution(id, chainName, firstStep string, seed map[string]value.Value) *Execution {
	vars := make(map[string]value.Value, len(seed))
	for k, v := range seed {
		vars[k] = v
	}
	now := time.Now().UTC()
	return &Execution{
		ID:          id,
		ChainName:   chainName,
		CurrentStep: firstStep,
		Status:      StatusRunning,
		Variables:   vars,
		StartedAt:   now,
		UpdatedAt:   now,
	}
}

func (e *Execution) IsTerminal() bool {
	return e.Status == StatusCompleted || e.Status == StatusFailed || e.Status == StatusCancelled
}

func (e *Execution) SetVariable(name string, v value.Value) {
	if e.Variables == nil {
		e.Variables = make(map[string]value.Value)
	}
	e.Variables[name] = v
}
