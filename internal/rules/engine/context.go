package engine

import (
	"context"
	"sync"
	"time"

	"github.com/acteon-dev/acteon/internal/action"
	"github.com/acteon-dev/acteon/internal/store"
	"github.com/acteon-dev/acteon/internal/value"
)

// EmbeddingEvaluator scores semantic similarity between extracted text and
// a named topic, used by Expr::SemanticMatch.
type EmbeddingEvaluator interface {
	Similarity(ctx context.Context, text, topic string) (float64, error)
}

// WasmRuntime invokes a sandboxed plugin function, used by Expr::WasmCall.
type WasmRuntime interface {
	Invoke(ctx context.Context, plugin, function string, args []value.Value) (value.Value, error)
}

// SemanticMatchDetail records the last semantic-match comparison performed
// during an evaluation, surfaced to the audit trail.
type SemanticMatchDetail struct {
	ExtractedText string
	Topic         string
	Similarity    float64
	Threshold     float64
}

// AccessTracker records which environment and state keys an evaluation
// touched, so the gateway can attach a minimal access trail to audit
// records without re-deriving it from the rule set.
type AccessTracker struct {
	mu            sync.Mutex
	envKeys       map[string]struct{}
	stateKeys     map[string]struct{}
	lastSemantic  *SemanticMatchDetail
}

func NewAccessTracker() *AccessTracker {
	return &AccessTracker{envKeys: map[string]struct{}{}, stateKeys: map[string]struct{}{}}
}

func (t *AccessTracker) RecordEnvKey(k string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.envKeys[k] = struct{}{}
}

func (t *AccessTracker) RecordStateKey(k string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateKeys[k] = struct{}{}
}

func (t *AccessTracker) SetSemanticDetail(d SemanticMatchDetail) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSemantic = &d
}

func (t *AccessTracker) DrainEnvKeys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.envKeys))
	for k := range t.envKeys {
		out = append(out, k)
	}
	t.envKeys = map[string]struct{}{}
	return out
}

func (t *AccessTracker) DrainStateKeys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.stateKeys))
	for k := range t.stateKeys {
		out = append(out, k)
	}
	t.stateKeys = map[string]struct{}{}
	return out
}

func (t *AccessTracker) TakeSemanticDetail() *SemanticMatchDetail {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.lastSemantic
	t.lastSemantic = nil
	return d
}

// EvalContext carries everything an expression evaluation needs: the
// action under evaluation, the state store, environment variables, the
// evaluation clock, an optional timezone for `time.*` fields, and the
// optional embedding/wasm collaborators.
type EvalContext struct {
	Action      *action.Action
	State       store.StateStore
	Environment map[string]string
	Now         time.Time
	Timezone    *time.Location // nil means UTC
	Embedding   EmbeddingEvaluator
	Wasm        WasmRuntime
	Access      *AccessTracker

	timeMapOnce  sync.Once
	timeMapValue value.Value
}

func NewEvalContext(a *action.Action, st store.StateStore, env map[string]string) *EvalContext {
	return &EvalContext{
		Action:      a,
		State:       st,
		Environment: env,
		Now:         time.Now().UTC(),
	}
}

func (c *EvalContext) WithNow(now time.Time) *EvalContext {
	c.Now = now
	c.timeMapOnce = sync.Once{}
	return c
}

// WithTimezone sets the timezone `time.*` derived fields are projected
// into. Unset (or nil) falls back to UTC.
func (c *EvalContext) WithTimezone(loc *time.Location) *EvalContext {
	c.Timezone = loc
	c.timeMapOnce = sync.Once{}
	return c
}

func (c *EvalContext) WithEmbedding(e EmbeddingEvaluator) *EvalContext {
	c.Embedding = e
	return c
}

func (c *EvalContext) WithWasm(w WasmRuntime) *EvalContext {
	c.Wasm = w
	return c
}

func (c *EvalContext) WithAccessTracker(t *AccessTracker) *EvalContext {
	c.Access = t
	return c
}

// timeMap lazily builds the `Ident("time")` map value: `now` projected into
// the configured timezone (UTC by default), with fields
// hour/minute/second/day_of_week/day/month/year/weekday, cached per-context
// on first access regardless of how many expressions reference it.
func (c *EvalContext) timeMap() value.Value {
	c.timeMapOnce.Do(func() {
		loc := c.Timezone
		if loc == nil {
			loc = time.UTC
		}
		t := c.Now.In(loc)
		m := map[string]value.Value{
			"year":        value.Int(int64(t.Year())),
			"month":       value.Int(int64(t.Month())),
			"day":         value.Int(int64(t.Day())),
			"hour":        value.Int(int64(t.Hour())),
			"minute":      value.Int(int64(t.Minute())),
			"second":      value.Int(int64(t.Second())),
			"day_of_week": value.Int(int64(t.Weekday())),
			"weekday":     value.String(t.Weekday().String()),
			"unix":        value.Int(c.Now.Unix()),
		}
		c.timeMapValue = value.Map(m)
	})
	return c.timeMapValue
}
