package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/acteon-dev/acteon/internal/action"
	"github.com/acteon-dev/acteon/internal/rules/ir"
	"github.com/acteon-dev/acteon/internal/value"
)

// Eval recursively evaluates an expression tree against an EvalContext.
func Eval(ctx context.Context, ec *EvalContext, expr ir.Expr) (value.Value, error) {
	switch expr.Kind {
	case ir.ExprNull:
		return value.Null(), nil
	case ir.ExprBool:
		return value.Bool(expr.Bool), nil
	case ir.ExprInt:
		return value.Int(expr.Int), nil
	case ir.ExprFloat:
		return value.Float(expr.Float), nil
	case ir.ExprString:
		return value.String(expr.String), nil
	case ir.ExprIdent:
		return evalIdent(ec, expr.Name)
	case ir.ExprField:
		target, err := Eval(ctx, ec, *expr.Target)
		if err != nil {
			return value.Null(), err
		}
		return target.Field(expr.Name)
	case ir.ExprIndex:
		target, err := Eval(ctx, ec, *expr.Target)
		if err != nil {
			return value.Null(), err
		}
		key, err := Eval(ctx, ec, *expr.Key)
		if err != nil {
			return value.Null(), err
		}
		return target.Index(key)
	case ir.ExprBinary:
		return evalBinary(ctx, ec, expr)
	case ir.ExprUnary:
		return evalUnary(ctx, ec, expr)
	case ir.ExprAll:
		for _, op := range expr.Operands {
			v, err := Eval(ctx, ec, op)
			if err != nil {
				return value.Null(), err
			}
			if !v.IsTruthy() {
				return value.Bool(false), nil
			}
		}
		return value.Bool(true), nil
	case ir.ExprAny:
		for _, op := range expr.Operands {
			v, err := Eval(ctx, ec, op)
			if err != nil {
				return value.Null(), err
			}
			if v.IsTruthy() {
				return value.Bool(true), nil
			}
		}
		return value.Bool(false), nil
	case ir.ExprNot:
		v, err := Eval(ctx, ec, *expr.Operand)
		if err != nil {
			return value.Null(), err
		}
		return value.Bool(!v.IsTruthy()), nil
	case ir.ExprStateGet:
		return evalStateGet(ctx, ec, expr)
	case ir.ExprStateCounter:
		return evalStateCounter(ctx, ec, expr)
	case ir.ExprSemanticMatch:
		return evalSemanticMatch(ctx, ec, expr)
	case ir.ExprWasmCall:
		return evalWasmCall(ctx, ec, expr)
	default:
		return value.Null(), fmt.Errorf("eval: unknown expr kind %v", expr.Kind)
	}
}

func evalIdent(ec *EvalContext, name string) (value.Value, error) {
	switch name {
	case "time":
		return ec.timeMap(), nil
	case "action":
		return actionValue(ec.Action), nil
	case "env":
		return envValue(ec), nil
	default:
		return value.Null(), fmt.Errorf("eval: unknown identifier %q", name)
	}
}

// envValue renders the evaluation environment as a Map so Field/Index
// expressions compose over it the same way they do over action and time:
// Field(Ident("env"), key) reads ec.Environment[key], recording the access.
func envValue(ec *EvalContext) value.Value {
	m := make(map[string]value.Value, len(ec.Environment))
	for k, v := range ec.Environment {
		m[k] = value.String(v)
	}
	if ec.Access != nil {
		for k := range ec.Environment {
			ec.Access.RecordEnvKey(k)
		}
	}
	return value.Map(m)
}

// actionValue renders the Action as a Map value so Field/Index expressions
// can address namespace/tenant/provider/action_type/id/metadata/payload.
func actionValue(a *action.Action) value.Value {
	if a == nil {
		return value.Null()
	}
	m := map[string]value.Value{
		"id":          value.String(a.ID),
		"namespace":   value.String(a.Namespace),
		"tenant":      value.String(a.Tenant),
		"provider":    value.String(a.Provider),
		"action_type": value.String(a.Type),
		"dedup_key":   value.String(a.DedupKey),
	}
	labels := make(map[string]value.Value, len(a.Metadata.Labels))
	for k, v := range a.Metadata.Labels {
		labels[k] = value.String(v)
	}
	m["metadata"] = value.Map(labels)
	var decoded interface{}
	if len(a.Payload) > 0 {
		if err := json.Unmarshal(a.Payload, &decoded); err == nil {
			m["payload"] = value.FromJSON(decoded)
		}
	}
	return value.Map(m)
}

func evalBinary(ctx context.Context, ec *EvalContext, expr ir.Expr) (value.Value, error) {
	left, err := Eval(ctx, ec, *expr.Left)
	if err != nil {
		return value.Null(), err
	}
	if expr.Op == ir.OpAnd {
		if !left.IsTruthy() {
			return value.Bool(false), nil
		}
		right, err := Eval(ctx, ec, *expr.Right)
		if err != nil {
			return value.Null(), err
		}
		return value.Bool(right.IsTruthy()), nil
	}
	if expr.Op == ir.OpOr {
		if left.IsTruthy() {
			return value.Bool(true), nil
		}
		right, err := Eval(ctx, ec, *expr.Right)
		if err != nil {
			return value.Null(), err
		}
		return value.Bool(right.IsTruthy()), nil
	}
	right, err := Eval(ctx, ec, *expr.Right)
	if err != nil {
		return value.Null(), err
	}
	switch expr.Op {
	case ir.OpAdd:
		return arith(left, right, func(a, b int64) int64 { return a + b }, func(a, b float64) float64 { return a + b }, true)
	case ir.OpSub:
		return arith(left, right, func(a, b int64) int64 { return a - b }, func(a, b float64) float64 { return a - b }, false)
	case ir.OpMul:
		return arith(left, right, func(a, b int64) int64 { return a * b }, func(a, b float64) float64 { return a * b }, false)
	case ir.OpDiv:
		lf, _ := left.AsFloat()
		rf, _ := right.AsFloat()
		if rf == 0 {
			return value.Null(), fmt.Errorf("eval: division by zero")
		}
		return value.Float(lf / rf), nil
	case ir.OpEq:
		return value.Bool(equalValues(left, right)), nil
	case ir.OpNeq:
		return value.Bool(!equalValues(left, right)), nil
	case ir.OpLt, ir.OpLte, ir.OpGt, ir.OpGte:
		return compareValues(left, right, expr.Op)
	case ir.OpContains:
		return containsValue(left, right)
	case ir.OpMatches:
		ls, _ := left.AsString()
		rs, _ := right.AsString()
		re, err := regexp.Compile(rs)
		if err != nil {
			return value.Null(), fmt.Errorf("eval: invalid regex %q: %w", rs, err)
		}
		return value.Bool(re.MatchString(ls)), nil
	default:
		return value.Null(), fmt.Errorf("eval: unknown binary op %v", expr.Op)
	}
}

// arith performs add/sub/mul. For OpAdd, when either side is a string the
// result is the concatenation of both sides' DisplayString, so template
// interpolation renders non-string values (Null renders as "").
func arith(left, right value.Value, intOp func(a, b int64) int64, floatOp func(a, b float64) float64, allowStringConcat bool) (value.Value, error) {
	if allowStringConcat {
		_, lok := left.AsString()
		_, rok := right.AsString()
		if lok || rok {
			return value.String(left.DisplayString() + right.DisplayString()), nil
		}
	}
	li, lok := left.AsInt()
	ri, rok := right.AsInt()
	if lok && rok {
		return value.Int(intOp(li, ri)), nil
	}
	lf, lok := left.AsFloat()
	rf, rok := right.AsFloat()
	if lok && rok {
		return value.Float(floatOp(lf, rf)), nil
	}
	return value.Null(), fmt.Errorf("eval: arithmetic on incompatible types %s/%s", left.Kind(), right.Kind())
}

func equalValues(a, b value.Value) bool {
	return a.DisplayString() == b.DisplayString() && a.Kind() == b.Kind()
}

func compareValues(a, b value.Value, op ir.BinaryOp) (value.Value, error) {
	af, aok := a.AsFloat()
	bf, bok := b.AsFloat()
	if aok && bok {
		return value.Bool(applyCompare(af, bf, op)), nil
	}
	as, aok := a.AsString()
	bs, bok := b.AsString()
	if aok && bok {
		return value.Bool(applyCompareString(as, bs, op)), nil
	}
	return value.Null(), fmt.Errorf("eval: comparison on incompatible types %s/%s", a.Kind(), b.Kind())
}

func applyCompare(a, b float64, op ir.BinaryOp) bool {
	switch op {
	case ir.OpLt:
		return a < b
	case ir.OpLte:
		return a <= b
	case ir.OpGt:
		return a > b
	case ir.OpGte:
		return a >= b
	}
	return false
}

func applyCompareString(a, b string, op ir.BinaryOp) bool {
	switch op {
	case ir.OpLt:
		return a < b
	case ir.OpLte:
		return a <= b
	case ir.OpGt:
		return a > b
	case ir.OpGte:
		return a >= b
	}
	return false
}

func containsValue(container, item value.Value) (value.Value, error) {
	switch container.Kind() {
	case value.KindString:
		cs, _ := container.AsString()
		is, ok := item.AsString()
		if !ok {
			return value.Null(), fmt.Errorf("eval: contains on string requires string operand")
		}
		return value.Bool(strings.Contains(cs, is)), nil
	case value.KindList:
		list, _ := container.AsList()
		for _, e := range list {
			if equalValues(e, item) {
				return value.Bool(true), nil
			}
		}
		return value.Bool(false), nil
	default:
		return value.Null(), fmt.Errorf("eval: contains on unsupported type %s", container.Kind())
	}
}

func evalUnary(ctx context.Context, ec *EvalContext, expr ir.Expr) (value.Value, error) {
	v, err := Eval(ctx, ec, *expr.Operand)
	if err != nil {
		return value.Null(), err
	}
	switch expr.UnOp {
	case ir.OpNeg:
		if i, ok := v.AsInt(); ok {
			return value.Int(-i), nil
		}
		if f, ok := v.AsFloat(); ok {
			return value.Float(-f), nil
		}
		return value.Null(), fmt.Errorf("eval: negate on non-numeric type %s", v.Kind())
	case ir.OpNotUnary:
		return value.Bool(!v.IsTruthy()), nil
	default:
		return value.Null(), fmt.Errorf("eval: unknown unary op %v", expr.UnOp)
	}
}

func evalStateGet(ctx context.Context, ec *EvalContext, expr ir.Expr) (value.Value, error) {
	idVal, err := Eval(ctx, ec, *expr.StateID)
	if err != nil {
		return value.Null(), err
	}
	id, ok := idVal.AsString()
	if !ok {
		return value.Null(), fmt.Errorf("eval: state_get id must evaluate to a string")
	}
	key := action.NewCustomKey(ec.Action.Namespace, ec.Action.Tenant, expr.StateKind, id)
	if ec.Access != nil {
		ec.Access.RecordStateKey(key.String())
	}
	entry, err := ec.State.Get(ctx, key)
	if err != nil {
		return value.Null(), nil //nolint:nilerr // a missing state key is a legitimate Null, not an eval error
	}
	var decoded interface{}
	if jsonErr := json.Unmarshal(entry.Value, &decoded); jsonErr == nil {
		return value.FromJSON(decoded), nil
	}
	return value.String(string(entry.Value)), nil
}

func evalStateCounter(ctx context.Context, ec *EvalContext, expr ir.Expr) (value.Value, error) {
	idVal, err := Eval(ctx, ec, *expr.CounterID)
	if err != nil {
		return value.Null(), err
	}
	id, ok := idVal.AsString()
	if !ok {
		return value.Null(), fmt.Errorf("eval: state_counter id must evaluate to a string")
	}
	key := action.NewKey(ec.Action.Namespace, ec.Action.Tenant, action.KindCounter, id)
	if ec.Access != nil {
		ec.Access.RecordStateKey(key.String())
	}
	entry, err := ec.State.Get(ctx, key)
	if err != nil {
		return value.Int(0), nil //nolint:nilerr // an unseen counter reads as zero
	}
	var n int64
	fmt.Sscanf(string(entry.Value), "%d", &n)
	return value.Int(n), nil
}

func evalSemanticMatch(ctx context.Context, ec *EvalContext, expr ir.Expr) (value.Value, error) {
	if ec.Embedding == nil {
		return value.Bool(false), nil
	}
	textVal, err := Eval(ctx, ec, *expr.Text)
	if err != nil {
		return value.Null(), err
	}
	text, _ := textVal.AsString()
	sim, err := ec.Embedding.Similarity(ctx, text, expr.Topic)
	if err != nil {
		return value.Bool(false), nil //nolint:nilerr // fail-open: an evaluator error never blocks the pipeline
	}
	if ec.Access != nil {
		ec.Access.SetSemanticDetail(SemanticMatchDetail{
			ExtractedText: text,
			Topic:         expr.Topic,
			Similarity:    sim,
			Threshold:     expr.Threshold,
		})
	}
	return value.Bool(sim >= expr.Threshold), nil
}

func evalWasmCall(ctx context.Context, ec *EvalContext, expr ir.Expr) (value.Value, error) {
	if ec.Wasm == nil {
		return value.Null(), fmt.Errorf("eval: wasm_call %s.%s with no WasmRuntime configured", expr.Plugin, expr.Function)
	}
	args := make([]value.Value, len(expr.Args))
	for i, a := range expr.Args {
		v, err := Eval(ctx, ec, a)
		if err != nil {
			return value.Null(), err
		}
		args[i] = v
	}
	return ec.Wasm.Invoke(ctx, expr.Plugin, expr.Function, args)
}
