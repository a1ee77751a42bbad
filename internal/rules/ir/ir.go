// Package ir defines the rule intermediate representation: the recursive
// Expr tree rules are compiled to, and the RuleAction sum type a matching
// rule evaluates to.
package ir

import "time"

// ExprKind is the closed set of expression node kinds.
type ExprKind int

const (
	ExprNull ExprKind = iota
	ExprBool
	ExprInt
	ExprFloat
	ExprString
	ExprIdent
	ExprField
	ExprIndex
	ExprBinary
	ExprUnary
	ExprAll
	ExprAny
	ExprNot
	ExprStateGet
	ExprStateCounter
	ExprSemanticMatch
	ExprWasmCall
)

// BinaryOp is the closed set of binary operators.
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpEq
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpAnd
	OpOr
	OpContains
	OpMatches // regex match against a string
)

// UnaryOp is the closed set of unary operators.
type UnaryOp int

const (
	OpNeg UnaryOp = iota
	OpNotUnary
)

// Expr is a node in the rule expression tree. Exactly one of the
// kind-specific fields is populated, selected by Kind.
type Expr struct {
	Kind ExprKind

	Bool   bool
	Int    int64
	Float  float64
	String string

	// Ident/Field: the identifier or field name being referenced.
	Name string

	// Index: Target is indexed by Key.
	Target *Expr
	Key    *Expr

	// Binary: Left Op Right.
	Op    BinaryOp
	UnOp  UnaryOp
	Left  *Expr
	Right *Expr

	// All/Any: conjunction/disjunction over Operands.
	Operands []Expr

	// Not: negates Operand.
	Operand *Expr

	// StateGet: fetch a state-store key by kind/id.
	StateKind string
	StateID   *Expr

	// StateCounter: read a counter key's current numeric value.
	CounterID *Expr

	// SemanticMatch: compare Text against Topic with Threshold via the
	// configured EmbeddingEvaluator.
	Text      *Expr
	Topic     string
	Threshold float64

	// WasmCall: invoke a sandboxed plugin function with Args.
	Plugin   string
	Function string
	Args     []Expr
}

func Null() Expr            { return Expr{Kind: ExprNull} }
func BoolLit(b bool) Expr   { return Expr{Kind: ExprBool, Bool: b} }
func IntLit(i int64) Expr   { return Expr{Kind: ExprInt, Int: i} }
func FloatLit(f float64) Expr { return Expr{Kind: ExprFloat, Float: f} }
func StringLit(s string) Expr { return Expr{Kind: ExprString, String: s} }
func Ident(name string) Expr  { return Expr{Kind: ExprIdent, Name: name} }

func Field(target Expr, name string) Expr {
	t := target
	return Expr{Kind: ExprField, Target: &t, Name: name}
}

func Index(target, key Expr) Expr {
	t, k := target, key
	return Expr{Kind: ExprIndex, Target: &t, Key: &k}
}

func Binary(op BinaryOp, left, right Expr) Expr {
	l, r := left, right
	return Expr{Kind: ExprBinary, Op: op, Left: &l, Right: &r}
}

func Unary(op UnaryOp, operand Expr) Expr {
	o := operand
	return Expr{Kind: ExprUnary, UnOp: op, Operand: &o}
}

func All(operands ...Expr) Expr { return Expr{Kind: ExprAll, Operands: operands} }
func Any(operands ...Expr) Expr { return Expr{Kind: ExprAny, Operands: operands} }
func Not(operand Expr) Expr {
	o := operand
	return Expr{Kind: ExprNot, Operand: &o}
}

func StateGet(kind string, id Expr) Expr {
	i := id
	return Expr{Kind: ExprStateGet, StateKind: kind, StateID: &i}
}

func StateCounter(id Expr) Expr {
	i := id
	return Expr{Kind: ExprStateCounter, CounterID: &i}
}

func SemanticMatch(text Expr, topic string, threshold float64) Expr {
	t := text
	return Expr{Kind: ExprSemanticMatch, Text: &t, Topic: topic, Threshold: threshold}
}

func WasmCall(plugin, function string, args ...Expr) Expr {
	return Expr{Kind: ExprWasmCall, Plugin: plugin, Function: function, Args: args}
}

// ActionKind is the closed set of rule action kinds.
type ActionKind int

const (
	ActionAllow ActionKind = iota
	ActionDeny
	ActionDeduplicate
	ActionSuppress
	ActionReroute
	ActionThrottle
	ActionModify
	ActionStateMachine
	ActionGroup
	ActionRequestApproval
	ActionChain
	ActionCustom
)

// RuleAction is the tagged sum of what a matching rule does.
type RuleAction struct {
	Kind ActionKind

	// Deny
	DenyReason string

	// Deduplicate
	DedupTTL time.Duration
	DedupKey string

	// Suppress
	SuppressReason string

	// Reroute
	RerouteProvider string

	// Throttle
	ThrottleLimit  int64
	ThrottleWindow time.Duration

	// Modify
	ModifyFields map[string]Expr

	// StateMachine
	StateMachineName  string
	TransitionTo      string
	FingerprintFields []string

	// Group
	GroupKey       string
	GroupWindow    time.Duration
	GroupInterval  time.Duration
	GroupMaxSize   int
	GroupLabels    map[string]string
	GroupTemplate  string

	// RequestApproval
	ApprovalTimeout time.Duration
	Approvers       []string
	NotifyProvider  string
	ApprovalMessage string

	// Chain
	ChainName string

	// Custom
	CustomName   string
	CustomParams map[string]Expr
}

func (a RuleAction) IsAllow() bool            { return a.Kind == ActionAllow }
func (a RuleAction) IsDeny() bool             { return a.Kind == ActionDeny }
func (a RuleAction) IsSuppress() bool         { return a.Kind == ActionSuppress }
func (a RuleAction) IsReroute() bool          { return a.Kind == ActionReroute }
func (a RuleAction) IsThrottle() bool         { return a.Kind == ActionThrottle }
func (a RuleAction) IsModify() bool           { return a.Kind == ActionModify }
func (a RuleAction) IsDeduplicate() bool      { return a.Kind == ActionDeduplicate }
func (a RuleAction) IsStateMachine() bool     { return a.Kind == ActionStateMachine }
func (a RuleAction) IsGroup() bool            { return a.Kind == ActionGroup }
func (a RuleAction) IsRequestApproval() bool  { return a.Kind == ActionRequestApproval }

// KindLabel is a stable, human-facing name for logging/metrics.
func (a RuleAction) KindLabel() string {
	switch a.Kind {
	case ActionAllow:
		return "allow"
	case ActionDeny:
		return "deny"
	case ActionDeduplicate:
		return "deduplicate"
	case ActionSuppress:
		return "suppress"
	case ActionReroute:
		return "reroute"
	case ActionThrottle:
		return "throttle"
	case ActionModify:
		return "modify"
	case ActionStateMachine:
		return "state_machine"
	case ActionGroup:
		return "group"
	case ActionRequestApproval:
		return "request_approval"
	case ActionChain:
		return "chain"
	case ActionCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Rule is one ordered entry in a RuleSet: a name, a priority (ascending
// sort key, ties broken by declaration order), a condition and an action.
type Rule struct {
	Name      string
	Priority  int
	DeclIndex int
	Condition Expr
	Action    RuleAction
}
