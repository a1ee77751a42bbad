package engine

import (
	"time"

	"github.com/acteon-dev/acteon/internal/rules/ir"
)

// VerdictKind is the closed set of verdict shapes a rule match (or the
// engine's default fallthrough) can produce.
type VerdictKind int

const (
	VerdictAllow VerdictKind = iota
	VerdictDeny
	VerdictDeduplicate
	VerdictSuppress
	VerdictReroute
	VerdictThrottle
	VerdictModify
	VerdictStateMachine
	VerdictGroup
	VerdictRequestApproval
	VerdictChain
)

// Verdict is the rule engine's output for one Action: which rule matched
// (empty for the default-allow fallthrough) plus the action-specific
// payload.
type Verdict struct {
	Kind      VerdictKind
	RuleName  string

	DenyReason        string
	DedupTTL          time.Duration
	DedupKey          string
	SuppressReason    string
	RerouteProvider   string
	ThrottleLimit     int64
	ThrottleWindow    time.Duration
	ModifyFields      map[string]ir.Expr
	StateMachine      string
	TransitionTo      string
	FingerprintFields []string
	GroupKey          string
	GroupWindow       time.Duration
	GroupInterval     time.Duration
	GroupMaxSize      int
	GroupLabels       map[string]string
	GroupTemplate     string
	ApprovalTimeout   time.Duration
	Approvers         []string
	NotifyProvider    string
	ApprovalMessage   string
	ChainName         string
}

// matchedRuleName returns the name of the rule that produced the verdict, or ""
// for the default-allow fallthrough.
func (v Verdict) matchedRuleName() string { return v.RuleName }

// actionToVerdict converts a matched rule's action into its Verdict,
// mirroring the original Rust action_to_verdict conversion including its
// documented edge case: an unrecognized Custom action falls through as
// Allow.
func actionToVerdict(ruleName string, a ir.RuleAction) Verdict {
	switch a.Kind {
	case ir.ActionAllow:
		return Verdict{Kind: VerdictAllow, RuleName: ruleName}
	case ir.ActionDeny:
		return Verdict{Kind: VerdictDeny, RuleName: ruleName, DenyReason: a.DenyReason}
	case ir.ActionDeduplicate:
		return Verdict{Kind: VerdictDeduplicate, RuleName: ruleName, DedupTTL: a.DedupTTL, DedupKey: a.DedupKey}
	case ir.ActionSuppress:
		return Verdict{Kind: VerdictSuppress, RuleName: ruleName, SuppressReason: a.SuppressReason}
	case ir.ActionReroute:
		return Verdict{Kind: VerdictReroute, RuleName: ruleName, RerouteProvider: a.RerouteProvider}
	case ir.ActionThrottle:
		return Verdict{Kind: VerdictThrottle, RuleName: ruleName, ThrottleLimit: a.ThrottleLimit, ThrottleWindow: a.ThrottleWindow}
	case ir.ActionModify:
		return Verdict{Kind: VerdictModify, RuleName: ruleName, ModifyFields: a.ModifyFields}
	case ir.ActionStateMachine:
		return Verdict{Kind: VerdictStateMachine, RuleName: ruleName, StateMachine: a.StateMachineName, TransitionTo: a.TransitionTo, FingerprintFields: a.FingerprintFields}
	case ir.ActionGroup:
		return Verdict{
			Kind: VerdictGroup, RuleName: ruleName, GroupKey: a.GroupKey, GroupWindow: a.GroupWindow,
			GroupInterval: a.GroupInterval, GroupMaxSize: a.GroupMaxSize, GroupLabels: a.GroupLabels, GroupTemplate: a.GroupTemplate,
		}
	case ir.ActionRequestApproval:
		return Verdict{
			Kind: VerdictRequestApproval, RuleName: ruleName, ApprovalTimeout: a.ApprovalTimeout, Approvers: a.Approvers,
			NotifyProvider: a.NotifyProvider, ApprovalMessage: a.ApprovalMessage,
		}
	case ir.ActionChain:
		return Verdict{Kind: VerdictChain, RuleName: ruleName, ChainName: a.ChainName}
	default:
		// Custom actions with no registered handler fall through as an
		// allow rather than being treated as an error.
		return Verdict{Kind: VerdictAllow, RuleName: ruleName}
	}
}
