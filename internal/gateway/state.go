package gateway

import "time"

// EventState is the state-machine runtime record addressed by
// action.KindEventState, keyed by the fingerprint the StateMachine
// verdict computed. It is distinct from statemachine.Config, which is
// the named, reusable definition of allowed transitions.
type EventState struct {
	Fingerprint  string    `json:"fingerprint"`
	StateMachine string    `json:"state_machine"`
	CurrentState string    `json:"current_state"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// GroupStatus is the closed set of an EventGroup's lifecycle states.
type GroupStatus string

const (
	GroupOpen     GroupStatus = "open"
	GroupFlushing GroupStatus = "flushing"
	GroupNotified GroupStatus = "notified"
)

// EventGroup is the runtime record a Group verdict appends to, addressed
// by action.KindGroup and indexed under action.KindPendingGroups while
// open.
type EventGroup struct {
	GroupID   string            `json:"group_id"`
	RuleName  string            `json:"rule_name"`
	Provider  string            `json:"provider"`
	Template  string            `json:"template"`
	Labels    map[string]string `json:"labels,omitempty"`
	ActionIDs []string          `json:"action_ids"`
	Size      int               `json:"size"`
	MaxSize   int               `json:"max_size"`
	NotifyAt  time.Time         `json:"notify_at"`
	Status    GroupStatus       `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
}
