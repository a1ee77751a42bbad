// Package action defines the inbound Action, its canonical state-store
// key, and the closed set of state-key kinds the rest of the gateway
// addresses state by.
package action

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action is a single unit of dispatch work submitted to the gateway.
type Action struct {
	ID           string            `json:"id" validate:"required"`
	Namespace    string            `json:"namespace" validate:"required"`
	Tenant       string            `json:"tenant" validate:"required"`
	Provider     string            `json:"provider" validate:"required"`
	Type         string            `json:"action_type" validate:"required"`
	Payload      json.RawMessage   `json:"payload"`
	Metadata     Metadata          `json:"metadata"`
	DedupKey     string            `json:"dedup_key,omitempty"`
	Attachments  []AttachmentRef   `json:"attachments,omitempty" validate:"max=16"`
	TraceContext map[string]string `json:"trace_context,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Metadata carries free-form labels plus the rest of the gateway uses to
// scope rule evaluation and fingerprinting.
type Metadata struct {
	Labels map[string]string `json:"labels,omitempty"`
}

// AttachmentRef points at an out-of-band blob a provider may need resolved
// before execution (§3 AttachmentResolver addition).
type AttachmentRef struct {
	ID          string `json:"id" validate:"required"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes" validate:"max=104857600"`
}

// MaxPayloadBytes bounds the admitted payload size (§4.4 Step 0 admission).
const MaxPayloadBytes = 1 << 20 // 1 MiB

// New constructs an Action with a generated ID and timestamp, mirroring
// the builder style of the original Action::new constructor.
func New(namespace, tenant, provider, actionType string, payload json.RawMessage) *Action {
	return &Action{
		ID:        uuid.NewString(),
		Namespace: namespace,
		Tenant:    tenant,
		Provider:  provider,
		Type:      actionType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// WithDedupKey sets an explicit caller-supplied dedup key.
func (a *Action) WithDedupKey(key string) *Action {
	a.DedupKey = key
	return a
}

// WithMetadata merges the given labels into the action's metadata.
func (a *Action) WithMetadata(labels map[string]string) *Action {
	if a.Metadata.Labels == nil {
		a.Metadata.Labels = make(map[string]string, len(labels))
	}
	for k, v := range labels {
		a.Metadata.Labels[k] = v
	}
	return a
}

// Validate enforces the admission-time invariants from §4.4 Step 0.
func (a *Action) Validate() error {
	if a.ID == "" || a.Namespace == "" || a.Tenant == "" || a.Provider == "" || a.Type == "" {
		return fmt.Errorf("action: id, namespace, tenant, provider and action_type are required")
	}
	if len(a.Payload) > MaxPayloadBytes {
		return fmt.Errorf("action: payload of %d bytes exceeds max %d", len(a.Payload), MaxPayloadBytes)
	}
	if len(a.Attachments) > 16 {
		return fmt.Errorf("action: at most 16 attachments are admitted, got %d", len(a.Attachments))
	}
	return nil
}

// KeyKind is the closed set of purposes a StateKey may address.
type KeyKind int

const (
	KindDedup KeyKind = iota
	KindCounter
	KindLock
	KindState
	KindHistory
	KindRateLimit
	KindEventState
	KindEventTimeout
	KindGroup
	KindPendingGroups
	KindActiveEvents
	KindApproval
	KindPendingApprovals
	KindChain
	KindPendingChains
	KindPendingScheduled
	KindScheduledAction
	KindRecurringAction
	KindPendingRecurring
	KindCustom
)

var kindNames = map[KeyKind]string{
	KindDedup:            "dedup",
	KindCounter:          "counter",
	KindLock:             "lock",
	KindState:            "state",
	KindHistory:          "history",
	KindRateLimit:        "ratelimit",
	KindEventState:       "event_state",
	KindEventTimeout:     "event_timeout",
	KindGroup:            "group",
	KindPendingGroups:    "pending_groups",
	KindActiveEvents:     "active_events",
	KindApproval:         "approval",
	KindPendingApprovals: "pending_approvals",
	KindChain:            "chain",
	KindPendingChains:    "pending_chains",
	KindPendingScheduled: "pending_scheduled",
	KindScheduledAction:  "scheduled_action",
	KindRecurringAction:  "recurring_action",
	KindPendingRecurring: "pending_recurring",
	KindCustom:           "custom",
}

func (k KeyKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// StateKey is the canonical four-tuple every state-store operation is
// addressed by: namespace:tenant:kind:id. Custom kinds embed their name
// as "custom.<name>" in the rendered kind segment.
type StateKey struct {
	Namespace  string
	Tenant     string
	Kind       KeyKind
	CustomName string
	ID         string
}

func NewKey(namespace, tenant string, kind KeyKind, id string) StateKey {
	return StateKey{Namespace: namespace, Tenant: tenant, Kind: kind, ID: id}
}

func NewCustomKey(namespace, tenant, name, id string) StateKey {
	return StateKey{Namespace: namespace, Tenant: tenant, Kind: KindCustom, CustomName: name, ID: id}
}

func (k StateKey) kindSegment() string {
	if k.Kind == KindCustom {
		return "custom." + k.CustomName
	}
	return k.Kind.String()
}

// String renders the canonical "namespace:tenant:kind:id" form.
func (k StateKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.Namespace, k.Tenant, k.kindSegment(), k.ID)
}

// ParseKey reverses String, splitting into at most 4 parts so that ids
// containing ':' are preserved in the final segment.
func ParseKey(s string) (StateKey, error) {
	parts := strings.SplitN(s, ":", 4)
	if len(parts) != 4 {
		return StateKey{}, fmt.Errorf("state key %q: expected 4 colon-separated segments", s)
	}
	kindSeg := parts[2]
	var kind KeyKind
	var customName string
	found := false
	for k, name := range kindNames {
		if name == kindSeg {
			kind = k
			found = true
			break
		}
	}
	if !found {
		if !strings.HasPrefix(kindSeg, "custom.") {
			return StateKey{}, fmt.Errorf("state key %q: unknown kind %q", s, kindSeg)
		}
		kind = KindCustom
		customName = strings.TrimPrefix(kindSeg, "custom.")
	}
	return StateKey{
		Namespace:  parts[0],
		Tenant:     parts[1],
		Kind:       kind,
		CustomName: customName,
		ID:         parts[3],
	}, nil
}
