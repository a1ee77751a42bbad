// Package fingerprint computes deterministic SHA-256 fingerprints over a
// field list, the way the original acteon-core fingerprint module does,
// used to key dedup and group-membership decisions.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/acteon-dev/acteon/internal/action"
)

// Compute hashes the ordered "field=value;" concatenation of the named
// fields extracted from a. Field order is significant and a missing field
// contributes an empty string, never an error.
func Compute(a *action.Action, fields []string) string {
	var sb strings.Builder
	for _, f := range fields {
		sb.WriteString(f)
		sb.WriteByte('=')
		sb.WriteString(extractFieldValue(a, f))
		sb.WriteByte(';')
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// extractFieldValue supports the shared field-path syntax: the action's
// scalar fields by name, "metadata.<key>", and "payload.<dot.path>" with
// gjson array-index support, e.g. "payload.targets.0.id".
func extractFieldValue(a *action.Action, field string) string {
	switch {
	case field == "namespace":
		return a.Namespace
	case field == "tenant":
		return a.Tenant
	case field == "provider":
		return a.Provider
	case field == "action_type":
		return a.Type
	case field == "id":
		return a.ID
	case field == "dedup_key":
		return a.DedupKey
	case strings.HasPrefix(field, "metadata."):
		key := strings.TrimPrefix(field, "metadata.")
		return a.Metadata.Labels[key]
	case strings.HasPrefix(field, "payload."):
		path := strings.TrimPrefix(field, "payload.")
		return extractJSONPath(a.Payload, path)
	default:
		return ""
	}
}

// extractJSONPath walks a dot-separated path (passed to gjson as-is, so
// gjson's dot-path syntax applies) through the raw JSON payload, returning "" for any
// missing or out-of-bounds segment rather than erroring.
func extractJSONPath(payload []byte, path string) string {
	if len(payload) == 0 {
		return ""
	}
	result := gjson.GetBytes(payload, path)
	if !result.Exists() {
		return ""
	}
	return result.String()
}
