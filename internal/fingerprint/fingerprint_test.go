package fingerprint

import (
	"encoding/json"
	"testing"

	"github.com/acteon-dev/acteon/internal/action"
)

func sampleAction() *action.Action {
	a := action.New("ns", "tenant-a", "webhook", "incident.created", json.RawMessage(`{"host":"db-1","targets":["a","b"]}`))
	a.Metadata.Labels = map[string]string{"severity": "high"}
	return a
}

func TestComputeIsDeterministic(t *testing.T) {
	a := sampleAction()
	fields := []string{"namespace", "provider", "metadata.severity", "payload.host"}
	first := Compute(a, fields)
	second := Compute(a, fields)
	if first != second {
		t.Fatalf("expected deterministic fingerprint, got %q != %q", first, second)
	}
}

func TestComputeIsFieldOrderSensitive(t *testing.T) {
	a := sampleAction()
	f1 := Compute(a, []string{"namespace", "provider"})
	f2 := Compute(a, []string{"provider", "namespace"})
	if f1 == f2 {
		t.Fatal("expected field order to change the fingerprint")
	}
}

func TestComputeMissingFieldIsEmptyContribution(t *testing.T) {
	a := sampleAction()
	withMissing := Compute(a, []string{"metadata.does-not-exist"})
	b := sampleAction()
	b.Metadata.Labels["does-not-exist"] = ""
	withEmpty := Compute(b, []string{"metadata.does-not-exist"})
	if withMissing != withEmpty {
		t.Fatal("expected missing field to contribute the same empty string as an empty value")
	}
}

func TestComputePayloadArrayIndex(t *testing.T) {
	a := sampleAction()
	got := extractFieldValue(a, "payload.targets.0")
	if got != "a" {
		t.Fatalf("want 'a' got %q", got)
	}
	got = extractFieldValue(a, "payload.targets.5")
	if got != "" {
		t.Fatalf("out-of-bounds index should yield empty string, got %q", got)
	}
}
