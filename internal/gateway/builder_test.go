package gateway

import (
	"testing"

	"github.com/acteon-dev/acteon/internal/store/memory"
)

func TestBuildMissingStateReturnsError(t *testing.T) {
	_, err := NewBuilder().WithLock(memory.NewLock()).Build()
	if err == nil {
		t.Fatal("expected error when state store is not configured")
	}
}

func TestBuildMissingLockReturnsError(t *testing.T) {
	_, err := NewBuilder().WithState(memory.New()).Build()
	if err == nil {
		t.Fatal("expected error when distributed lock is not configured")
	}
}

func TestBuildWithRequiredFieldsSucceeds(t *testing.T) {
	gw, err := NewBuilder().
		WithState(memory.New()).
		WithLock(memory.NewLock()).
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gw == nil {
		t.Fatal("expected a non-nil gateway")
	}
}
