// Package dlq holds actions the executor gave up retrying. Every sink
// accepts an Entry and (where the backend allows) lists recent entries
// for inspection and replay.
package dlq

import (
	"context"
	"sync"
	"time"

	"github.com/acteon-dev/acteon/internal/action"
)

// Entry is one dead-lettered action plus why it ended up here.
type Entry struct {
	Action       *action.Action
	Provider     string
	FailureError string
	Attempts     int
	FirstFailAt  time.Time
	LastFailAt   time.Time
}

// Sink is the contract every dead letter backend implements.
type Sink interface {
	Push(ctx context.Context, entry Entry) error
	List(ctx context.Context, limit int) ([]Entry, error)
	Depth(ctx context.Context) (int, error)
	Close() error
}

// MemorySink is an in-process, unbounded sink suitable for tests and
// single-node deployments (§ Open Questions: DLQ retention).
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Push(ctx context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemorySink) List(ctx context.Context, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.entries) {
		limit = len(s.entries)
	}
	out := make([]Entry, limit)
	copy(out, s.entries[len(s.entries)-limit:])
	return out, nil
}

func (s *MemorySink) Depth(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

func (s *MemorySink) Close() error { return nil }
