// Package store defines the StateStore and DistributedLock contracts that
// every other component (rule engine, executor, background workers) reads
// and writes through, plus the errors both kinds of backend must return.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/acteon-dev/acteon/internal/action"
)

// ErrNotFound is returned by Get when a key is absent (or expired).
var ErrNotFound = errors.New("store: key not found")

// ErrVersionConflict is returned by CompareAndSwap when the stored version
// does not match the caller's expected version.
var ErrVersionConflict = errors.New("store: version conflict")

// ErrLockNotHeld is returned by Extend/Release when the caller's owner
// token no longer matches the held lock (expired or stolen).
var ErrLockNotHeld = errors.New("store: lock not held by caller")

// Entry is a stored value plus its CAS version and optional expiry.
type Entry struct {
	Value     []byte
	Version   int64
	ExpiresAt time.Time // zero value means no TTL
}

// ScanResult is one key/value pair returned by a ScanKeys/ScanKeysByKind
// bounded scan.
type ScanResult struct {
	Key   action.StateKey
	Value []byte
}

// StateStore is the key-value contract backing dedup, counters, state
// machines, groups, approvals, chains and scheduled/recurring actions.
// Implementations must be safe for concurrent use and linearizable
// per-key (§5).
type StateStore interface {
	Get(ctx context.Context, key action.StateKey) (Entry, error)
	Set(ctx context.Context, key action.StateKey, value []byte, ttl time.Duration) error

	// CheckAndSet atomically sets value only if the key is currently
	// absent (or expired), returning (true, nil) if it claimed the key.
	CheckAndSet(ctx context.Context, key action.StateKey, value []byte, ttl time.Duration) (bool, error)

	// CompareAndSwap atomically replaces value if the stored version
	// equals expectedVersion, returning the new version on success.
	CompareAndSwap(ctx context.Context, key action.StateKey, expectedVersion int64, value []byte, ttl time.Duration) (int64, error)

	Delete(ctx context.Context, key action.StateKey) error

	// Increment atomically adds delta to a counter key (creating it at 0
	// first if absent) and returns the new value.
	Increment(ctx context.Context, key action.StateKey, delta int64, ttl time.Duration) (int64, error)

	// ScanKeys returns every non-expired (key, value) pair addressed to
	// namespace/tenant/kind whose ID has the given prefix (prefix "" means
	// every ID). A bounded, single-tenant scan (§4.1).
	ScanKeys(ctx context.Context, namespace, tenant string, kind action.KeyKind, prefix string) ([]ScanResult, error)
	// ScanKeysByKind returns every non-expired (key, value) pair of kind
	// across every namespace/tenant. O(N); background workers must prefer
	// a timeout/chain-ready index over this on the hot path (§4.1).
	ScanKeysByKind(ctx context.Context, kind action.KeyKind) ([]ScanResult, error)

	// IndexTimeout records key as due at dueAt in the timeout index so
	// background workers can scan it in O(log N + M) instead of scanning
	// every key of a kind.
	IndexTimeout(ctx context.Context, index string, key action.StateKey, dueAt time.Time) error
	// PopDueTimeouts returns and removes up to limit keys whose dueAt is
	// <= now from the named index.
	PopDueTimeouts(ctx context.Context, index string, now time.Time, limit int) ([]action.StateKey, error)
	RemoveTimeout(ctx context.Context, index string, key action.StateKey) error

	Close() error
}

// DistributedLock provides cooperative, owner-token based mutual exclusion
// over a lock name, polled at ~50ms intervals for Acquire (§9).
type DistributedLock interface {
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (LockGuard, bool, error)
	Acquire(ctx context.Context, name string, ttl, waitTimeout time.Duration) (LockGuard, error)
	Close() error
}

// LockGuard represents a held lock; Release and Extend are no-ops (with
// ErrLockNotHeld) once ownership has been lost.
type LockGuard interface {
	Name() string
	Owner() string
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
	IsHeld(ctx context.Context) (bool, error)
}

// LockPollInterval is the interval Acquire polls at while waiting for a
// contended lock, matching the original Rust implementation's constant.
const LockPollInterval = 50 * time.Millisecond
