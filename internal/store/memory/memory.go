// Package memory implements an in-process store.StateStore and
// store.DistributedLock, suitable for single-node deployments and tests.
// TTL expiry is checked lazily on read, the same way the teacher's CRD
// state manager expires entries on Get/ListKeys rather than with a
// background sweep.
package memory

import (
	"container/heap"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acteon-dev/acteon/internal/action"
	"github.com/acteon-dev/acteon/internal/store"
)

type record struct {
	value     []byte
	version   int64
	expiresAt time.Time
}

func (r record) expired(now time.Time) bool {
	return !r.expiresAt.IsZero() && now.After(r.expiresAt)
}

// Store is a mutex-guarded map backend.
type Store struct {
	mu      sync.Mutex
	data    map[string]record
	indexes map[string]*timeoutIndex
}

func New() *Store {
	return &Store{
		data:    make(map[string]record),
		indexes: make(map[string]*timeoutIndex),
	}
}

func (s *Store) Get(_ context.Context, key action.StateKey) (store.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key)
}

func (s *Store) getLocked(key action.StateKey) (store.Entry, error) {
	r, ok := s.data[key.String()]
	if !ok || r.expired(time.Now()) {
		if ok {
			delete(s.data, key.String())
		}
		return store.Entry{}, store.ErrNotFound
	}
	return store.Entry{Value: r.value, Version: r.version, ExpiresAt: r.expiresAt}, nil
}

func (s *Store) Set(_ context.Context, key action.StateKey, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key.String()
	version := int64(1)
	if existing, ok := s.data[k]; ok && !existing.expired(time.Now()) {
		version = existing.version + 1
	}
	s.data[k] = record{value: value, version: version, expiresAt: expiryFor(ttl)}
	return nil
}

func (s *Store) CheckAndSet(_ context.Context, key action.StateKey, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key.String()
	if existing, ok := s.data[k]; ok && !existing.expired(time.Now()) {
		return false, nil
	}
	s.data[k] = record{value: value, version: 1, expiresAt: expiryFor(ttl)}
	return true, nil
}

func (s *Store) CompareAndSwap(_ context.Context, key action.StateKey, expectedVersion int64, value []byte, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key.String()
	existing, ok := s.data[k]
	if ok && existing.expired(time.Now()) {
		ok = false
	}
	current := int64(0)
	if ok {
		current = existing.version
	}
	if current != expectedVersion {
		return current, store.ErrVersionConflict
	}
	next := current + 1
	s.data[k] = record{value: value, version: next, expiresAt: expiryFor(ttl)}
	return next, nil
}

func (s *Store) Delete(_ context.Context, key action.StateKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key.String())
	return nil
}

func (s *Store) Increment(_ context.Context, key action.StateKey, delta int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key.String()
	existing, ok := s.data[k]
	if !ok || existing.expired(time.Now()) {
		existing = record{expiresAt: expiryFor(ttl)}
	}
	var current int64
	if len(existing.value) > 0 {
		fmt.Sscanf(string(existing.value), "%d", &current)
	}
	current += delta
	existing.value = []byte(fmt.Sprintf("%d", current))
	existing.version++
	s.data[k] = existing
	return current, nil
}

// ScanKeys linear-scans the map for non-expired entries addressed to
// namespace/tenant/kind whose ID has the given prefix.
func (s *Store) ScanKeys(_ context.Context, namespace, tenant string, kind action.KeyKind, prefix string) ([]store.ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []store.ScanResult
	for k, r := range s.data {
		if r.expired(now) {
			delete(s.data, k)
			continue
		}
		key, err := action.ParseKey(k)
		if err != nil {
			continue
		}
		if key.Namespace != namespace || key.Tenant != tenant || key.Kind != kind {
			continue
		}
		if prefix != "" && !strings.HasPrefix(key.ID, prefix) {
			continue
		}
		out = append(out, store.ScanResult{Key: key, Value: r.value})
	}
	return out, nil
}

// ScanKeysByKind linear-scans the map for every non-expired entry of
// kind, across every namespace/tenant (§4.1: O(N), background workers
// should prefer a timeout index instead).
func (s *Store) ScanKeysByKind(_ context.Context, kind action.KeyKind) ([]store.ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []store.ScanResult
	for k, r := range s.data {
		if r.expired(now) {
			delete(s.data, k)
			continue
		}
		key, err := action.ParseKey(k)
		if err != nil {
			continue
		}
		if key.Kind != kind {
			continue
		}
		out = append(out, store.ScanResult{Key: key, Value: r.value})
	}
	return out, nil
}

func expiryFor(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

// timeoutIndex is a min-heap ordered by dueAt, mirroring the "in-memory
// heap" timeout-index example from the component design.
type timeoutIndex struct {
	items []indexItem
}

type indexItem struct {
	key   action.StateKey
	dueAt time.Time
}

func (h timeoutIndex) Len() int            { return len(h.items) }
func (h timeoutIndex) Less(i, j int) bool  { return h.items[i].dueAt.Before(h.items[j].dueAt) }
func (h timeoutIndex) Swap(i, j int)       { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *timeoutIndex) Push(x interface{}) { h.items = append(h.items, x.(indexItem)) }
func (h *timeoutIndex) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

func (s *Store) IndexTimeout(_ context.Context, index string, key action.StateKey, dueAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indexes[index]
	if !ok {
		idx = &timeoutIndex{}
		s.indexes[index] = idx
	}
	heap.Push(idx, indexItem{key: key, dueAt: dueAt})
	return nil
}

func (s *Store) PopDueTimeouts(_ context.Context, index string, now time.Time, limit int) ([]action.StateKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indexes[index]
	if !ok {
		return nil, nil
	}
	var out []action.StateKey
	for len(idx.items) > 0 && len(out) < limit {
		top := idx.items[0]
		if top.dueAt.After(now) {
			break
		}
		heap.Pop(idx)
		out = append(out, top.key)
	}
	return out, nil
}

func (s *Store) RemoveTimeout(_ context.Context, index string, key action.StateKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indexes[index]
	if !ok {
		return nil
	}
	for i, it := range idx.items {
		if it.key.String() == key.String() {
			heap.Remove(idx, i)
			break
		}
	}
	return nil
}

func (s *Store) Close() error { return nil }

// Lock is an in-process DistributedLock for single-node deployments and
// tests; real cross-node exclusion requires the redisstore implementation.
type Lock struct {
	mu    sync.Mutex
	held  map[string]heldLock
}

type heldLock struct {
	owner     string
	expiresAt time.Time
}

func NewLock() *Lock {
	return &Lock{held: make(map[string]heldLock)}
}

func (l *Lock) TryAcquire(_ context.Context, name string, ttl time.Duration) (store.LockGuard, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if h, ok := l.held[name]; ok && h.expiresAt.After(now) {
		return nil, false, nil
	}
	owner := uuid.NewString()
	l.held[name] = heldLock{owner: owner, expiresAt: now.Add(ttl)}
	return &guard{lock: l, name: name, owner: owner}, true, nil
}

func (l *Lock) Acquire(ctx context.Context, name string, ttl, waitTimeout time.Duration) (store.LockGuard, error) {
	deadline := time.Now().Add(waitTimeout)
	for {
		g, ok, err := l.TryAcquire(ctx, name, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return g, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("acquire lock %q: timed out after %s", name, waitTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(store.LockPollInterval):
		}
	}
}

func (l *Lock) Close() error { return nil }

type guard struct {
	lock  *Lock
	name  string
	owner string
}

func (g *guard) Name() string  { return g.name }
func (g *guard) Owner() string { return g.owner }

func (g *guard) Extend(_ context.Context, ttl time.Duration) error {
	g.lock.mu.Lock()
	defer g.lock.mu.Unlock()
	h, ok := g.lock.held[g.name]
	if !ok || h.owner != g.owner {
		return store.ErrLockNotHeld
	}
	h.expiresAt = time.Now().Add(ttl)
	g.lock.held[g.name] = h
	return nil
}

func (g *guard) Release(_ context.Context) error {
	g.lock.mu.Lock()
	defer g.lock.mu.Unlock()
	h, ok := g.lock.held[g.name]
	if !ok || h.owner != g.owner {
		return store.ErrLockNotHeld
	}
	delete(g.lock.held, g.name)
	return nil
}

func (g *guard) IsHeld(_ context.Context) (bool, error) {
	g.lock.mu.Lock()
	defer g.lock.mu.Unlock()
	h, ok := g.lock.held[g.name]
	return ok && h.owner == g.owner && h.expiresAt.After(time.Now()), nil
}
