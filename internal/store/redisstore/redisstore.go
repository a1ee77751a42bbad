// Package redisstore implements store.StateStore and store.DistributedLock
// on top of Redis, using Lua scripts for the atomic check-and-set,
// compare-and-swap, increment and lock primitives the way the original
// acteon-state-redis crate does, and sorted sets for the timeout/chain
// ready indexes.
package redisstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/acteon-dev/acteon/internal/action"
	"github.com/acteon-dev/acteon/internal/store"
)

const versionField = "v"
const valueField = "b"

var checkAndSetScript = redis.NewScript(`
local exists = redis.call("EXISTS", KEYS[1])
if exists == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "b", ARGV[1], "v", 1)
if tonumber(ARGV[2]) > 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 1
`)

var compareAndSwapScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], "v")
local expected = tonumber(ARGV[1])
if current == false then
  current = 0
else
  current = tonumber(current)
end
if current ~= expected then
  return {0, current}
end
local next = current + 1
redis.call("HSET", KEYS[1], "b", ARGV[2], "v", next)
if tonumber(ARGV[3]) > 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[3])
end
return {1, next}
`)

var incrementScript = redis.NewScript(`
local next = redis.call("HINCRBY", KEYS[1], "b", ARGV[1])
if tonumber(ARGV[2]) > 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return next
`)

var lockAcquireScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

var lockExtendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
  return 0
end
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return 1
`)

var lockReleaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
  return 0
end
redis.call("DEL", KEYS[1])
return 1
`)

// Store is a Redis-backed StateStore.
type Store struct {
	client *redis.Client
	prefix string
}

// New wraps an existing redis client. prefix namespaces all keys this
// store writes (so multiple deployments can share one Redis instance).
func New(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) redisKey(key action.StateKey) string {
	return s.prefix + ":" + key.String()
}

func (s *Store) Get(ctx context.Context, key action.StateKey) (store.Entry, error) {
	res, err := s.client.HGetAll(ctx, s.redisKey(key)).Result()
	if err != nil {
		return store.Entry{}, err
	}
	if len(res) == 0 {
		return store.Entry{}, store.ErrNotFound
	}
	var version int64
	fmt.Sscanf(res[versionField], "%d", &version)
	ttl, err := s.client.PTTL(ctx, s.redisKey(key)).Result()
	if err != nil {
		return store.Entry{}, err
	}
	entry := store.Entry{Value: []byte(res[valueField]), Version: version}
	if ttl > 0 {
		entry.ExpiresAt = time.Now().Add(ttl)
	}
	return entry, nil
}

func (s *Store) Set(ctx context.Context, key action.StateKey, value []byte, ttl time.Duration) error {
	rk := s.redisKey(key)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, rk, valueField, value)
	pipe.HIncrBy(ctx, rk, versionField, 1)
	if ttl > 0 {
		pipe.PExpire(ctx, rk, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) CheckAndSet(ctx context.Context, key action.StateKey, value []byte, ttl time.Duration) (bool, error) {
	res, err := checkAndSetScript.Run(ctx, s.client, []string{s.redisKey(key)}, value, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, key action.StateKey, expectedVersion int64, value []byte, ttl time.Duration) (int64, error) {
	res, err := compareAndSwapScript.Run(ctx, s.client, []string{s.redisKey(key)}, expectedVersion, value, ttl.Milliseconds()).Slice()
	if err != nil {
		return 0, err
	}
	ok, _ := res[0].(int64)
	next, _ := res[1].(int64)
	if ok == 0 {
		return next, store.ErrVersionConflict
	}
	return next, nil
}

func (s *Store) Delete(ctx context.Context, key action.StateKey) error {
	return s.client.Del(ctx, s.redisKey(key)).Err()
}

func (s *Store) Increment(ctx context.Context, key action.StateKey, delta int64, ttl time.Duration) (int64, error) {
	return incrementScript.Run(ctx, s.client, []string{s.redisKey(key)}, delta, ttl.Milliseconds()).Int64()
}

const scanBatchSize = 200

// ScanKeys uses SCAN with a MATCH pattern over the canonical key layout
// (prefix:namespace:tenant:kind:id) to bound the scan to one
// namespace/tenant/kind, optionally further narrowed by an ID prefix.
func (s *Store) ScanKeys(ctx context.Context, namespace, tenant string, kind action.KeyKind, prefix string) ([]store.ScanResult, error) {
	pattern := fmt.Sprintf("%s:%s:%s:%s:%s*", s.prefix, namespace, tenant, kind.String(), prefix)
	return s.scan(ctx, pattern)
}

// ScanKeysByKind uses SCAN with a MATCH pattern wildcarding
// namespace/tenant, returning every entry of kind across every tenant
// (§4.1: O(N), prefer a timeout index on the hot path).
func (s *Store) ScanKeysByKind(ctx context.Context, kind action.KeyKind) ([]store.ScanResult, error) {
	pattern := fmt.Sprintf("%s:*:*:%s:*", s.prefix, kind.String())
	return s.scan(ctx, pattern)
}

func (s *Store) scan(ctx context.Context, pattern string) ([]store.ScanResult, error) {
	var out []store.ScanResult
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return nil, err
		}
		for _, rk := range keys {
			res, err := s.client.HGetAll(ctx, rk).Result()
			if err != nil || len(res) == 0 {
				continue // expired or deleted between SCAN and HGETALL
			}
			key, err := action.ParseKey(strings.TrimPrefix(rk, s.prefix+":"))
			if err != nil {
				continue
			}
			out = append(out, store.ScanResult{Key: key, Value: []byte(res[valueField])})
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

func (s *Store) indexKey(index string) string {
	return s.prefix + ":idx:" + index
}

func (s *Store) IndexTimeout(ctx context.Context, index string, key action.StateKey, dueAt time.Time) error {
	return s.client.ZAdd(ctx, s.indexKey(index), redis.Z{
		Score:  float64(dueAt.UnixMilli()),
		Member: key.String(),
	}).Err()
}

func (s *Store) PopDueTimeouts(ctx context.Context, index string, now time.Time, limit int) ([]action.StateKey, error) {
	members, err := s.client.ZRangeByScore(ctx, s.indexKey(index), &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]action.StateKey, 0, len(members))
	for _, m := range members {
		k, err := action.ParseKey(m)
		if err != nil {
			continue
		}
		out = append(out, k)
	}
	if len(members) > 0 {
		if err := s.client.ZRem(ctx, s.indexKey(index), members).Err(); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (s *Store) RemoveTimeout(ctx context.Context, index string, key action.StateKey) error {
	return s.client.ZRem(ctx, s.indexKey(index), key.String()).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

// Lock is a Redis-backed DistributedLock using SET NX PX plus
// owner-token-checked Lua scripts for extend/release.
type Lock struct {
	client *redis.Client
	prefix string
}

func NewLock(client *redis.Client, prefix string) *Lock {
	return &Lock{client: client, prefix: prefix}
}

func (l *Lock) lockKey(name string) string {
	return l.prefix + ":lock:" + name
}

func (l *Lock) TryAcquire(ctx context.Context, name string, ttl time.Duration) (store.LockGuard, bool, error) {
	owner := uuid.NewString()
	res, err := lockAcquireScript.Run(ctx, l.client, []string{l.lockKey(name)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return nil, false, err
	}
	if res == 0 {
		return nil, false, nil
	}
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

func (g *guard) Extend(ctx context.Context, ttl time.Duration) error {
	res, err := lockExtendScript.Run(ctx, g.lock.client, []string{g.lock.lockKey(g.name)}, g.owner, ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if res == 0 {
		return store.ErrLockNotHeld
	}
	return nil
}

func (g *guard) Release(ctx context.Context) error {
	res, err := lockReleaseScript.Run(ctx, g.lock.client, []string{g.lock.lockKey(g.name)}, g.owner).Int()
	if err != nil {
		return err
	}
	if res == 0 {
		return store.ErrLockNotHeld
	}
	return nil
}

func (g *guard) IsHeld(ctx context.Context) (bool, error) {
	val, err := g.lock.client.Get(ctx, g.lock.lockKey(g.name)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == g.owner, nil
}
