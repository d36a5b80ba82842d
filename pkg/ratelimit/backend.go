// Package ratelimit implements the rate-limit and failed-login tracking
// layer: fixed-window counters keyed by IP or a composite key, and a
// failed-login record with progressive delay and
// lockout. Both share a pluggable Backend so the same logic runs against
// Redis in production and an in-process map in tests or when Redis is
// unreachable — the contract is graceful degradation, never a hard
// dependency on the distributed store.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend is the minimal counter/record store both limiter layers need.
type Backend interface {
	// Incr increments key by 1, setting its TTL to window only on first
	// creation, and returns the post-increment count.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	// Get returns the raw bytes stored at key, or (nil, false) if absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value at key with the given TTL (0 = no expiry).
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Del removes key.
	Del(ctx context.Context, key string) error
	// Healthy reports whether the backend is currently reachable.
	Healthy(ctx context.Context) bool
}

// RedisBackend is the production Backend, backed by go-redis/v9.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := b.client.TxPipeline()
	pipe.SetNX(ctx, key, 0, window)
	incr := pipe.Incr(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := b.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

func (b *RedisBackend) Del(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

func (b *RedisBackend) Healthy(ctx context.Context) bool {
	return b.client.Ping(ctx).Err() == nil
}

// MemoryBackend is the in-process fallback used when Redis is disabled
// or unreachable. It guards per-key atomicity with a single mutex —
// adequate here since the critical section is a handful of map
// operations, never an I/O call.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	value   []byte
	count   int64
	expires time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]memEntry)}
}

func (b *MemoryBackend) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	e, ok := b.entries[key]
	if !ok || now.After(e.expires) {
		e = memEntry{count: 1, expires: now.Add(window)}
		b.entries[key] = e
		return 1, nil
	}
	e.count++
	b.entries[key] = e
	return e.count, nil
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		delete(b.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	b.entries[key] = memEntry{value: value, expires: expires}
	return nil
}

func (b *MemoryBackend) Del(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
	return nil
}

func (b *MemoryBackend) Healthy(_ context.Context) bool { return true }

// Evict drops expired entries; callers run this on a periodic sweep,
// every 5 minutes.
func (b *MemoryBackend) Evict() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	for k, e := range b.entries {
		if !e.expires.IsZero() && now.After(e.expires) {
			delete(b.entries, k)
		}
	}
}

// FallbackBackend wraps a primary Backend (Redis) with a memory
// fallback: on any primary error it logs nothing itself (callers own
// logging/metrics) and transparently serves the in-memory copy, so a
// Redis outage degrades rate limiting instead of taking the API down.
type FallbackBackend struct {
	primary   Backend
	fallback  *MemoryBackend
	onDegrade func(err error)

	mu           sync.RWMutex
	degradedFlag bool
}

// NewFallbackBackend wraps primary with fallback as the degrade-to
// target. Callers share one MemoryBackend instance across every
// FallbackBackend they build so a single periodic sweep (see
// internal/workers.SweepWorker) evicts expired entries from the store
// actually serving degraded traffic.
func NewFallbackBackend(primary Backend, fallback *MemoryBackend, onDegrade func(err error)) *FallbackBackend {
	return &FallbackBackend{primary: primary, fallback: fallback, onDegrade: onDegrade}
}

// Degraded reports whether the most recent operation fell back to the
// in-process store — exposed on health endpoints per spec.md §4.4
// ("health endpoints expose whether distributed mode is active").
func (b *FallbackBackend) Degraded() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.degradedFlag
}

func (b *FallbackBackend) degrade(err error) {
	b.mu.Lock()
	b.degradedFlag = true
	b.mu.Unlock()
	if b.onDegrade != nil {
		b.onDegrade(err)
	}
}

func (b *FallbackBackend) markHealthy() {
	b.mu.Lock()
	b.degradedFlag = false
	b.mu.Unlock()
}

func (b *FallbackBackend) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := b.primary.Incr(ctx, key, window)
	if err != nil {
		b.degrade(err)
		return b.fallback.Incr(ctx, key, window)
	}
	b.markHealthy()
	return n, nil
}

func (b *FallbackBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok, err := b.primary.Get(ctx, key)
	if err != nil {
		b.degrade(err)
		return b.fallback.Get(ctx, key)
	}
	b.markHealthy()
	return v, ok, nil
}

func (b *FallbackBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := b.primary.Set(ctx, key, value, ttl); err != nil {
		b.degrade(err)
		return b.fallback.Set(ctx, key, value, ttl)
	}
	b.markHealthy()
	return nil
}

func (b *FallbackBackend) Del(ctx context.Context, key string) error {
	if err := b.primary.Del(ctx, key); err != nil {
		b.degrade(err)
		return b.fallback.Del(ctx, key)
	}
	b.markHealthy()
	return nil
}

// Healthy reports the primary's reachability directly; Degraded
// additionally records whether the last actual operation had to fall
// back, which catches primaries that answer Ping but fail real calls.
func (b *FallbackBackend) Healthy(ctx context.Context) bool {
	return b.primary.Healthy(ctx) && !b.Degraded()
}
