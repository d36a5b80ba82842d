package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	FailedLoginWindow   = 15 * time.Minute
	FailedLoginMaxCount = 5
	LockoutDuration     = 30 * time.Minute
)

// ProgressiveDelays is indexed by min(count, len-1) and returned to the
// caller as the delay to apply before the login handler runs, slowing
// down brute-force attempts without yet blocking them outright.
var ProgressiveDelays = []time.Duration{
	0,
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
}

// FailedLoginRecord is the per-key state.
type FailedLoginRecord struct {
	Count        int       `json:"count"`
	FirstAttempt time.Time `json:"firstAttempt"`
	LastAttempt  time.Time `json:"lastAttempt"`
	Blocked      bool      `json:"blocked"`
	BlockedUntil time.Time `json:"blockedUntil"`
}

// FailedLoginTracker tracks failed-login attempts with progressive
// delay and lockout. It serializes read-modify-write on a given key by
// routing every mutation
// through Backend.Set under the key's own entry — callers share one
// Backend instance per process so concurrent requests for the same key
// observe a consistent sequence (the MemoryBackend mutex, or Redis's
// own atomicity, provides the actual serialization).
type FailedLoginTracker struct {
	backend Backend
}

func NewFailedLoginTracker(backend Backend) *FailedLoginTracker {
	return &FailedLoginTracker{backend: backend}
}

func key(k string) string { return fmt.Sprintf("failedlogin:%s", k) }

func (t *FailedLoginTracker) load(ctx context.Context, k string) (*FailedLoginRecord, error) {
	raw, ok, err := t.backend.Get(ctx, key(k))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var rec FailedLoginRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (t *FailedLoginTracker) save(ctx context.Context, k string, rec *FailedLoginRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	// Keep the record alive somewhat past the max of window/lockout so a
	// blocked caller's remaining-time computation stays valid.
	return t.backend.Set(ctx, key(k), raw, FailedLoginWindow+LockoutDuration)
}

// CheckBlocked returns (blocked, remainingSeconds).
func (t *FailedLoginTracker) CheckBlocked(ctx context.Context, k string) (bool, int64, error) {
	rec, err := t.load(ctx, k)
	if err != nil || rec == nil {
		return false, 0, err
	}
	if rec.Blocked && time.Now().Before(rec.BlockedUntil) {
		return true, int64(time.Until(rec.BlockedUntil).Seconds()), nil
	}
	return false, 0, nil
}

// RecordFailure applies one failed attempt and returns the resulting
// record and the progressive delay to apply before responding.
func (t *FailedLoginTracker) RecordFailure(ctx context.Context, k string) (*FailedLoginRecord, time.Duration, error) {
	now := time.Now()
	rec, err := t.load(ctx, k)
	if err != nil {
		return nil, 0, err
	}

	if rec == nil || now.Sub(rec.FirstAttempt) > FailedLoginWindow {
		rec = &FailedLoginRecord{Count: 1, FirstAttempt: now, LastAttempt: now}
	} else {
		rec.Count++
		rec.LastAttempt = now
	}

	if rec.Count >= FailedLoginMaxCount {
		rec.Blocked = true
		rec.BlockedUntil = now.Add(LockoutDuration)
	}

	if err := t.save(ctx, k, rec); err != nil {
		return nil, 0, err
	}

	idx := rec.Count
	if idx >= len(ProgressiveDelays) {
		idx = len(ProgressiveDelays) - 1
	}
	return rec, ProgressiveDelays[idx], nil
}

// RecordSuccess clears the record for a key after a successful login.
func (t *FailedLoginTracker) RecordSuccess(ctx context.Context, k string) error {
	return t.backend.Del(ctx, key(k))
}
