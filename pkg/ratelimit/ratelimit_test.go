package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterBlocksAfterMax(t *testing.T) {
	backend := NewMemoryBackend()
	limiter := NewLimiter(backend, Tier{Name: "test", Window: time.Minute, Max: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := limiter.Check(ctx, "k1")
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	res, err := limiter.Check(ctx, "k1")
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestFailedLoginTrackerLocksAtFiveFailures(t *testing.T) {
	backend := NewMemoryBackend()
	tracker := NewFailedLoginTracker(backend)
	ctx := context.Background()

	var rec *FailedLoginRecord
	for i := 0; i < 5; i++ {
		var err error
		rec, _, err = tracker.RecordFailure(ctx, "bob@example.com")
		require.NoError(t, err)
	}
	require.True(t, rec.Blocked)

	blocked, remaining, err := tracker.CheckBlocked(ctx, "bob@example.com")
	require.NoError(t, err)
	require.True(t, blocked)
	require.Greater(t, remaining, int64(0))
}

func TestFailedLoginTrackerResetsOnSuccess(t *testing.T) {
	backend := NewMemoryBackend()
	tracker := NewFailedLoginTracker(backend)
	ctx := context.Background()

	_, _, err := tracker.RecordFailure(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, tracker.RecordSuccess(ctx, "k"))

	blocked, _, err := tracker.CheckBlocked(ctx, "k")
	require.NoError(t, err)
	require.False(t, blocked)
}

func TestFallbackBackendDegradesOnPrimaryError(t *testing.T) {
	failing := failingBackend{}
	var degraded bool
	fb := NewFallbackBackend(failing, NewMemoryBackend(), func(err error) { degraded = true })

	ctx := context.Background()
	n, err := fb.Incr(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.True(t, degraded)
	require.True(t, fb.Degraded())
	require.False(t, fb.Healthy(ctx))
}

type failingBackend struct{}

func (failingBackend) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, assertErr
}
func (failingBackend) Get(context.Context, string) ([]byte, bool, error) { return nil, false, assertErr }
func (failingBackend) Set(context.Context, string, []byte, time.Duration) error { return assertErr }
func (failingBackend) Del(context.Context, string) error                       { return assertErr }
func (failingBackend) Healthy(context.Context) bool                            { return false }

var assertErr = errFailing("primary unreachable")

type errFailing string

func (e errFailing) Error() string { return string(e) }
