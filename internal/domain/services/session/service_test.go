package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/railguard/sentinel/internal/domain/entities"
)

// fakeRepo is an in-memory Repository used to exercise the rotation and
// reuse-detection logic without a database.
type fakeRepo struct {
	mu       sync.Mutex
	byHash   map[string]*entities.RefreshSession
	byID     map[string]*entities.RefreshSession
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byHash: map[string]*entities.RefreshSession{}, byID: map[string]*entities.RefreshSession{}}
}

func (r *fakeRepo) Create(_ context.Context, s *entities.RefreshSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byHash[s.HashedToken]; exists {
		return ErrAlreadyRotated
	}
	cp := *s
	r.byHash[s.HashedToken] = &cp
	r.byID[s.ID] = &cp
	return nil
}

func (r *fakeRepo) GetByHash(_ context.Context, hash string) (*entities.RefreshSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byHash[hash]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *fakeRepo) Revoke(_ context.Context, id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return nil
	}
	now := time.Now()
	s.Revoked = true
	s.RevokedAt = &now
	s.RevokedReason = reason
	r.byHash[s.HashedToken] = s
	return nil
}

func (r *fakeRepo) RevokeFamily(_ context.Context, family, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, s := range r.byID {
		if s.Family == family {
			s.Revoked = true
			s.RevokedAt = &now
			s.RevokedReason = reason
		}
	}
	return nil
}

func (r *fakeRepo) RevokeAllForUser(_ context.Context, userID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, s := range r.byID {
		if s.UserID == userID {
			s.Revoked = true
			s.RevokedAt = &now
			s.RevokedReason = reason
		}
	}
	return nil
}

func (r *fakeRepo) ListActive(_ context.Context, userID string) ([]*entities.RefreshSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.RefreshSession
	for _, s := range r.byID {
		if s.UserID == userID && s.IsActive(time.Now()) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) UpdateLastUsed(_ context.Context, id string) error { return nil }

func (r *fakeRepo) CountActive(_ context.Context, userID string) (int, error) {
	active, _ := r.ListActive(context.Background(), userID)
	return len(active), nil
}

func (r *fakeRepo) OldestActive(_ context.Context, userID string) (*entities.RefreshSession, error) {
	active, _ := r.ListActive(context.Background(), userID)
	if len(active) == 0 {
		return nil, nil
	}
	oldest := active[0]
	for _, s := range active[1:] {
		if s.CreatedAt.Before(oldest.CreatedAt) {
			oldest = s
		}
	}
	return oldest, nil
}

func newTestService() *Service {
	return NewService(newFakeRepo(), zap.NewNop())
}

func TestCreateRejectsDuplicateHash(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	dev := entities.DeviceSnapshot{DeviceID: "d1"}

	_, err := svc.Create(ctx, "raw-token", "user-1", dev, "family-1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = svc.Create(ctx, "raw-token", "user-1", dev, "family-2", time.Now().Add(time.Hour))
	require.ErrorIs(t, err, ErrAlreadyRotated)
}

func TestValidateNotFound(t *testing.T) {
	svc := newTestService()
	_, err := svc.Validate(context.Background(), "never-issued")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRotateOnceThenReuseDetected(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	dev := entities.DeviceSnapshot{DeviceID: "d1"}

	r1, err := svc.Create(ctx, "R1", "user-1", dev, "family-1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	// first refresh: revoke R1, mint R2 under a new family
	sess, err := svc.Validate(ctx, "R1")
	require.NoError(t, err)
	require.Equal(t, r1.ID, sess.ID)
	require.NoError(t, svc.Revoke(ctx, sess.ID, "rotated"))

	_, err = svc.Create(ctx, "R2", "user-1", dev, "family-2", time.Now().Add(time.Hour))
	require.NoError(t, err)

	// second presentation of R1 must be reuse, not silent not-found
	_, err = svc.Validate(ctx, "R1")
	require.ErrorIs(t, err, ErrReuseDetected)
}

func TestRevokeFamilyRevokesAllMembers(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	dev := entities.DeviceSnapshot{DeviceID: "d1"}

	a, err := svc.Create(ctx, "A", "user-1", dev, "family-x", time.Now().Add(time.Hour))
	require.NoError(t, err)
	b, err := svc.Create(ctx, "B", "user-1", dev, "family-x", time.Now().Add(time.Hour))
	require.NoError(t, err)
	_ = a
	_ = b

	require.NoError(t, svc.RevokeFamily(ctx, "family-x", "reuse_detected"))

	active, err := svc.ListActive(ctx, "user-1")
	require.NoError(t, err)
	require.Empty(t, active)
}
