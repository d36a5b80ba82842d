// Package session implements the refresh-session store: uniqueness on
// token hash, rotation, family-based reuse detection, and per-user
// enumeration/revocation. The raw refresh token is never persisted or
// cached — only its SHA-256 hash ever touches storage.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/railguard/sentinel/internal/domain/entities"
	"github.com/railguard/sentinel/pkg/tokens"
)

// ErrAlreadyRotated is returned by Repository.Create on a hash-uniqueness
// conflict — the race-safe signal the rotation protocol turns into
// apperr.Conflict("refresh_in_progress", ...).
var ErrAlreadyRotated = errors.New("session: refresh session hash already exists")

// ErrNotFound is returned when no session (active or revoked) matches
// the presented hash at all.
var ErrNotFound = errors.New("session: not found")

// ErrReuseDetected signals that a revoked-but-not-yet-expired session
// hash was presented again — the entire family must be treated as
// compromised.
var ErrReuseDetected = errors.New("session: refresh token reuse detected")

// ErrRevokedOrExpired is returned for a hash that resolves to a session
// that is revoked (without qualifying as reuse, e.g. past its original
// TTL) or expired.
var ErrRevokedOrExpired = errors.New("session: session revoked or expired")

const maxConcurrentSessions = 10

// Repository is the persistence contract this service drives; the
// Postgres implementation lives in
// internal/infrastructure/repositories.
type Repository interface {
	Create(ctx context.Context, s *entities.RefreshSession) error
	GetByHash(ctx context.Context, hash string) (*entities.RefreshSession, error)
	Revoke(ctx context.Context, id, reason string) error
	RevokeFamily(ctx context.Context, family, reason string) error
	RevokeAllForUser(ctx context.Context, userID, reason string) error
	ListActive(ctx context.Context, userID string) ([]*entities.RefreshSession, error)
	UpdateLastUsed(ctx context.Context, id string) error
	CountActive(ctx context.Context, userID string) (int, error)
	OldestActive(ctx context.Context, userID string) (*entities.RefreshSession, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

type Service struct {
	repo   Repository
	logger *zap.Logger
}

func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Create persists a new refresh session, enforcing the per-user
// concurrent-session limit by evicting the oldest session first.
func (s *Service) Create(ctx context.Context, rawToken, userID string, device entities.DeviceSnapshot, family string, expiresAt time.Time) (*entities.RefreshSession, error) {
	count, err := s.repo.CountActive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("session: count active: %w", err)
	}
	if count >= maxConcurrentSessions {
		if oldest, err := s.repo.OldestActive(ctx, userID); err == nil && oldest != nil {
			_ = s.repo.Revoke(ctx, oldest.ID, "concurrent_session_limit")
		}
	}

	sess := &entities.RefreshSession{
		ID:          uuid.NewString(),
		UserID:      userID,
		HashedToken: tokens.HashToken(rawToken),
		Family:      family,
		Device:      device,
		CreatedAt:   time.Now(),
		LastUsedAt:  time.Now(),
		ExpiresAt:   expiresAt,
	}

	if err := s.repo.Create(ctx, sess); err != nil {
		if errors.Is(err, ErrAlreadyRotated) {
			return nil, ErrAlreadyRotated
		}
		return nil, fmt.Errorf("session: create: %w", err)
	}
	return sess, nil
}

// Validate looks up a presented refresh token by hash. A hash that
// resolves to a revoked session within what would have been its
// original TTL window
// is reported as ErrReuseDetected so the caller can revoke the whole
// family and audit the event as suspicious, rather than silently
// failing as "not found".
func (s *Service) Validate(ctx context.Context, rawToken string) (*entities.RefreshSession, error) {
	hash := tokens.HashToken(rawToken)
	sess, err := s.repo.GetByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("session: lookup: %w", err)
	}
	if sess == nil {
		return nil, ErrNotFound
	}

	now := time.Now()
	if sess.Revoked {
		if now.Before(sess.ExpiresAt) {
			return sess, ErrReuseDetected
		}
		return sess, ErrRevokedOrExpired
	}
	if !now.Before(sess.ExpiresAt) {
		return sess, ErrRevokedOrExpired
	}

	return sess, nil
}

func (s *Service) Revoke(ctx context.Context, id, reason string) error {
	return s.repo.Revoke(ctx, id, reason)
}

func (s *Service) RevokeFamily(ctx context.Context, family, reason string) error {
	return s.repo.RevokeFamily(ctx, family, reason)
}

func (s *Service) RevokeAll(ctx context.Context, userID, reason string) error {
	return s.repo.RevokeAllForUser(ctx, userID, reason)
}

func (s *Service) ListActive(ctx context.Context, userID string) ([]*entities.RefreshSession, error) {
	return s.repo.ListActive(ctx, userID)
}

// RevokeByID revokes a specific session, but only if it belongs to
// userID — the owner check the spec mandates for per-session revocation.
func (s *Service) RevokeByID(ctx context.Context, userID, sessionID string) error {
	active, err := s.repo.ListActive(ctx, userID)
	if err != nil {
		return err
	}
	for _, sess := range active {
		if sess.ID == sessionID {
			return s.repo.Revoke(ctx, sessionID, "user_requested")
		}
	}
	return ErrNotFound
}

func (s *Service) Touch(ctx context.Context, sessionID string) {
	if err := s.repo.UpdateLastUsed(ctx, sessionID); err != nil {
		s.logger.Warn("session: failed to update last_used_at", zap.Error(err))
	}
}

// EvictExpired purges sessions past their TTL or long-revoked, called
// from the periodic sweep rather than per-request.
func (s *Service) EvictExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx)
}
