package authsvc

import (
	"context"
	"fmt"

	"github.com/railguard/sentinel/internal/domain/entities"
)

// ListSessions returns a user's active (owner-scoped) refresh sessions.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]*entities.RefreshSession, error) {
	return s.sessions.ListActive(ctx, userID)
}

// RevokeSession revokes one of a user's own sessions by id (owner check
// enforced by the session store).
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID string) error {
	if err := s.sessions.RevokeByID(ctx, userID, sessionID); err != nil {
		return fmt.Errorf("authsvc: revoke session: %w", err)
	}
	s.auditRecord(ctx, entities.EventAuthSessionRevoke, &userID, "session_revoke", "session", &sessionID, entities.ResultSuccess, nil, nil)
	return nil
}

// Me returns the caller's public profile.
func (s *Service) Me(ctx context.Context, userID string) (*entities.PublicProfile, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("authsvc: load user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredential
	}
	return user.ToPublicProfile(), nil
}
