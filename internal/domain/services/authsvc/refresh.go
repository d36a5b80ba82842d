package authsvc

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/railguard/sentinel/internal/domain/entities"
	"github.com/railguard/sentinel/internal/domain/services/session"
	"github.com/railguard/sentinel/pkg/apperr"
	"github.com/railguard/sentinel/pkg/tokens"
)

// ErrRefreshInProgress signals a uniqueness-conflict race on rotation:
// two concurrent refreshes of the same token must result in exactly
// one succeeding.
var ErrRefreshInProgress = errors.New("authsvc: refresh already in progress")

// ErrReuseDetected is returned when a revoked-but-unexpired refresh
// token hash is presented again; the caller has already had its whole
// session family revoked by the time this returns.
var ErrReuseDetected = errors.New("authsvc: refresh token reuse detected")

// Refresh executes the rotation protocol: verify, load user, check
// tokenVersion, revoke-then-insert, mint a new family.
func (s *Service) Refresh(ctx context.Context, refreshToken string, device DeviceInfo) (*TokenPair, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, apperr.Auth("invalid_refresh_token", "invalid or expired refresh token")
	}

	sess, err := s.sessions.Validate(ctx, refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrReuseDetected):
			_ = s.sessions.RevokeFamily(ctx, sess.Family, "reuse_detected")
			risk := 90
			s.auditRecord(ctx, entities.EventSecuritySuspiciousActivity, &claims.Subject, "refresh_reuse", "session", &sess.ID, entities.ResultFailure, nil, &risk)
			return nil, ErrReuseDetected
		case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrRevokedOrExpired):
			return nil, apperr.Auth("invalid_refresh_session", "refresh session invalid")
		default:
			return nil, fmt.Errorf("authsvc: validate session: %w", err)
		}
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("authsvc: load user: %w", err)
	}
	if user == nil || user.TokenVersion != claims.TokenVersion {
		return nil, apperr.Auth("token_version_mismatch", "session no longer valid")
	}

	if err := s.sessions.Revoke(ctx, sess.ID, "rotated"); err != nil {
		return nil, fmt.Errorf("authsvc: revoke presented session: %w", err)
	}

	newFamily := uuid.NewString()
	newRefresh, err := s.tokens.SignRefresh(user.ID, newFamily, user.TokenVersion)
	if err != nil {
		return nil, fmt.Errorf("authsvc: sign refresh: %w", err)
	}

	_, err = s.sessions.Create(ctx, newRefresh, user.ID, entities.DeviceSnapshot{
		DeviceID: device.DeviceID, DeviceName: device.DeviceName, UserAgent: device.UserAgent,
		IPAddress: device.IPAddress, Location: device.Location,
	}, newFamily, sess.ExpiresAt)
	if err != nil {
		if errors.Is(err, session.ErrAlreadyRotated) {
			return nil, ErrRefreshInProgress
		}
		return nil, fmt.Errorf("authsvc: create rotated session: %w", err)
	}

	accessToken, err := s.tokens.SignAccess(tokens.UserForToken{
		ID: user.ID, Email: user.Email, Role: string(user.Role), TokenVersion: user.TokenVersion,
	}, device.Fingerprint, device.IPAddress)
	if err != nil {
		return nil, fmt.Errorf("authsvc: sign access: %w", err)
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: newRefresh, ExpiresIn: int(tokens.DefaultAccessTTL.Seconds())}, nil
}

// Logout revokes the single presented refresh session.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	sess, err := s.sessions.Validate(ctx, refreshToken)
	if err != nil {
		return nil // already invalid/expired: logout is idempotent
	}
	if err := s.sessions.Revoke(ctx, sess.ID, "logout"); err != nil {
		return fmt.Errorf("authsvc: revoke session: %w", err)
	}
	s.auditRecord(ctx, entities.EventAuthLogout, &sess.UserID, "logout", "session", &sess.ID, entities.ResultSuccess, nil, nil)
	return nil
}

// LogoutAll revokes every active session for a user.
func (s *Service) LogoutAll(ctx context.Context, userID, reason string) error {
	if err := s.sessions.RevokeAll(ctx, userID, reason); err != nil {
		return fmt.Errorf("authsvc: revoke all sessions: %w", err)
	}
	s.auditRecord(ctx, entities.EventAuthSessionRevoke, &userID, "logout_all", "session", nil, entities.ResultSuccess, nil, nil)
	return nil
}
