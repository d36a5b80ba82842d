package authsvc

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/railguard/sentinel/internal/domain/entities"
)

// RequestPasswordReset is enumeration-safe: it always succeeds from the
// caller's point of view, only emailing a reset link when the account
// exists and is locally-provisioned.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return fmt.Errorf("authsvc: lookup email: %w", err)
	}
	if user == nil || user.Provider != entities.ProviderLocal {
		return nil
	}

	token, err := randomHexToken(32)
	if err != nil {
		return err
	}
	expires := time.Now().Add(passwordResetTTL)
	user.PasswordResetToken = &token
	user.PasswordResetExpires = &expires
	if err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("authsvc: persist reset token: %w", err)
	}

	if err := s.email.SendPasswordResetEmail(ctx, user.Email, token); err != nil {
		s.logger.Warn("authsvc: password reset email failed", zap.Error(err))
	}
	return nil
}

// ValidateResetToken reports whether token is a live, unexpired reset
// token, without consuming it.
func (s *Service) ValidateResetToken(ctx context.Context, token string) (bool, error) {
	user, err := s.users.GetByPasswordResetToken(ctx, token)
	if err != nil {
		return false, fmt.Errorf("authsvc: lookup reset token: %w", err)
	}
	if user == nil || user.PasswordResetExpires == nil || time.Now().After(*user.PasswordResetExpires) {
		return false, nil
	}
	return true, nil
}

// ResetPassword consumes a reset token and applies the shared
// password-change policy: history check, invalidation, audit.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	user, err := s.users.GetByPasswordResetToken(ctx, token)
	if err != nil {
		return fmt.Errorf("authsvc: lookup reset token: %w", err)
	}
	if user == nil || user.PasswordResetExpires == nil || time.Now().After(*user.PasswordResetExpires) {
		return ErrTokenExpired
	}

	if err := s.applyNewPassword(ctx, user, newPassword); err != nil {
		return err
	}
	user.PasswordResetToken = nil
	user.PasswordResetExpires = nil
	return s.finishPasswordChange(ctx, user)
}

// ChangePassword verifies the caller's current password before
// applying the same policy as ResetPassword.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("authsvc: load user: %w", err)
	}
	if user == nil {
		return ErrInvalidCredential
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)) != nil {
		return ErrInvalidCredential
	}

	if err := s.applyNewPassword(ctx, user, newPassword); err != nil {
		return err
	}
	return s.finishPasswordChange(ctx, user)
}

// applyNewPassword enforces the policy and history-reuse check common
// to ResetPassword and ChangePassword, and writes the new hash plus
// TokenVersion bump onto the in-memory user (callers persist).
func (s *Service) applyNewPassword(ctx context.Context, user *entities.User, newPassword string) error {
	if err := validatePasswordPolicy(newPassword); err != nil {
		return err
	}
	for _, prior := range user.PasswordHistory {
		if bcrypt.CompareHashAndPassword([]byte(prior), []byte(newPassword)) == nil {
			return ErrPasswordReused
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("authsvc: hash password: %w", err)
	}

	history := append([]string{string(hash)}, user.PasswordHistory...)
	if len(history) > entities.PasswordHistoryLimit {
		history = history[:entities.PasswordHistoryLimit]
	}

	user.PasswordHash = string(hash)
	user.PasswordHistory = history
	user.LastPasswordChange = time.Now()
	user.TokenVersion++
	return nil
}

// finishPasswordChange persists the user, revokes every refresh
// session, emails a notice, and audits the terminal outcome.
func (s *Service) finishPasswordChange(ctx context.Context, user *entities.User) error {
	if err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("authsvc: persist password change: %w", err)
	}
	if err := s.sessions.RevokeAll(ctx, user.ID, "password_changed"); err != nil {
		s.logger.Warn("authsvc: revoke sessions after password change failed", zap.Error(err))
	}
	if err := s.email.SendPasswordChangedEmail(ctx, user.Email); err != nil {
		s.logger.Warn("authsvc: password-changed email failed", zap.Error(err))
	}
	s.auditRecord(ctx, entities.EventAuthPasswordReset, &user.ID, "password_change", "user", &user.ID, entities.ResultSuccess, nil, nil)
	return nil
}
