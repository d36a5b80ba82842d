package authsvc

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/railguard/sentinel/internal/domain/entities"
	"github.com/railguard/sentinel/internal/domain/services/twofa"
)

// TwoFASetup is returned once at enable time — the provisioning URI
// for a QR code and the plaintext backup codes. Neither is recoverable
// afterward.
type TwoFASetup struct {
	ProvisioningURI  string
	BackupCodesPlain []string
}

// Enable2FAStart generates a pending secret and backup codes. The
// secret is not committed (TwoFactorEnabled stays false) until
// Enable2FAVerify confirms a TOTP code against it: enabling requires a
// successful TOTP verification before TwoFactorEnabled=true is
// committed.
func (s *Service) Enable2FAStart(ctx context.Context, userID string) (*TwoFASetup, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("authsvc: load user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredential
	}

	setup, err := s.twofa.GenerateSecret(user.Email)
	if err != nil {
		return nil, fmt.Errorf("authsvc: generate 2fa secret: %w", err)
	}
	sealed, err := s.twofa.EncryptSecret(setup.Secret)
	if err != nil {
		return nil, fmt.Errorf("authsvc: encrypt 2fa secret: %w", err)
	}
	hashes, err := twofa.HashBackupCodes(setup.BackupCodesPlain)
	if err != nil {
		return nil, err
	}

	// Staged, not yet enabled: committed by Enable2FAVerify.
	user.TwoFactorSecretEnc = sealed
	user.BackupCodeHashes = hashes
	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("authsvc: persist pending 2fa secret: %w", err)
	}

	return &TwoFASetup{ProvisioningURI: setup.ProvisioningURI, BackupCodesPlain: setup.BackupCodesPlain}, nil
}

// Enable2FAVerify commits TwoFactorEnabled=true once code validates
// against the pending secret staged by Enable2FAStart.
func (s *Service) Enable2FAVerify(ctx context.Context, userID, code string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("authsvc: load user: %w", err)
	}
	if user == nil || len(user.TwoFactorSecretEnc) == 0 {
		return twofa.ErrInvalidCode
	}

	secret, err := s.twofa.DecryptSecret(user.TwoFactorSecretEnc)
	if err != nil {
		return fmt.Errorf("authsvc: decrypt 2fa secret: %w", err)
	}
	if !s.twofa.VerifyTOTP(secret, code) {
		return twofa.ErrInvalidCode
	}

	user.TwoFactorEnabled = true
	if err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("authsvc: persist 2fa enable: %w", err)
	}

	s.auditRecord(ctx, entities.EventAuth2FAEnable, &user.ID, "2fa_enable", "user", &user.ID, entities.ResultSuccess, nil, nil)
	return nil
}

// Disable2FA requires both the current password and a valid TOTP or
// backup code.
func (s *Service) Disable2FA(ctx context.Context, userID, currentPassword, code string) error {
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

	secret, err := s.twofa.DecryptSecret(user.TwoFactorSecretEnc)
	if err != nil {
		return fmt.Errorf("authsvc: decrypt 2fa secret: %w", err)
	}
	valid := s.twofa.VerifyTOTP(secret, code)
	if !valid {
		_, valid = twofa.ConsumeBackupCode(user.BackupCodeHashes, code)
	}
	if !valid {
		return twofa.ErrInvalidCode
	}

	user.TwoFactorEnabled = false
	user.TwoFactorSecretEnc = nil
	user.BackupCodeHashes = nil
	if err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("authsvc: persist 2fa disable: %w", err)
	}

	s.auditRecord(ctx, entities.EventAuth2FADisable, &user.ID, "2fa_disable", "user", &user.ID, entities.ResultSuccess, nil, nil)
	return nil
}

// RegenerateBackupCodes replaces a user's backup-code set, requiring a
// valid TOTP code first.
func (s *Service) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("authsvc: load user: %w", err)
	}
	if user == nil || !user.TwoFactorEnabled {
		return nil, twofa.ErrInvalidCode
	}

	secret, err := s.twofa.DecryptSecret(user.TwoFactorSecretEnc)
	if err != nil {
		return nil, fmt.Errorf("authsvc: decrypt 2fa secret: %w", err)
	}
	if !s.twofa.VerifyTOTP(secret, code) {
		return nil, twofa.ErrInvalidCode
	}

	setup, err := s.twofa.GenerateSecret(user.Email)
	if err != nil {
		return nil, fmt.Errorf("authsvc: generate backup codes: %w", err)
	}
	hashes, err := twofa.HashBackupCodes(setup.BackupCodesPlain)
	if err != nil {
		return nil, err
	}

	user.BackupCodeHashes = hashes
	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("authsvc: persist backup codes: %w", err)
	}
	return setup.BackupCodesPlain, nil
}
