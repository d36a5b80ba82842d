package authsvc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/railguard/sentinel/internal/domain/entities"
	"github.com/railguard/sentinel/internal/domain/services/twofa"
	"github.com/railguard/sentinel/pkg/ratelimit"
	"github.com/railguard/sentinel/pkg/tokens"
)

// LoginOutcome tags which of the three branches of Login the caller
// must handle.
type LoginOutcome string

const (
	LoginOK                   LoginOutcome = "ok"
	LoginEmailVerifyRequired  LoginOutcome = "email_verification_required"
	LoginTwoFactorRequired    LoginOutcome = "two_factor_required"
)

// LoginResult is the union the handler layer switches on.
type LoginResult struct {
	Outcome   LoginOutcome
	Tokens    *TokenPair
	User      *entities.PublicProfile
	TempToken string
	Email     string
}

const failedLoginRisk = 50

// Login verifies credentials, enforces lockout, and branches into
// email-verification-required, 2FA-required, or a completed session.
func (s *Service) Login(ctx context.Context, email, password string, device DeviceInfo) (*LoginResult, error) {
	email = normalizeEmail(email)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("authsvc: lookup email: %w", err)
	}
	if user == nil {
		// Enumeration-safe: identical path to a wrong-password failure.
		return nil, ErrInvalidCredential
	}

	now := time.Now()
	if user.IsLocked(now) {
		s.auditRecord(ctx, entities.EventUserAccountLocked, &user.ID, "login", "user", &user.ID, entities.ResultFailure, nil, nil)
		return nil, ErrAccountLocked
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		s.recordFailedLogin(ctx, user, device, "bad_password")
		return nil, ErrInvalidCredential
	}

	user.FailedLoginAttempts = 0
	user.FailedLoginWindowStart = nil
	user.AccountLockedUntil = nil
	if err := s.users.Update(ctx, user); err != nil {
		s.logger.Warn("authsvc: clear failed-login counter failed", zap.Error(err))
	}

	if !user.IsEmailVerified {
		return &LoginResult{Outcome: LoginEmailVerifyRequired, Email: user.Email}, nil
	}

	if user.TwoFactorEnabled {
		temp, err := randomHexToken(32)
		if err != nil {
			return nil, err
		}
		expires := now.Add(twoFATempTokenTTL)
		user.TwoFactorTempToken = &temp
		user.TwoFactorTempExpires = &expires
		if err := s.users.Update(ctx, user); err != nil {
			return nil, fmt.Errorf("authsvc: persist temp token: %w", err)
		}
		return &LoginResult{Outcome: LoginTwoFactorRequired, TempToken: temp}, nil
	}

	return s.completeLogin(ctx, user, device)
}

// Login2FA completes a login that Login parked pending a TOTP or
// backup code.
func (s *Service) Login2FA(ctx context.Context, tempToken, code string, device DeviceInfo) (*LoginResult, error) {
	user, err := s.users.GetByTwoFactorTempToken(ctx, tempToken)
	if err != nil {
		return nil, fmt.Errorf("authsvc: lookup temp token: %w", err)
	}
	if user == nil || user.TwoFactorTempExpires == nil || time.Now().After(*user.TwoFactorTempExpires) {
		return nil, ErrTokenExpired
	}

	secret, err := s.twofa.DecryptSecret(user.TwoFactorSecretEnc)
	if err != nil {
		return nil, fmt.Errorf("authsvc: decrypt 2fa secret: %w", err)
	}

	valid := s.twofa.VerifyTOTP(secret, code)
	if !valid {
		remaining, ok := twofa.ConsumeBackupCode(user.BackupCodeHashes, code)
		if ok {
			user.BackupCodeHashes = remaining
			valid = true
		}
	}

	if !valid {
		risk := 60
		s.auditRecord(ctx, entities.EventSecurityFailedLogin, &user.ID, "login_2fa", "user", &user.ID, entities.ResultFailure, nil, &risk)
		return nil, twofa.ErrInvalidCode
	}

	user.TwoFactorTempToken = nil
	user.TwoFactorTempExpires = nil
	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("authsvc: clear temp token: %w", err)
	}

	return s.completeLogin(ctx, user, device)
}

// completeLogin mints tokens, a new refresh session family, and fires
// the new-device alert and success audit event.
func (s *Service) completeLogin(ctx context.Context, user *entities.User, device DeviceInfo) (*LoginResult, error) {
	fingerprint := device.Fingerprint

	accessToken, err := s.tokens.SignAccess(tokens.UserForToken{
		ID: user.ID, Email: user.Email, Role: string(user.Role), TokenVersion: user.TokenVersion,
	}, fingerprint, device.IPAddress)
	if err != nil {
		return nil, fmt.Errorf("authsvc: sign access token: %w", err)
	}

	family := uuid.NewString()
	refreshToken, err := s.tokens.SignRefresh(user.ID, family, user.TokenVersion)
	if err != nil {
		return nil, fmt.Errorf("authsvc: sign refresh token: %w", err)
	}

	_, err = s.sessions.Create(ctx, refreshToken, user.ID, entities.DeviceSnapshot{
		DeviceID: device.DeviceID, DeviceName: device.DeviceName, UserAgent: device.UserAgent,
		IPAddress: device.IPAddress, Location: device.Location,
	}, family, time.Now().Add(tokens.DefaultRefreshTTL))
	if err != nil {
		return nil, fmt.Errorf("authsvc: create session: %w", err)
	}

	if device.DeviceID != "" && !userHasSeenDevice(user, device.DeviceID) {
		user.TrustedDevices = append(user.TrustedDevices, entities.TrustedDevice{DeviceID: device.DeviceID, FirstSeen: time.Now()})
		if err := s.email.SendNewDeviceAlertEmail(ctx, user.Email, device.DeviceName, device.IPAddress); err != nil {
			s.logger.Warn("authsvc: new-device alert failed", zap.Error(err))
		}
	}

	user.LoginHistory = append(user.LoginHistory, entities.LoginHistoryEntry{
		Timestamp: time.Now(), IP: device.IPAddress, UserAgent: device.UserAgent, Success: true,
	})
	if err := s.users.Update(ctx, user); err != nil {
		s.logger.Warn("authsvc: persist login history failed", zap.Error(err))
	}

	s.auditRecord(ctx, entities.EventAuthLogin, &user.ID, "login", "user", &user.ID, entities.ResultSuccess, nil, nil)

	return &LoginResult{
		Outcome: LoginOK,
		Tokens:  &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken, ExpiresIn: int(tokens.DefaultAccessTTL.Seconds())},
		User:    user.ToPublicProfile(),
	}, nil
}

// recordFailedLogin applies the same window/threshold/lockout policy
// pkg/ratelimit.FailedLoginTracker enforces per IP, but scoped to the
// user entity itself: a fresh 15-minute window opens if the last
// attempt fell outside one, and the account locks for 30 minutes once
// the window's count reaches the threshold.
func (s *Service) recordFailedLogin(ctx context.Context, user *entities.User, device DeviceInfo, reason string) {
	now := time.Now()
	if user.FailedLoginWindowStart == nil || now.Sub(*user.FailedLoginWindowStart) > ratelimit.FailedLoginWindow {
		user.FailedLoginWindowStart = &now
		user.FailedLoginAttempts = 1
	} else {
		user.FailedLoginAttempts++
	}

	justLocked := false
	if user.FailedLoginAttempts >= ratelimit.FailedLoginMaxCount && !user.IsLocked(now) {
		justLocked = true
	}
	if user.FailedLoginAttempts >= ratelimit.FailedLoginMaxCount {
		until := now.Add(ratelimit.LockoutDuration)
		user.AccountLockedUntil = &until
	}

	user.LoginHistory = append(user.LoginHistory, entities.LoginHistoryEntry{
		Timestamp: now, IP: device.IPAddress, UserAgent: device.UserAgent, Success: false, Reason: reason,
	})
	if err := s.users.Update(ctx, user); err != nil {
		s.logger.Warn("authsvc: persist failed login failed", zap.Error(err))
	}

	risk := failedLoginRisk
	s.auditRecord(ctx, entities.EventSecurityFailedLogin, &user.ID, "login", "user", &user.ID, entities.ResultFailure, nil, &risk)

	if justLocked {
		s.auditRecord(ctx, entities.EventUserAccountLocked, &user.ID, "login", "user", &user.ID, entities.ResultFailure, nil, nil)
		if err := s.email.SendAccountLockedEmail(ctx, user.Email, *user.AccountLockedUntil); err != nil {
			s.logger.Warn("authsvc: account-locked email failed", zap.Error(err))
		}
	}
}

func userHasSeenDevice(user *entities.User, deviceID string) bool {
	for _, d := range user.TrustedDevices {
		if d.DeviceID == deviceID {
			return true
		}
	}
	return false
}
