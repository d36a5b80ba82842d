// Package authsvc is the auth orchestrator: registration, email
// verification, password login, 2FA, refresh rotation, logout,
// password reset/change, and per-device session management. It has no
// knowledge of HTTP — handlers are thin adapters over this package.
package authsvc

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/railguard/sentinel/internal/domain/entities"
	"github.com/railguard/sentinel/internal/domain/services/twofa"
	"github.com/railguard/sentinel/pkg/apperr"
	"github.com/railguard/sentinel/pkg/tokens"
)

var (
	ErrEmailTaken        = errors.New("authsvc: email already registered")
	ErrInvalidCredential = errors.New("authsvc: invalid email or password")
	ErrAccountLocked     = errors.New("authsvc: account locked")
	ErrNotVerified       = errors.New("authsvc: email not verified")
	ErrTokenExpired      = errors.New("authsvc: token expired or invalid")
	ErrPasswordReused    = errors.New("authsvc: password previously used")
)

const (
	verificationTokenTTL = 24 * time.Hour
	passwordResetTTL     = 1 * time.Hour
	twoFATempTokenTTL    = 5 * time.Minute
)

// UserRepository is the persistence contract this service drives.
type UserRepository interface {
	Create(ctx context.Context, u *entities.User) error
	Update(ctx context.Context, u *entities.User) error
	GetByEmail(ctx context.Context, email string) (*entities.User, error)
	GetByID(ctx context.Context, id string) (*entities.User, error)
	GetByVerificationToken(ctx context.Context, token string) (*entities.User, error)
	GetByPasswordResetToken(ctx context.Context, token string) (*entities.User, error)
	GetByTwoFactorTempToken(ctx context.Context, token string) (*entities.User, error)
}

// SessionStore is the subset of internal/domain/services/session.Service
// the orchestrator drives.
type SessionStore interface {
	Create(ctx context.Context, rawToken, userID string, device entities.DeviceSnapshot, family string, expiresAt time.Time) (*entities.RefreshSession, error)
	Validate(ctx context.Context, rawToken string) (*entities.RefreshSession, error)
	Revoke(ctx context.Context, id, reason string) error
	RevokeFamily(ctx context.Context, family, reason string) error
	RevokeAll(ctx context.Context, userID, reason string) error
	ListActive(ctx context.Context, userID string) ([]*entities.RefreshSession, error)
	RevokeByID(ctx context.Context, userID, sessionID string) error
}

// AuditRecorder is the subset of internal/domain/services/audit.Service
// the orchestrator drives — every operation emits exactly one event on
// its terminal outcome.
type AuditRecorder interface {
	Record(ctx context.Context, in entities.AuditRecordInput) error
}

// EmailSender is the subset of email delivery the orchestrator needs.
// Failures are logged and never propagate: a dispatch failure must
// never fail the originating business operation.
type EmailSender interface {
	SendVerificationEmail(ctx context.Context, email, token string) error
	SendPasswordResetEmail(ctx context.Context, email, token string) error
	SendPasswordChangedEmail(ctx context.Context, email string) error
	SendNewDeviceAlertEmail(ctx context.Context, email, deviceName, ip string) error
	SendAccountLockedEmail(ctx context.Context, email string, lockedUntil time.Time) error
}

// DeviceInfo is what a caller observed about the client for this request.
type DeviceInfo struct {
	DeviceID    string
	DeviceName  string
	UserAgent   string
	IPAddress   string
	Location    string
	Fingerprint string
}

// TokenPair is the bearer credential pair returned on a successful login
// or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

type Service struct {
	users    UserRepository
	sessions SessionStore
	twofa    *twofa.Service
	audit    AuditRecorder
	email    EmailSender
	tokens   *tokens.Service
	logger   *zap.Logger
}

func NewService(
	users UserRepository,
	sessions SessionStore,
	twoFASvc *twofa.Service,
	audit AuditRecorder,
	email EmailSender,
	tokenSvc *tokens.Service,
	logger *zap.Logger,
) *Service {
	return &Service{
		users:    users,
		sessions: sessions,
		twofa:    twoFASvc,
		audit:    audit,
		email:    email,
		tokens:   tokenSvc,
		logger:   logger,
	}
}

// Register creates an unverified local account and sends a
// verification email. Role is always forced to RoleUser — mass
// assignment of role is not accepted from the request.
func (s *Service) Register(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)

	if err := validatePasswordPolicy(password); err != nil {
		return err
	}

	if existing, err := s.users.GetByEmail(ctx, email); err != nil {
		return fmt.Errorf("authsvc: lookup email: %w", err)
	} else if existing != nil {
		return ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("authsvc: hash password: %w", err)
	}

	token, err := randomHexToken(32)
	if err != nil {
		return err
	}
	expires := time.Now().Add(verificationTokenTTL)

	user := &entities.User{
		Email:               email,
		PasswordHash:        string(hash),
		Role:                entities.RoleUser,
		Provider:            entities.ProviderLocal,
		IsEmailVerified:     false,
		VerificationToken:   &token,
		VerificationExpires: &expires,
		LastPasswordChange:  time.Now(),
		PasswordHistory:     []string{string(hash)},
	}

	if err := s.users.Create(ctx, user); err != nil {
		return fmt.Errorf("authsvc: create user: %w", err)
	}

	if err := s.email.SendVerificationEmail(ctx, email, token); err != nil {
		s.logger.Warn("authsvc: verification email failed", zap.Error(err), zap.String("email", email))
	}

	s.auditRecord(ctx, entities.EventAuthRegister, &user.ID, "register", "user", &user.ID, entities.ResultSuccess, nil, nil)
	return nil
}

// VerifyEmail consumes a non-expired verification token.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	user, err := s.users.GetByVerificationToken(ctx, token)
	if err != nil {
		return fmt.Errorf("authsvc: lookup token: %w", err)
	}
	if user == nil || user.VerificationExpires == nil || time.Now().After(*user.VerificationExpires) {
		return ErrTokenExpired
	}

	user.IsEmailVerified = true
	user.VerificationToken = nil
	user.VerificationExpires = nil
	if err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("authsvc: update user: %w", err)
	}

	s.auditRecord(ctx, entities.EventAuthEmailVerify, &user.ID, "email_verify", "user", &user.ID, entities.ResultSuccess, nil, nil)
	return nil
}

// ResendVerification reissues a verification token for an unverified
// account. Enumeration-safe: callers should treat the returned error as
// the only signal, never branching the HTTP response on "exists vs not".
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return fmt.Errorf("authsvc: lookup email: %w", err)
	}
	if user == nil || user.IsEmailVerified {
		return nil
	}

	token, err := randomHexToken(32)
	if err != nil {
		return err
	}
	expires := time.Now().Add(verificationTokenTTL)
	user.VerificationToken = &token
	user.VerificationExpires = &expires
	if err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("authsvc: update user: %w", err)
	}

	if err := s.email.SendVerificationEmail(ctx, user.Email, token); err != nil {
		s.logger.Warn("authsvc: verification email failed", zap.Error(err))
	}
	return nil
}

func (s *Service) auditRecord(ctx context.Context, eventType entities.AuditEventType, userID *string, action, resource string, resourceID *string, result entities.AuditResult, errMsg *string, riskScore *int) {
	if err := s.audit.Record(ctx, entities.AuditRecordInput{
		EventType:    eventType,
		UserID:       userID,
		Action:       action,
		Resource:     resource,
		ResourceID:   resourceID,
		Result:       result,
		ErrorMessage: errMsg,
		RiskScore:    riskScore,
	}); err != nil {
		s.logger.Warn("authsvc: audit record failed", zap.Error(err), zap.String("action", action))
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func randomHexToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("authsvc: random token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// specialCharSet is the fixed set of special characters the password
// policy accepts as the required fourth character class.
const specialCharSet = "!@#$%^&*()_+-=[]{}|;:,.<>?"

// validatePasswordPolicy enforces: >=12 chars, includes lowercase,
// uppercase, digit, and one of specialCharSet.
func validatePasswordPolicy(password string) error {
	if len(password) < 12 {
		return apperr.Validation("weak_password", "password must be at least 12 characters").
			WithField("password", "too_short")
	}
	var hasLower, hasUpper, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= '0' && r <= '9':
			hasDigit = true
		case strings.ContainsRune(specialCharSet, r):
			hasSpecial = true
		}
	}
	if !hasLower || !hasUpper || !hasDigit || !hasSpecial {
		return apperr.Validation("weak_password", "password must include lowercase, uppercase, a digit, and a special character").
			WithField("password", "missing_character_class")
	}
	return nil
}
