// Package auth adapts internal/domain/services/authsvc to HTTP: thin
// gin handlers that bind a request, call the orchestrator, and either
// write the success body or hand the error to middleware.ErrorHandler
// via c.Error. No business logic lives here.
package auth

import (
	"crypto/tls"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/railguard/sentinel/internal/domain/services/authsvc"
	"github.com/railguard/sentinel/pkg/apperr"
	"github.com/railguard/sentinel/pkg/fingerprint"
)

// Handler adapts authsvc.Service to gin. Production gates whether the
// refresh-token cookie carries Secure and how a fingerprint mismatch in
// bearer auth is treated (see middleware.BearerAuth) — the two must
// agree, so both are constructed from the same config flag.
type Handler struct {
	svc        *authsvc.Service
	logger     *zap.Logger
	production bool
}

func New(svc *authsvc.Service, logger *zap.Logger, production bool) *Handler {
	return &Handler{svc: svc, logger: logger, production: production}
}

const refreshCookieName = "refreshToken"
const refreshCookieMaxAge = 7 * 24 * 60 * 60 // seconds

func (h *Handler) setRefreshCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(refreshCookieName, token, refreshCookieMaxAge, "/", "", h.production, true)
}

func (h *Handler) clearRefreshCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(refreshCookieName, "", -1, "/", "", h.production, true)
}

func tlsInfo(r *http.Request) string {
	if r.TLS == nil {
		return ""
	}
	return tls.CipherSuiteName(r.TLS.CipherSuite)
}

// deviceInfo derives the device fingerprint the same way
// middleware.BearerAuth will recompute it on every subsequent
// authenticated request, so a token minted here verifies later.
func deviceInfo(c *gin.Context, deviceID, deviceName string) authsvc.DeviceInfo {
	signals := fingerprint.SignalsFromRequest(c.Request, c.ClientIP(), tlsInfo(c.Request))
	return authsvc.DeviceInfo{
		DeviceID:    deviceID,
		DeviceName:  deviceName,
		UserAgent:   c.Request.Header.Get("User-Agent"),
		IPAddress:   c.ClientIP(),
		Fingerprint: fingerprint.Enhanced(signals),
	}
}

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"`
}

func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperr.Validation("invalid_body", err.Error()))
		return
	}
	if err := h.svc.Register(c.Request.Context(), req.Email, req.Password); err != nil {
		_ = c.Error(mapAuthError(err))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "registered, check your email to verify your account"})
}

type verifyEmailRequest struct {
	Token string `json:"token" binding:"required,len=64,hexadecimal"`
}

func (h *Handler) VerifyEmail(c *gin.Context) {
	var req verifyEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperr.Validation("invalid_body", err.Error()))
		return
	}
	if err := h.svc.VerifyEmail(c.Request.Context(), req.Token); err != nil {
		_ = c.Error(mapAuthError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "email verified"})
}

type resendVerificationRequest struct {
	Email string `json:"email" binding:"required,email"`
}

func (h *Handler) ResendVerification(c *gin.Context) {
	var req resendVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperr.Validation("invalid_body", err.Error()))
		return
	}
	if err := h.svc.ResendVerification(c.Request.Context(), req.Email); err != nil {
		h.logger.Warn("resend verification failed", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"message": "if the account exists, a verification email has been sent"})
}

type loginRequest struct {
	Email      string `json:"email" binding:"required,email"`
	Password   string `json:"password" binding:"required"`
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperr.Validation("invalid_body", err.Error()))
		return
	}

	result, err := h.svc.Login(c.Request.Context(), req.Email, req.Password, deviceInfo(c, req.DeviceID, req.DeviceName))
	if err != nil {
		_ = c.Error(mapAuthError(err))
		return
	}

	switch result.Outcome {
	case authsvc.LoginEmailVerifyRequired:
		c.JSON(http.StatusForbidden, gin.H{"requiresEmailVerification": true, "email": result.Email})
	case authsvc.LoginTwoFactorRequired:
		c.JSON(http.StatusOK, gin.H{"requiresTwoFactor": true, "tempToken": result.TempToken})
	default:
		h.setRefreshCookie(c, result.Tokens.RefreshToken)
		c.JSON(http.StatusOK, gin.H{
			"accessToken": result.Tokens.AccessToken,
			"expiresIn":   result.Tokens.ExpiresIn,
			"user":        result.User,
		})
	}
}

type login2FARequest struct {
	TempToken string `json:"tempToken" binding:"required,len=64,hexadecimal"`
	Code      string `json:"code" binding:"required"`
}

func (h *Handler) Login2FA(c *gin.Context) {
	var req login2FARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperr.Validation("invalid_body", err.Error()))
		return
	}

	result, err := h.svc.Login2FA(c.Request.Context(), req.TempToken, req.Code, deviceInfo(c, "", ""))
	if err != nil {
		_ = c.Error(mapAuthError(err))
		return
	}

	h.setRefreshCookie(c, result.Tokens.RefreshToken)
	c.JSON(http.StatusOK, gin.H{
		"accessToken": result.Tokens.AccessToken,
		"expiresIn":   result.Tokens.ExpiresIn,
		"user":        result.User,
	})
}

// Refresh reads the refresh token only from the refreshToken cookie —
// a body may be present but its token value, if any, is never trusted.
func (h *Handler) Refresh(c *gin.Context) {
	raw, err := c.Cookie(refreshCookieName)
	if err != nil || raw == "" {
		_ = c.Error(apperr.Auth("missing_refresh_token", "no refresh token cookie present"))
		return
	}

	pair, err := h.svc.Refresh(c.Request.Context(), raw, deviceInfo(c, "", ""))
	if err != nil {
		h.clearRefreshCookie(c)
		_ = c.Error(mapAuthError(err))
		return
	}

	h.setRefreshCookie(c, pair.RefreshToken)
	c.JSON(http.StatusOK, gin.H{
		"accessToken": pair.AccessToken,
		"expiresIn":   pair.ExpiresIn,
	})
}

func (h *Handler) Logout(c *gin.Context) {
	raw, err := c.Cookie(refreshCookieName)
	if err == nil && raw != "" {
		if err := h.svc.Logout(c.Request.Context(), raw); err != nil {
			h.logger.Warn("logout failed", zap.Error(err))
		}
	}
	h.clearRefreshCookie(c)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

func (h *Handler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperr.Validation("invalid_body", err.Error()))
		return
	}
	if err := h.svc.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		h.logger.Warn("password reset request failed", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"message": "if the account exists, a reset link has been sent"})
}

type validateResetTokenRequest struct {
	Token string `json:"token" binding:"required,len=64,hexadecimal"`
}

func (h *Handler) ValidateResetToken(c *gin.Context) {
	var req validateResetTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperr.Validation("invalid_body", err.Error()))
		return
	}
	valid, err := h.svc.ValidateResetToken(c.Request.Context(), req.Token)
	if err != nil {
		_ = c.Error(apperr.Internal("reset_token_lookup_failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": valid})
}

type resetPasswordRequest struct {
	Token       string `json:"token" binding:"required,len=64,hexadecimal"`
	NewPassword string `json:"newPassword" binding:"required"`
}

func (h *Handler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperr.Validation("invalid_body", err.Error()))
		return
	}
	if err := h.svc.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		_ = c.Error(mapAuthError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password reset"})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

func (h *Handler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperr.Validation("invalid_body", err.Error()))
		return
	}
	if err := h.svc.ChangePassword(c.Request.Context(), middlewareUserID(c), req.CurrentPassword, req.NewPassword); err != nil {
		_ = c.Error(mapAuthError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password changed"})
}

func (h *Handler) Enable2FAStart(c *gin.Context) {
	setup, err := h.svc.Enable2FAStart(c.Request.Context(), middlewareUserID(c))
	if err != nil {
		_ = c.Error(mapAuthError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"provisioningUri": setup.ProvisioningURI,
		"qrCodePng":       setup.QRCodePNGBase64,
		"backupCodes":     setup.BackupCodesPlain,
	})
}

type verify2FARequest struct {
	Code string `json:"code" binding:"required"`
}

func (h *Handler) VerifySetup2FA(c *gin.Context) {
	var req verify2FARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperr.Validation("invalid_body", err.Error()))
		return
	}
	if err := h.svc.Enable2FAVerify(c.Request.Context(), middlewareUserID(c), req.Code); err != nil {
		_ = c.Error(mapAuthError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "two-factor authentication enabled"})
}

type disable2FARequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	Code            string `json:"code" binding:"required"`
}

func (h *Handler) Disable2FA(c *gin.Context) {
	var req disable2FARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperr.Validation("invalid_body", err.Error()))
		return
	}
	if err := h.svc.Disable2FA(c.Request.Context(), middlewareUserID(c), req.CurrentPassword, req.Code); err != nil {
		_ = c.Error(mapAuthError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "two-factor authentication disabled"})
}

type backupCodesRequest struct {
	Code string `json:"code" binding:"required"`
}

func (h *Handler) RegenerateBackupCodes(c *gin.Context) {
	var req backupCodesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperr.Validation("invalid_body", err.Error()))
		return
	}
	codes, err := h.svc.RegenerateBackupCodes(c.Request.Context(), middlewareUserID(c), req.Code)
	if err != nil {
		_ = c.Error(mapAuthError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"backupCodes": codes})
}

func (h *Handler) ListSessions(c *gin.Context) {
	sessions, err := h.svc.ListSessions(c.Request.Context(), middlewareUserID(c))
	if err != nil {
		_ = c.Error(apperr.Internal("list_sessions_failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

type revokeSessionRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
}

func (h *Handler) RevokeSession(c *gin.Context) {
	var req revokeSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperr.Validation("invalid_body", err.Error()))
		return
	}
	if err := h.svc.RevokeSession(c.Request.Context(), middlewareUserID(c), req.SessionID); err != nil {
		_ = c.Error(apperr.Internal("revoke_session_failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "session revoked"})
}

func (h *Handler) Me(c *gin.Context) {
	profile, err := h.svc.Me(c.Request.Context(), middlewareUserID(c))
	if err != nil {
		_ = c.Error(mapAuthError(err))
		return
	}
	c.JSON(http.StatusOK, profile)
}

// middlewareUserID reads the subject middleware.BearerAuth set on
// context. Duplicated as a one-line string read rather than importing
// the middleware package, which would create an import cycle with
// routes wiring both handlers and middleware together.
func middlewareUserID(c *gin.Context) string {
	return c.GetString("user_id")
}

// mapAuthError translates authsvc's sentinel errors to the apperr kind
// the rest of the stack dispatches on; anything already an *apperr.Error
// (e.g. the password-policy validation errors) passes through untouched.
func mapAuthError(err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, authsvc.ErrEmailTaken):
		return apperr.Conflict("email_taken", "an account with this email already exists")
	case errors.Is(err, authsvc.ErrInvalidCredential):
		return apperr.Auth("invalid_credentials", "invalid email or password")
	case errors.Is(err, authsvc.ErrAccountLocked):
		return apperr.Auth("account_locked", "account is temporarily locked")
	case errors.Is(err, authsvc.ErrNotVerified):
		return apperr.Auth("email_not_verified", "email address is not verified")
	case errors.Is(err, authsvc.ErrTokenExpired):
		return apperr.Validation("token_expired", "token is invalid or expired")
	case errors.Is(err, authsvc.ErrPasswordReused):
		return apperr.Validation("password_reused", "password was used recently, choose a different one")
	case errors.Is(err, authsvc.ErrRefreshInProgress):
		return apperr.Conflict("refresh_in_progress", "a refresh for this token is already in progress")
	case errors.Is(err, authsvc.ErrReuseDetected):
		return apperr.Auth("refresh_reuse_detected", "refresh token reuse detected, all sessions revoked")
	default:
		return apperr.Internal("auth_internal_error", err)
	}
}
