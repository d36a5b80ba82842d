// Package routes assembles the gin engine: the global middleware chain
// followed by every route group the HTTP API exposes.
package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/railguard/sentinel/internal/api/middleware"
	"github.com/railguard/sentinel/internal/infrastructure/di"
	"github.com/railguard/sentinel/pkg/ratelimit"
)

// maxRequestBody caps every JSON request body except the payment
// webhook, which needs the raw bytes untouched to verify its HMAC
// signature and is registered without this limit.
const maxRequestBody = middleware.JSONBodyLimit

// Setup builds the gin engine for c, wiring the global middleware chain
// ahead of the auth, session, 2FA, and payment route groups.
func Setup(c *di.Container) *gin.Engine {
	cfg := c.Config
	zl := c.Logger.Zap()
	production := cfg.Environment == "production"

	if production {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Environment:    cfg.Environment,
	}, zl))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.TimeoutMiddleware(30 * time.Second))
	r.Use(middleware.ErrorHandler(zl))

	r.GET("/healthz", func(ctx *gin.Context) {
		distributed := c.Redis != nil && c.RateBackend.Healthy(ctx.Request.Context())
		ctx.JSON(200, gin.H{
			"status":           "ok",
			"distributed_mode": distributed,
			"secrets_state":    c.Secrets.State(),
		})
	})

	api := r.Group("/api/v1")
	api.Use(middleware.CSRFOriginGate(middleware.CSRFConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Environment:    cfg.Environment,
		SkipPrefixes:   []string{"/api/v1/payments/webhook"},
	}))
	api.Use(middleware.AutomationDetector(zl, false))
	api.Use(c.DistRateLimiter.Middleware())

	registerAuthRoutes(api, c, zl, production)
	registerPaymentRoutes(r, api, c, zl)

	return r
}

func registerAuthRoutes(api *gin.RouterGroup, c *di.Container, zl *zap.Logger, production bool) {
	h := c.AuthHandler

	auth := api.Group("/auth")
	auth.Use(middleware.BodySizeLimit(maxRequestBody))
	auth.Use(middleware.PrototypePollutionGuard(middleware.PollutionSanitize))

	// Unauthenticated, abuse-sensitive endpoints: failed-login
	// tracking and risk-adaptive limiting stack ahead of the handler
	// since no bearer identity exists yet to key on. Each endpoint also
	// carries its own named tier from spec.md §4.4: register and login
	// get the automation-aware enhanced-auth tier, password reset gets
	// the tighter strict tier.
	risky := auth.Group("")
	risky.Use(middleware.FailedLoginGate(c.FailedLogins, zl))
	{
		risky.POST("/register",
			middleware.AutomationDetector(zl, production),
			middleware.EnhancedAuthLimit(c.RateBackend, zl),
			middleware.RiskAdaptiveLimit(c.RiskLimiter, "register", zl),
			h.Register)
		risky.POST("/login",
			middleware.AutomationDetector(zl, production),
			middleware.EnhancedAuthLimit(c.RateBackend, zl),
			middleware.RiskAdaptiveLimit(c.RiskLimiter, "login", zl),
			h.Login)
		risky.POST("/login/2fa",
			middleware.AutomationDetector(zl, production),
			middleware.TierLimit(c.RateBackend, ratelimit.AuthTier(), zl),
			middleware.RiskAdaptiveLimit(c.RiskLimiter, "login_2fa", zl),
			h.Login2FA)
		risky.POST("/forgot-password", middleware.TierLimit(c.RateBackend, ratelimit.StrictTier(), zl), h.ForgotPassword)
		risky.POST("/reset-password", middleware.TierLimit(c.RateBackend, ratelimit.StrictTier(), zl), h.ResetPassword)
	}

	auth.GET("/verify-email", h.VerifyEmail)
	auth.POST("/resend-verification", h.ResendVerification)
	auth.GET("/reset-password/validate", h.ValidateResetToken)
	auth.POST("/refresh", h.Refresh)
	auth.POST("/logout", h.Logout)

	protected := auth.Group("")
	protected.Use(middleware.BearerAuth(c.Tokens, c.Users, zl, production))
	{
		protected.GET("/me", h.Me)
		protected.POST("/change-password", h.ChangePassword)

		protected.POST("/2fa/enable", h.Enable2FAStart)
		protected.POST("/2fa/verify", h.VerifySetup2FA)
		protected.POST("/2fa/disable", h.Disable2FA)
		protected.POST("/2fa/backup-codes", h.RegenerateBackupCodes)

		protected.GET("/sessions", h.ListSessions)
		protected.POST("/sessions/revoke", h.RevokeSession)
	}
}

func registerPaymentRoutes(r *gin.Engine, api *gin.RouterGroup, c *di.Container, zl *zap.Logger) {
	payments := api.Group("/payments")
	payments.Use(middleware.BodySizeLimit(maxRequestBody))
	payments.Use(middleware.PrototypePollutionGuard(middleware.PollutionSanitize))
	payments.Use(middleware.BearerAuth(c.Tokens, c.Users, zl, c.Config.Environment == "production"))
	payments.POST("/create-intent", c.PaymentsHandler.CreateIntent)

	// The webhook route sits outside the CSRF/automation-detector/body-
	// limit chain entirely: it has no browser Origin, no user agent to
	// fingerprint, and the handler reads the raw body itself to verify
	// the provider's HMAC signature.
	webhook := r.Group("/api/v1/payments")
	webhook.Use(middleware.WebhookSecurity(c.WebhookWhitelist, c.WebhookLimiter, "default", zl))
	webhook.POST("/webhook", func(ctx *gin.Context) {
		c.PaymentsHandler.Webhook(ctx, c.Config.PaymentWebhookHeader)
	})
}
