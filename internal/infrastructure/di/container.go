// Package di wires every repository, service, adapter, and middleware
// instance the HTTP layer needs from a loaded config, the teacher's
// plain-constructor-injection style rather than a reflection-based
// container.
package di

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	authhandlers "github.com/railguard/sentinel/internal/api/handlers/auth"
	paymentshandlers "github.com/railguard/sentinel/internal/api/handlers/payments"
	"github.com/railguard/sentinel/internal/domain/services/audit"
	"github.com/railguard/sentinel/internal/domain/services/authsvc"
	"github.com/railguard/sentinel/internal/domain/services/fraud"
	"github.com/railguard/sentinel/internal/domain/services/payments"
	"github.com/railguard/sentinel/internal/domain/services/session"
	"github.com/railguard/sentinel/internal/domain/services/twofa"
	"github.com/railguard/sentinel/internal/infrastructure/adapters"
	"github.com/railguard/sentinel/internal/infrastructure/config"
	"github.com/railguard/sentinel/internal/infrastructure/repositories"
	"github.com/railguard/sentinel/internal/workers"
	"github.com/railguard/sentinel/pkg/circuitbreaker"
	"github.com/railguard/sentinel/pkg/crypto"
	"github.com/railguard/sentinel/pkg/logger"
	"github.com/railguard/sentinel/pkg/ratelimit"
	"github.com/railguard/sentinel/pkg/secrets"
	"github.com/railguard/sentinel/pkg/security"
	"github.com/railguard/sentinel/pkg/tokens"
)

// Container holds every long-lived object the application wires once at
// startup and shares across requests.
type Container struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *sqlx.DB
	Redis  *redis.Client

	Tokens *tokens.Service
	Cipher *crypto.GCMCipher

	Users           *repositories.UserRepository
	RefreshSessions *repositories.RefreshSessionRepository
	Audit           *repositories.AuditRepository
	Orders          *repositories.OrderRepository

	SessionSvc *session.Service
	AuditSvc   *audit.Service
	FraudSvc   *fraud.Service
	TwoFASvc   *twofa.Service
	AuthSvc    *authsvc.Service
	PaymentSvc *payments.Service

	Email           *adapters.EmailService
	PaymentProvider *adapters.HTTPPaymentProvider
	CartClient      *adapters.HTTPCartClient
	FraudSignals    *adapters.RedisFraudSignals

	RateBackend     ratelimit.Backend
	RateMemory      *ratelimit.MemoryBackend
	TieredLimiter   *ratelimit.TieredLimiter
	DistRateLimiter *ratelimit.DistributedRateLimiter
	FailedLogins    *ratelimit.FailedLoginTracker
	RiskLimiter     *ratelimit.AdaptiveRateLimiter

	WebhookWhitelist *security.WebhookIPWhitelist
	WebhookLimiter   *security.WebhookRateLimiter
	WebhookReplay    *security.WebhookReplayGuard

	Sweeper *workers.SweepWorker
	Secrets secrets.Provider

	AuthHandler     *authhandlers.Handler
	PaymentsHandler *paymentshandlers.Handler
}

// Build constructs the full dependency graph from cfg and an already
// open, migrated database connection. It returns an error rather than
// panicking so cmd/main.go can log and exit cleanly on a wiring failure.
func Build(ctx context.Context, cfg *config.Config, db *sqlx.DB, log *logger.Logger) (*Container, error) {
	zl := log.Zap()
	production := cfg.Environment == "production"

	c := &Container{Config: cfg, Logger: log, DB: db}

	if cfg.VaultEnabled {
		c.Secrets = secrets.NewVaultClient(ctx, secrets.VaultConfig{
			Address:    cfg.VaultAddress,
			Token:      cfg.VaultToken,
			MountPath:  cfg.VaultMountPath,
			SecretPath: cfg.VaultSecretPath,
		}, zl)
		cfg.EncryptionKey = c.Secrets.Get(ctx, "encryption_key", cfg.EncryptionKey)
		cfg.AuditKey = c.Secrets.Get(ctx, "audit_key", cfg.AuditKey)
		cfg.PaymentProviderSecret = c.Secrets.Get(ctx, "payment_provider_secret", cfg.PaymentProviderSecret)
	} else {
		c.Secrets = secrets.EnvProvider{}
	}

	cipher, err := crypto.NewGCMCipher([]byte(cfg.EncryptionKey))
	if err != nil {
		return nil, fmt.Errorf("di: build cipher: %w", err)
	}
	c.Cipher = cipher

	tokenSvc, err := buildTokenService(cfg)
	if err != nil {
		return nil, fmt.Errorf("di: build token service: %w", err)
	}
	c.Tokens = tokenSvc

	if cfg.RedisEnabled {
		c.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := c.Redis.Ping(ctx).Err(); err != nil {
			zl.Warn("di: redis ping failed at startup, continuing with degraded mode", zap.Error(err))
		}
	}

	c.RateMemory = ratelimit.NewMemoryBackend()
	c.RateBackend = buildRateBackend(c.RateMemory, c.Redis, zl)
	c.TieredLimiter = ratelimit.NewTieredLimiter(c.RateBackend, cfg.RateLimit)
	c.DistRateLimiter = ratelimit.NewDistributedRateLimiter(c.TieredLimiter, cfg.RateLimit, zl)
	c.FailedLogins = ratelimit.NewFailedLoginTracker(c.RateBackend)

	c.Users = repositories.NewUserRepository(db)
	c.RefreshSessions = repositories.NewRefreshSessionRepository(db)
	c.Audit = repositories.NewAuditRepository(db)
	c.Orders = repositories.NewOrderRepository(db)

	c.SessionSvc = session.NewService(c.RefreshSessions, zl)
	c.AuditSvc = audit.NewService(c.Audit, zl, []byte(cfg.AuditKey))
	c.TwoFASvc = twofa.NewService(cipher)
	c.Sweeper = workers.NewSweepWorker(c.SessionSvc, c.RateMemory, c.AuditSvc, zl)

	if c.Redis != nil {
		c.FraudSignals = adapters.NewRedisFraudSignals(c.Redis, 48*time.Hour)
		c.RiskLimiter = ratelimit.NewAdaptiveRateLimiter(c.Redis,
			ratelimit.NewRiskScoringEngine(c.Redis, ratelimit.DefaultRiskWeights(), zl),
			ratelimit.DefaultAdaptiveConfig(), zl)
		c.WebhookWhitelist = security.NewWebhookIPWhitelist(map[string][]string{
			"default": cfg.PaymentWebhookIPs,
		}, zl)
		c.WebhookLimiter = security.NewWebhookRateLimiter(c.Redis, map[string]security.WebhookRateLimit{
			"default": {MaxRequests: 600, Window: time.Minute},
		}, zl)
		c.WebhookReplay = security.NewWebhookReplayGuard(c.Redis, security.DefaultWebhookEventTTL, zl)
	} else {
		zl.Warn("di: redis disabled, fraud signal history and risk-adaptive limiting are unavailable")
	}

	c.FraudSvc = fraud.NewService(c.Orders, c.FraudSignals, c.FraudSignals, c.AuditSvc, fraudAlertHook(zl), zl)

	email, err := adapters.NewEmailService(zl, adapters.EmailServiceConfig{
		Provider:     cfg.EmailProvider,
		APIKey:       cfg.EmailAPIKey,
		FromEmail:    cfg.EmailFromAddr,
		FromName:     cfg.EmailFromName,
		Environment:  cfg.Environment,
		BaseURL:      cfg.PublicBaseURL,
		ReplyTo:      cfg.EmailReplyTo,
		SMTPHost:     cfg.EmailSMTPHost,
		SMTPPort:     cfg.EmailSMTPPort,
		SMTPUsername: cfg.EmailSMTPUser,
		SMTPPassword: cfg.EmailSMTPPass,
		SMTPUseTLS:   cfg.EmailSMTPUseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("di: build email service: %w", err)
	}
	c.Email = email

	c.AuthSvc = authsvc.NewService(c.Users, c.SessionSvc, c.TwoFASvc, c.AuditSvc, c.Email, c.Tokens, zl)

	c.PaymentProvider = adapters.NewHTTPPaymentProvider(cfg.PaymentProviderBaseURL, cfg.PaymentProviderAPIKey, cfg.PaymentProviderSecret)
	c.CartClient = adapters.NewHTTPCartClient(cfg.CartServiceBaseURL)

	breaker := circuitbreaker.New(circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		OnStateChange: func(from, to circuitbreaker.State) {
			zl.Warn("payment provider circuit breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	c.PaymentSvc = payments.NewService(c.Orders, c.Orders, c.FraudSvc, c.AuditSvc, c.Email, c.CartClient, c.Users, c.PaymentProvider, c.WebhookReplay, breaker, zl)

	c.AuthHandler = authhandlers.New(c.AuthSvc, zl, production)
	c.PaymentsHandler = paymentshandlers.New(c.PaymentSvc, zl)

	return c, nil
}

func buildTokenService(cfg *config.Config) (*tokens.Service, error) {
	accessPriv, err := os.ReadFile(cfg.JWTAccessPrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read access private key: %w", err)
	}
	accessPub, err := os.ReadFile(cfg.JWTAccessPublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read access public key: %w", err)
	}
	refreshPriv, err := os.ReadFile(cfg.JWTRefreshPrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read refresh private key: %w", err)
	}
	refreshPub, err := os.ReadFile(cfg.JWTRefreshPublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read refresh public key: %w", err)
	}

	ap, apub, rp, rpub, err := tokens.LoadRSAKeys(accessPriv, accessPub, refreshPriv, refreshPub)
	if err != nil {
		return nil, err
	}
	return tokens.NewService(ap, apub, rp, rpub, cfg.AccessTokenTTL, cfg.RefreshTokenTTL), nil
}

func buildRateBackend(memory *ratelimit.MemoryBackend, client *redis.Client, zl *zap.Logger) ratelimit.Backend {
	if client == nil {
		return memory
	}
	redisBackend := ratelimit.NewRedisBackend(client)
	return ratelimit.NewFallbackBackend(redisBackend, memory, func(err error) {
		zl.Warn("di: rate-limit backend degraded to memory", zap.Error(err))
	})
}

func fraudAlertHook(zl *zap.Logger) fraud.AlertHook {
	return func(ctx context.Context, userID string, score *fraud.Score) {
		zl.Warn("fraud: alert threshold reached",
			zap.String("user_id", userID), zap.Int("score", score.Total))
	}
}
