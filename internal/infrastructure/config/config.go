// Package config loads service configuration from environment variables
// (seeded from a .env file whenever one is present, in any environment)
// via viper, and fails startup loudly when a security-critical secret
// is missing rather than falling back to an insecure default.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Environment string
	LogLevel    string

	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration

	DatabaseURL     string
	DatabaseMaxOpen int
	DatabaseMaxIdle int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisEnabled  bool

	JWTAccessPrivateKeyPath  string
	JWTAccessPublicKeyPath   string
	JWTRefreshPrivateKeyPath string
	JWTRefreshPublicKeyPath  string
	AccessTokenTTL           time.Duration
	RefreshTokenTTL          time.Duration

	EncryptionKey string // AES-256-GCM key for 2FA secret envelope, 32 bytes
	AuditKey      string // HMAC-SHA256 key for the audit hash chain

	EmailProvider    string
	EmailAPIKey      string
	EmailFromAddr    string
	EmailFromName    string
	EmailReplyTo     string
	EmailSMTPHost    string
	EmailSMTPPort    int
	EmailSMTPUser    string
	EmailSMTPPass    string
	EmailSMTPUseTLS  bool
	PublicBaseURL    string // used to build verification/reset links

	PaymentProviderBaseURL string
	PaymentProviderAPIKey  string
	PaymentProviderSecret  string
	PaymentWebhookIPs      []string
	PaymentWebhookHeader   string

	CartServiceBaseURL string
	CartServiceAPIKey  string

	OTelCollectorURL string
	OTelSampleRate   float64

	VaultEnabled    bool
	VaultAddress    string
	VaultToken      string
	VaultMountPath  string
	VaultSecretPath string

	CORSAllowedOrigins []string
	RateLimit          RateLimitConfig
}

type RateLimitConfig struct {
	Enabled         bool
	GlobalLimit     int64
	IPLimit         int64
	UserLimit       int64
	FailOpen        bool
	ResponseHeaders bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("server_port", "8080")
	v.SetDefault("server_read_timeout", "15s")
	v.SetDefault("server_write_timeout", "15s")
	v.SetDefault("server_idle_timeout", "60s")
	v.SetDefault("database_max_open", 25)
	v.SetDefault("database_max_idle", 5)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_db", 0)
	v.SetDefault("redis_enabled", true)
	v.SetDefault("access_token_ttl", "15m")
	v.SetDefault("refresh_token_ttl", "168h")
	v.SetDefault("otel_sample_rate", 0.1)
	v.SetDefault("vault_enabled", false)
	v.SetDefault("vault_mount_path", "secret")
	v.SetDefault("vault_secret_path", "sentinel")
	v.SetDefault("rate_limit_enabled", true)
	v.SetDefault("rate_limit_global", 5000)
	v.SetDefault("rate_limit_ip", 600)
	v.SetDefault("rate_limit_user", 1200)
	v.SetDefault("rate_limit_fail_open", false)
	v.SetDefault("rate_limit_response_headers", true)
	v.SetDefault("email_provider", "smtp")
	v.SetDefault("email_smtp_port", 587)
	v.SetDefault("email_smtp_use_tls", true)
	v.SetDefault("payment_webhook_header", "Stripe-Signature")

	cfg := &Config{
		Environment:              v.GetString("environment"),
		LogLevel:                 v.GetString("log_level"),
		ServerPort:               v.GetString("server_port"),
		ServerReadTimeout:        v.GetDuration("server_read_timeout"),
		ServerWriteTimeout:       v.GetDuration("server_write_timeout"),
		ServerIdleTimeout:        v.GetDuration("server_idle_timeout"),
		DatabaseURL:              v.GetString("database_url"),
		DatabaseMaxOpen:          v.GetInt("database_max_open"),
		DatabaseMaxIdle:          v.GetInt("database_max_idle"),
		RedisAddr:                v.GetString("redis_addr"),
		RedisPassword:            v.GetString("redis_password"),
		RedisDB:                  v.GetInt("redis_db"),
		RedisEnabled:             v.GetBool("redis_enabled"),
		JWTAccessPrivateKeyPath:  v.GetString("jwt_access_private_key_path"),
		JWTAccessPublicKeyPath:   v.GetString("jwt_access_public_key_path"),
		JWTRefreshPrivateKeyPath: v.GetString("jwt_refresh_private_key_path"),
		JWTRefreshPublicKeyPath:  v.GetString("jwt_refresh_public_key_path"),
		AccessTokenTTL:           v.GetDuration("access_token_ttl"),
		RefreshTokenTTL:          v.GetDuration("refresh_token_ttl"),
		EncryptionKey:            v.GetString("encryption_key"),
		AuditKey:                 v.GetString("audit_key"),
		EmailProvider:            v.GetString("email_provider"),
		EmailAPIKey:              v.GetString("email_api_key"),
		EmailFromAddr:            v.GetString("email_from_address"),
		EmailFromName:            v.GetString("email_from_name"),
		EmailReplyTo:             v.GetString("email_reply_to"),
		EmailSMTPHost:            v.GetString("email_smtp_host"),
		EmailSMTPPort:            v.GetInt("email_smtp_port"),
		EmailSMTPUser:            v.GetString("email_smtp_username"),
		EmailSMTPPass:            v.GetString("email_smtp_password"),
		EmailSMTPUseTLS:          v.GetBool("email_smtp_use_tls"),
		PublicBaseURL:            v.GetString("public_base_url"),
		PaymentProviderBaseURL:   v.GetString("payment_provider_base_url"),
		PaymentProviderAPIKey:    v.GetString("payment_provider_api_key"),
		PaymentProviderSecret:    v.GetString("payment_provider_secret"),
		PaymentWebhookIPs:        splitCSV(v.GetString("payment_webhook_ips")),
		PaymentWebhookHeader:     v.GetString("payment_webhook_header"),
		CartServiceBaseURL:       v.GetString("cart_service_base_url"),
		CartServiceAPIKey:        v.GetString("cart_service_api_key"),
		OTelCollectorURL:         v.GetString("otel_collector_url"),
		OTelSampleRate:           v.GetFloat64("otel_sample_rate"),
		VaultEnabled:             v.GetBool("vault_enabled"),
		VaultAddress:             v.GetString("vault_address"),
		VaultToken:               v.GetString("vault_token"),
		VaultMountPath:           v.GetString("vault_mount_path"),
		VaultSecretPath:          v.GetString("vault_secret_path"),
		CORSAllowedOrigins:       splitCSV(v.GetString("cors_allowed_origins")),
		RateLimit: RateLimitConfig{
			Enabled:         v.GetBool("rate_limit_enabled"),
			GlobalLimit:     v.GetInt64("rate_limit_global"),
			IPLimit:         v.GetInt64("rate_limit_ip"),
			UserLimit:       v.GetInt64("rate_limit_user"),
			FailOpen:        v.GetBool("rate_limit_fail_open"),
			ResponseHeaders: v.GetBool("rate_limit_response_headers"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.JWTAccessPrivateKeyPath == "" || c.JWTAccessPublicKeyPath == "" {
		missing = append(missing, "JWT_ACCESS_PRIVATE_KEY_PATH/JWT_ACCESS_PUBLIC_KEY_PATH")
	}
	if c.JWTRefreshPrivateKeyPath == "" || c.JWTRefreshPublicKeyPath == "" {
		missing = append(missing, "JWT_REFRESH_PRIVATE_KEY_PATH/JWT_REFRESH_PUBLIC_KEY_PATH")
	}
	if len(c.EncryptionKey) != 32 {
		missing = append(missing, "ENCRYPTION_KEY (must be exactly 32 bytes)")
	}
	if c.AuditKey == "" {
		missing = append(missing, "AUDIT_KEY")
	}
	if c.PaymentProviderSecret == "" {
		missing = append(missing, "PAYMENT_PROVIDER_SECRET")
	}
	if c.Environment == "production" && !c.RedisEnabled {
		missing = append(missing, "REDIS_ENABLED (cannot be false in production)")
	}
	if c.VaultEnabled && (c.VaultAddress == "" || c.VaultToken == "") {
		missing = append(missing, "VAULT_ADDRESS/VAULT_TOKEN (required when VAULT_ENABLED=true)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
