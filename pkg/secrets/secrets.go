// Package secrets implements the optional external-secret-store
// indirection spec.md §6 calls VAULT_ENABLED: when enabled, the
// process reads its security-critical secrets (ENCRYPTION_KEY, the
// audit HMAC key, the payment provider secret) from a
// Vault-compatible KV v2 endpoint instead of the environment, renews
// its lease on a fixed cadence, and falls back to the environment
// values already loaded by internal/infrastructure/config on any
// failure — never aborting startup over a secret-store outage.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the secret client's lifecycle, per spec.md §9's design note
// ("Singleton secret client with a background renewal loop"):
// Init -> Authenticated -> Renewing* -> Torn-down.
type State string

const (
	StateInit          State = "init"
	StateAuthenticated State = "authenticated"
	StateRenewing      State = "renewing"
	StateDegraded      State = "degraded"
	StateTornDown      State = "torn_down"
)

// RenewInterval is the lease-renewal cadence spec.md §6 specifies.
const RenewInterval = 30 * time.Minute

// Provider resolves a named secret, preferring an external store when
// one is configured and falling back to the caller-supplied default
// (normally an environment-variable read already performed by
// config.Load) whenever the store is unavailable.
type Provider interface {
	Get(ctx context.Context, key, envFallback string) string
	State() State
	Close()
}

// EnvProvider is the default, always-available provider: it simply
// returns envFallback. Used when VAULT_ENABLED is false.
type EnvProvider struct{}

func (EnvProvider) Get(_ context.Context, _ string, envFallback string) string { return envFallback }
func (EnvProvider) State() State                                              { return StateAuthenticated }
func (EnvProvider) Close()                                                    {}

// VaultConfig configures the KV v2-compatible client.
type VaultConfig struct {
	Address    string // e.g. https://vault.internal:8200
	Token      string // initial auth token
	MountPath  string // KV v2 mount, e.g. "secret"
	SecretPath string // path under the mount holding this service's secrets
	HTTPClient *http.Client
}

// VaultClient is a minimal KV v2 client with a background renewal
// loop. It never blocks request handling: every read is served from an
// in-memory cache populated at Init and refreshed on the renewal
// ticker; a failed renewal degrades the client (State() reports
// StateDegraded) and callers keep using the last-known-good cache, or
// envFallback if the cache was never populated.
type VaultClient struct {
	cfg    VaultConfig
	logger *zap.Logger

	mu    sync.RWMutex
	state State
	cache map[string]string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewVaultClient constructs the client and performs one synchronous
// fetch so the first request after startup already has secrets
// available; it then starts the background renewal loop. A failure on
// the initial fetch is logged and leaves the client in StateDegraded —
// callers fall back to envFallback transparently.
func NewVaultClient(ctx context.Context, cfg VaultConfig, logger *zap.Logger) *VaultClient {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	c := &VaultClient{
		cfg:    cfg,
		logger: logger,
		state:  StateInit,
		cache:  make(map[string]string),
		done:   make(chan struct{}),
	}

	if err := c.fetch(ctx); err != nil {
		logger.Warn("secrets: initial vault fetch failed, serving env fallback until next renewal",
			zap.Error(err))
		c.setState(StateDegraded)
	} else {
		c.setState(StateAuthenticated)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.renewalLoop(loopCtx)

	return c
}

func (c *VaultClient) renewalLoop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(RenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.setState(StateRenewing)
			fetchCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.fetch(fetchCtx)
			cancel()
			if err != nil {
				c.logger.Warn("secrets: vault renewal failed, keeping last-known-good cache",
					zap.Error(err))
				c.setState(StateDegraded)
				continue
			}
			c.setState(StateAuthenticated)
		}
	}
}

// kvV2Response mirrors the subset of Vault's KV v2 read response this
// client needs.
type kvV2Response struct {
	Data struct {
		Data map[string]string `json:"data"`
	} `json:"data"`
}

func (c *VaultClient) fetch(ctx context.Context) error {
	url := fmt.Sprintf("%s/v1/%s/data/%s", c.cfg.Address, c.cfg.MountPath, c.cfg.SecretPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("secrets: build request: %w", err)
	}
	req.Header.Set("X-Vault-Token", c.cfg.Token)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("secrets: vault request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("secrets: vault returned status %d", resp.StatusCode)
	}

	var parsed kvV2Response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("secrets: decode vault response: %w", err)
	}

	c.mu.Lock()
	for k, v := range parsed.Data.Data {
		c.cache[k] = v
	}
	c.mu.Unlock()
	return nil
}

// Get returns the cached secret for key, or envFallback if the key was
// never populated (store never reachable, or the key isn't present).
func (c *VaultClient) Get(_ context.Context, key, envFallback string) string {
	c.mu.RLock()
	v, ok := c.cache[key]
	c.mu.RUnlock()
	if !ok || v == "" {
		return envFallback
	}
	return v
}

func (c *VaultClient) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *VaultClient) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Close stops the renewal loop and waits for it to exit.
func (c *VaultClient) Close() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.setState(StateTornDown)
}
