package secrets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEnvProviderAlwaysReturnsFallback(t *testing.T) {
	p := EnvProvider{}
	require.Equal(t, "fallback-value", p.Get(context.Background(), "anything", "fallback-value"))
	require.Equal(t, StateAuthenticated, p.State())
}

func TestVaultClientFetchesAndCachesSecrets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-token", r.Header.Get("X-Vault-Token"))
		resp := kvV2Response{}
		resp.Data.Data = map[string]string{"encryption_key": "from-vault-0123456789012345678901"}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewVaultClient(context.Background(), VaultConfig{
		Address:    srv.URL,
		Token:      "test-token",
		MountPath:  "secret",
		SecretPath: "sentinel",
	}, zap.NewNop())
	defer c.Close()

	require.Equal(t, StateAuthenticated, c.State())
	require.Equal(t, "from-vault-0123456789012345678901", c.Get(context.Background(), "encryption_key", "env-default"))
	require.Equal(t, "env-default", c.Get(context.Background(), "missing_key", "env-default"))
}

func TestVaultClientDegradesOnUnreachableStore(t *testing.T) {
	c := NewVaultClient(context.Background(), VaultConfig{
		Address:    "http://127.0.0.1:1", // nothing listens here
		Token:      "test-token",
		MountPath:  "secret",
		SecretPath: "sentinel",
	}, zap.NewNop())
	defer c.Close()

	require.Equal(t, StateDegraded, c.State())
	require.Equal(t, "env-default", c.Get(context.Background(), "encryption_key", "env-default"))
}
