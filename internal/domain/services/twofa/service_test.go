package twofa

import (
	"testing"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/railguard/sentinel/pkg/crypto"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cipher, err := crypto.NewGCMCipher([]byte("01234567890123456789012345678901"[:32]))
	require.NoError(t, err)
	return NewService(cipher)
}

func TestGenerateSecretProducesValidatableSecret(t *testing.T) {
	svc := newTestService(t)
	setup, err := svc.GenerateSecret("user@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, setup.Secret)
	require.Len(t, setup.BackupCodesPlain, backupCodeSets)

	code, err := totp.GenerateCode(setup.Secret, timeNow())
	require.NoError(t, err)
	require.True(t, svc.VerifyTOTP(setup.Secret, code))
}

func TestEncryptDecryptSecretRoundTrip(t *testing.T) {
	svc := newTestService(t)
	sealed, err := svc.EncryptSecret("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)

	decrypted, err := svc.DecryptSecret(sealed)
	require.NoError(t, err)
	require.Equal(t, "JBSWY3DPEHPK3PXP", decrypted)
}

func TestConsumeBackupCodeRemovesMatched(t *testing.T) {
	hashes, err := HashBackupCodes([]string{"abc123", "def456"})
	require.NoError(t, err)

	remaining, ok := ConsumeBackupCode(hashes, "abc123")
	require.True(t, ok)
	require.Len(t, remaining, 1)

	_, ok = ConsumeBackupCode(remaining, "abc123")
	require.False(t, ok)
}
