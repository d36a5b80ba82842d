package tokens

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	ap, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	rp, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return NewService(ap, &ap.PublicKey, rp, &rp.PublicKey, time.Minute, time.Hour)
}

func TestSignVerifyAccessRoundTrip(t *testing.T) {
	svc := newTestService(t)
	user := UserForToken{ID: "u1", Email: "alice@example.com", Role: "user", TokenVersion: 3}

	token, err := svc.SignAccess(user, "fp-123", "203.0.113.10")
	require.NoError(t, err)

	claims, err := svc.VerifyAccess(token, "fp-123")
	require.NoError(t, err)
	require.Equal(t, "u1", claims.Subject)
	require.Equal(t, "user", claims.Role)
	require.Equal(t, "fp-123", claims.Fingerprint)
	require.Equal(t, "203.0.113.10", claims.IP)
}

func TestVerifyAccessRejectsFingerprintMismatch(t *testing.T) {
	svc := newTestService(t)
	token, err := svc.SignAccess(UserForToken{ID: "u1", Email: "a@b.com", Role: "user"}, "fp-a", "1.2.3.4")
	require.NoError(t, err)

	_, err = svc.VerifyAccess(token, "fp-b")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyAccessRejectsAlgNone(t *testing.T) {
	svc := newTestService(t)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "alice", "role": "admin",
	})
	tok, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.VerifyAccess(tok, "")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyAccessRejectsOtherAlgorithms(t *testing.T) {
	svc := newTestService(t)

	hmacToken := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice"})
	signed, err := hmacToken.SignedString([]byte("some-secret"))
	require.NoError(t, err)

	_, err = svc.VerifyAccess(signed, "")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyAccessRejectsRefreshToken(t *testing.T) {
	svc := newTestService(t)
	refresh, err := svc.SignRefresh("u1", "family-1", 1)
	require.NoError(t, err)

	_, err = svc.VerifyAccess(refresh, "")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRefreshRejectsAccessToken(t *testing.T) {
	svc := newTestService(t)
	access, err := svc.SignAccess(UserForToken{ID: "u1", Email: "a@b.com", Role: "user"}, "fp", "ip")
	require.NoError(t, err)

	_, err = svc.VerifyRefresh(access)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestHashTokenIsDeterministic(t *testing.T) {
	h1 := HashToken("some-raw-token")
	h2 := HashToken("some-raw-token")
	require.Equal(t, h1, h2)
	require.NotEqual(t, h1, HashToken("different-token"))
}
