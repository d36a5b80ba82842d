// Package tokens signs and verifies the two RS256 JWT types the
// security backbone issues — short-lived access tokens and longer-lived
// refresh tokens — with separate key pairs so that a refresh token can
// never be replayed as an access token.
package tokens

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is the single opaque error VerifyAccess/VerifyRefresh
// return to callers — verification failures collapse to one kind so a
// caller cannot distinguish "expired" from "forged" from timing or
// error-message side channels.
var ErrInvalidToken = errors.New("tokens: invalid token")

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	Subject      string `json:"sub"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	TokenVersion int    `json:"tokenVersion"`
	Fingerprint  string `json:"fingerprint"`
	IP           string `json:"ip"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token.
type RefreshClaims struct {
	Subject      string `json:"sub"`
	Family       string `json:"family"`
	TokenVersion int    `json:"tokenVersion"`
	Type         string `json:"type"`
	jwt.RegisteredClaims
}

// Service signs and verifies tokens using two independent RSA key
// pairs. It has no knowledge of users or sessions — it only knows about
// claims and keys.
type Service struct {
	accessPrivate  *rsa.PrivateKey
	accessPublic   *rsa.PublicKey
	refreshPrivate *rsa.PrivateKey
	refreshPublic  *rsa.PublicKey
	accessTTL      time.Duration
	refreshTTL     time.Duration
}

func NewService(accessPriv *rsa.PrivateKey, accessPub *rsa.PublicKey, refreshPriv *rsa.PrivateKey, refreshPub *rsa.PublicKey, accessTTL, refreshTTL time.Duration) *Service {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}
	return &Service{
		accessPrivate:  accessPriv,
		accessPublic:   accessPub,
		refreshPrivate: refreshPriv,
		refreshPublic:  refreshPub,
		accessTTL:      accessTTL,
		refreshTTL:     refreshTTL,
	}
}

type UserForToken struct {
	ID           string
	Email        string
	Role         string
	TokenVersion int
}

// SignAccess mints an RS256 access token with a fresh jti.
func (s *Service) SignAccess(user UserForToken, fingerprint, ip string) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		Subject:      user.ID,
		Email:        user.Email,
		Role:         user.Role,
		TokenVersion: user.TokenVersion,
		Fingerprint:  fingerprint,
		IP:           ip,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(s.accessPrivate)
}

// SignRefresh mints an RS256 refresh token bound to a rotation family.
func (s *Service) SignRefresh(userID, family string, tokenVersion int) (string, error) {
	now := time.Now()
	claims := RefreshClaims{
		Subject:      userID,
		Family:       family,
		TokenVersion: tokenVersion,
		Type:         "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshTTL)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(s.refreshPrivate)
}

// jwtHeader mirrors the fields we need to inspect before any signature
// verification is attempted.
type jwtHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// checkHeader performs the structural and algorithm-confusion gate:
// exactly three dot-segments, and the decoded header must declare
// alg=="RS256" — "none", any HS*/ES*/PS* alg, or a missing alg are all
// rejected before the library ever attempts signature verification.
func checkHeader(tokenString string) error {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return ErrInvalidToken
	}
	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return ErrInvalidToken
	}
	var h jwtHeader
	if err := json.Unmarshal(headerJSON, &h); err != nil {
		return ErrInvalidToken
	}
	if h.Alg != "RS256" {
		return ErrInvalidToken
	}
	return nil
}

// VerifyAccess verifies an access token against the access public key
// only. If expectedFingerprint is non-empty, a mismatch is rejected.
func (s *Service) VerifyAccess(tokenString, expectedFingerprint string) (*AccessClaims, error) {
	if err := checkHeader(tokenString); err != nil {
		return nil, err
	}

	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok || t.Method.Alg() != "RS256" {
			return nil, ErrInvalidToken
		}
		return s.accessPublic, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Subject == "" || claims.Email == "" || claims.Role == "" {
		return nil, ErrInvalidToken
	}
	if expectedFingerprint != "" && claims.Fingerprint != expectedFingerprint {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyRefresh verifies a refresh token against the refresh public key
// only — an access token can never pass this check, satisfying the key
// separation invariant.
func (s *Service) VerifyRefresh(tokenString string) (*RefreshClaims, error) {
	if err := checkHeader(tokenString); err != nil {
		return nil, err
	}

	claims := &RefreshClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok || t.Method.Alg() != "RS256" {
			return nil, ErrInvalidToken
		}
		return s.refreshPublic, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Type != "refresh" || claims.Subject == "" || claims.Family == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// HashToken returns the hex SHA-256 of the raw token bytes — the only
// form of a refresh token ever persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// LoadRSAKeys is a convenience wrapper the app wiring uses to load the
// four PEM files named in config.
func LoadRSAKeys(accessPrivPEM, accessPubPEM, refreshPrivPEM, refreshPubPEM []byte) (*rsa.PrivateKey, *rsa.PublicKey, *rsa.PrivateKey, *rsa.PublicKey, error) {
	ap, err := jwt.ParseRSAPrivateKeyFromPEM(accessPrivPEM)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("tokens: access private key: %w", err)
	}
	apub, err := jwt.ParseRSAPublicKeyFromPEM(accessPubPEM)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("tokens: access public key: %w", err)
	}
	rp, err := jwt.ParseRSAPrivateKeyFromPEM(refreshPrivPEM)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("tokens: refresh private key: %w", err)
	}
	rpub, err := jwt.ParseRSAPublicKeyFromPEM(refreshPubPEM)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("tokens: refresh public key: %w", err)
	}
	return ap, apub, rp, rpub, nil
}
