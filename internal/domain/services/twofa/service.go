// Package twofa implements TOTP-based two-factor authentication: secret
// provisioning, verification, and bcrypt-hashed backup codes.
package twofa

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/png"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"github.com/railguard/sentinel/pkg/crypto"
)

var (
	ErrInvalidCode = errors.New("twofa: invalid totp or backup code")
)

const (
	issuer         = "Sentinel"
	backupCodeLen  = 10
	backupCodeSets = 8
)

// Setup is returned once, at enable time: the plaintext secret (for the
// provisioning URI/QR) and the plaintext backup codes. Neither is ever
// persisted in plaintext.
type Setup struct {
	Secret           string
	ProvisioningURI  string
	QRCodePNGBase64  string
	BackupCodesPlain []string
}

// qrCodeDataURI renders uri as a 256x256 PNG QR barcode, base64-encoded
// for direct embedding in a JSON response. A render failure never
// blocks enrollment — the client can still type the secret in by hand.
func qrCodeDataURI(uri string) string {
	code, err := qr.Encode(uri, qr.M, qr.Auto)
	if err != nil {
		return ""
	}
	scaled, err := barcode.Scale(code, 256, 256)
	if err != nil {
		return ""
	}
	return encodePNGBase64(scaled)
}

func encodePNGBase64(img image.Image) string {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// Service generates and verifies TOTP secrets, encrypting them at rest
// with the process-wide AES-256-GCM cipher.
type Service struct {
	cipher *crypto.GCMCipher
}

func NewService(cipher *crypto.GCMCipher) *Service {
	return &Service{cipher: cipher}
}

// GenerateSecret mints a new base32 TOTP secret and a fresh batch of
// backup codes, for the caller to stage pending enablement until a
// verifying TOTP code is submitted (see VerifyTOTP).
func (s *Service) GenerateSecret(accountEmail string) (*Setup, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountEmail,
	})
	if err != nil {
		return nil, fmt.Errorf("twofa: generate: %w", err)
	}

	codes, err := generateBackupCodes(backupCodeSets)
	if err != nil {
		return nil, err
	}

	return &Setup{
		Secret:           key.Secret(),
		ProvisioningURI:  key.URL(),
		QRCodePNGBase64:  qrCodeDataURI(key.URL()),
		BackupCodesPlain: codes,
	}, nil
}

// EncryptSecret seals a plaintext base32 secret for storage.
func (s *Service) EncryptSecret(secret string) ([]byte, error) {
	return s.cipher.Seal([]byte(secret))
}

// DecryptSecret reverses EncryptSecret.
func (s *Service) DecryptSecret(sealed []byte) (string, error) {
	plain, err := s.cipher.Open(sealed)
	if err != nil {
		return "", fmt.Errorf("twofa: decrypt secret: %w", err)
	}
	return string(plain), nil
}

// VerifyTOTP validates code against the decrypted secret using RFC 6238
// with a ±1 step skew.
func (s *Service) VerifyTOTP(secret, code string) bool {
	valid, _ := totp.ValidateCustom(code, secret, timeNow(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return valid
}

// HashBackupCodes bcrypt-hashes a batch of plaintext backup codes for
// storage; the plaintext is never persisted.
func HashBackupCodes(codes []string) ([]string, error) {
	hashes := make([]string, 0, len(codes))
	for _, c := range codes {
		h, err := bcrypt.GenerateFromPassword([]byte(c), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("twofa: hash backup code: %w", err)
		}
		hashes = append(hashes, string(h))
	}
	return hashes, nil
}

// ConsumeBackupCode finds and removes the hash matching code from
// hashes, returning the remaining set. ok is false (hashes unchanged)
// when no hash matches.
func ConsumeBackupCode(hashes []string, code string) (remaining []string, ok bool) {
	for i, h := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(code)) == nil {
			remaining = append(append([]string{}, hashes[:i]...), hashes[i+1:]...)
			return remaining, true
		}
	}
	return hashes, false
}

func generateBackupCodes(n int) ([]string, error) {
	codes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		buf := make([]byte, backupCodeLen/2)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("twofa: generate backup code: %w", err)
		}
		codes = append(codes, hex.EncodeToString(buf))
	}
	return codes, nil
}

func timeNow() time.Time { return time.Now() }
