package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"

	"keymatic-backend/internal/apperr"
)

var (
	ErrMissingSecret    = apperr.Configuration("signing secret is not configured")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Sign returns the base64 HMAC-SHA256 of the exact command bytes.
func Sign(secret, cmd string) (string, error) {
	if secret == "" {
		return "", ErrMissingSecret
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(cmd))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the MAC the way the firmware does and compares in constant time.
func Verify(secret, cmd, sigB64 string) error {
	if secret == "" {
		return ErrMissingSecret
	}
	got, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil || len(got) != sha256.Size {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(cmd))
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// Signer binds the shared secret so callers never handle it directly.
type Signer struct {
	secret string
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: secret}
}

func (s *Signer) Sign(cmd string) (string, error) {
	return Sign(s.secret, cmd)
}

func (s *Signer) Verify(cmd, sig string) error {
	return Verify(s.secret, cmd, sig)
}
