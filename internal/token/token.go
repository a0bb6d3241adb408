// Package token issues and verifies preference-link capability tokens.
//
// A token is the hex HMAC-SHA256 of the normalised identity under a server
// secret. Tokens carry no state; replacing the secret revokes every link.
//
// Identities are signed in canonical form: surrounding space is trimmed and
// letters are lower-cased, the same form the store and the allow-list use.
// "A@x.com" and "a@x.com" are therefore one identity with one token, and
// Verify is false only when the canonical forms differ.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/ibeckermayer/newsdigest/internal/errs"
	"github.com/ibeckermayer/newsdigest/internal/types"
)

// Length is the length of an issued token in hex characters.
const Length = sha256.Size * 2

// Service signs and verifies identities with one secret.
type Service struct {
	secret []byte
}

// New constructs a Service. The secret must not be empty.
func New(secret []byte) (*Service, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("token secret is required")
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Service{secret: key}, nil
}

// Issue derives the token for identity. Same identity and secret always
// give the same token.
func (s *Service) Issue(identity string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(types.NormalizeIdentity(identity)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the token for identity and compares in constant time.
func (s *Service) Verify(identity, token string) bool {
	if s == nil || types.NormalizeIdentity(identity) == "" {
		return false
	}
	expected := s.Issue(identity)
	return hmac.Equal([]byte(expected), []byte(token))
}

// Authorize is Verify as an error. Every failure is the same unauthorized
// error so callers cannot tell a bad token from an unknown identity.
func (s *Service) Authorize(identity, token string) error {
	if !s.Verify(identity, token) {
		return errs.Unauthorized("verify_token", errors.New("invalid link"))
	}
	return nil
}

// GenerateSecret returns n random bytes as hex, read from r
// (crypto/rand when nil).
func GenerateSecret(r io.Reader, n int) (string, error) {
	if n <= 0 {
		return "", errors.New("bytes must be greater than zero")
	}
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
