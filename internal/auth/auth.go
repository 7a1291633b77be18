// Package auth signs and verifies owner bearer tokens.
//
// A token is "<owner uuid>.<hex HMAC-SHA256 of the uuid>". Keys are built
// once from configuration and passed to whoever needs them.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// MinSecretLength is the shortest accepted signing secret, in bytes.
const MinSecretLength = 32

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Keys holds the signing secret.
type Keys struct {
	secret []byte
}

// NewKeys copies secret so later changes by the caller have no effect.
func NewKeys(secret []byte) (*Keys, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("auth secret must be at least %d bytes, got %d", MinSecretLength, len(secret))
	}
	return &Keys{secret: append([]byte(nil), secret...)}, nil
}

func (k *Keys) mac(owner uuid.UUID) []byte {
	m := hmac.New(sha256.New, k.secret)
	m.Write([]byte(owner.String()))
	return m.Sum(nil)
}

// Sign issues a token for owner.
func (k *Keys) Sign(owner uuid.UUID) string {
	return owner.String() + "." + hex.EncodeToString(k.mac(owner))
}

// Verify returns the owner a token was issued for.
func (k *Keys) Verify(token string) (uuid.UUID, error) {
	if token == "" {
		return uuid.Nil, ErrMissingToken
	}

	rawOwner, rawSig, ok := strings.Cut(token, ".")
	if !ok {
		return uuid.Nil, ErrInvalidToken
	}
	owner, err := uuid.Parse(rawOwner)
	if err != nil || owner == uuid.Nil {
		return uuid.Nil, ErrInvalidToken
	}
	sig, err := hex.DecodeString(rawSig)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	if !hmac.Equal(sig, k.mac(owner)) {
		return uuid.Nil, ErrInvalidToken
	}
	return owner, nil
}
