// Package seal encrypts storage-provider credentials at rest.
//
// Each value is sealed independently with AES-256-GCM under a key derived
// from the master process secret, with a fresh random nonce per record.
// The sealer accepts multiple key generations: values are always sealed
// under the current secret, but unsealing tries previous generations too,
// so the process secret can be rotated without a migration. Records
// re-seal lazily the next time they are written.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// Sealed value wire format: "v1:" + base64url(nonce || ciphertext).
const prefix = "v1:"

var (
	// ErrNoSecret is returned when the sealer has no usable secret.
	ErrNoSecret = errors.New("seal: no secret configured")

	// ErrIntegrity is returned when a sealed value fails authentication
	// under every known key generation. Plaintext is never returned on
	// failure.
	ErrIntegrity = errors.New("seal: value failed authentication")

	// ErrMalformed is returned for values that are not in sealed format.
	ErrMalformed = errors.New("seal: malformed sealed value")
)

// Sealer seals and unseals short secrets such as object-store keys.
type Sealer struct {
	// aeads[0] is the current generation, used for sealing.
	// Later entries are prior generations accepted for unsealing.
	aeads []cipher.AEAD
}

// New creates a Sealer from the current process secret and zero or more
// previous secrets kept for rotation tolerance.
func New(secret string, previous ...string) (*Sealer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}

	secrets := append([]string{secret}, previous...)
	aeads := make([]cipher.AEAD, 0, len(secrets))
	for _, s := range secrets {
		if s == "" {
			continue
		}
		aead, err := newAEAD(s)
		if err != nil {
			return nil, err
		}
		aeads = append(aeads, aead)
	}

	return &Sealer{aeads: aeads}, nil
}

// newAEAD derives a 32-byte key from the secret and builds an AES-GCM AEAD.
func newAEAD(secret string) (cipher.AEAD, error) {
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	return aead, nil
}

// Seal encrypts plaintext under the current key generation.
// Empty input seals to the empty string so optional fields stay optional.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	if len(s.aeads) == 0 {
		return "", ErrNoSecret
	}

	aead := s.aeads[0]
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("seal: failed to read nonce: %w", err)
	}

	out := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.RawURLEncoding.EncodeToString(out), nil
}

// Unseal decrypts a sealed value, trying each key generation from newest
// to oldest. The plaintext must only ever live on the heap of the caller
// for the duration of one operation.
func (s *Sealer) Unseal(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	if len(s.aeads) == 0 {
		return "", ErrNoSecret
	}

	if len(sealed) <= len(prefix) || sealed[:len(prefix)] != prefix {
		return "", ErrMalformed
	}

	raw, err := base64.RawURLEncoding.DecodeString(sealed[len(prefix):])
	if err != nil {
		return "", ErrMalformed
	}

	for _, aead := range s.aeads {
		ns := aead.NonceSize()
		if len(raw) < ns {
			continue
		}
		plaintext, err := aead.Open(nil, raw[:ns], raw[ns:], nil)
		if err == nil {
			return string(plaintext), nil
		}
	}
	return "", ErrIntegrity
}

// NeedsReseal reports whether the value was sealed under a previous key
// generation and should be re-sealed on the next write.
func (s *Sealer) NeedsReseal(sealed string) bool {
	if sealed == "" || len(s.aeads) < 2 {
		return false
	}
	if len(sealed) <= len(prefix) || sealed[:len(prefix)] != prefix {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(sealed[len(prefix):])
	if err != nil {
		return false
	}

	aead := s.aeads[0]
	ns := aead.NonceSize()
	if len(raw) < ns {
		return false
	}
	_, err = aead.Open(nil, raw[:ns], raw[ns:], nil)
	return err != nil
}
