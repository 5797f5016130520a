// Package enroll implements the node enrollment primitives: short
// human-typeable registration codes and the API keys handed to approved
// nodes.
//
// Registration codes are 5 characters of base-32 so an operator can read
// one off a server console over the phone. API keys carry 256 bits of
// entropy; the master stores only a salted SHA-256 hash and compares in
// constant time.
package enroll

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// CodeLength is the registration code length in characters.
const CodeLength = 5

// codeAlphabet is the RFC 4648 base-32 alphabet. 32^5 ≈ 33.5M codes,
// plenty for the population of simultaneously pending nodes.
const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// apiKeyBytes is the raw entropy of a node API key (256 bits).
const apiKeyBytes = 32

// saltBytes is the per-key salt length.
const saltBytes = 16

// NewRegistrationCode returns a random 5-character base-32 code.
func NewRegistrationCode() (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	var b strings.Builder
	b.Grow(CodeLength)
	for _, c := range buf {
		b.WriteByte(codeAlphabet[int(c)%len(codeAlphabet)])
	}
	return b.String(), nil
}

// NormalizeCode upper-cases and trims a user-supplied registration code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NewAPIKey generates a fresh plaintext node API key.
//
// The key is URL-safe base64 so it survives config files and HTTP
// headers unquoted. The caller must hash it before persisting; the
// plaintext is shown to the node exactly once.
func NewAPIKey() (string, error) {
	buf := make([]byte, apiKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashAPIKey returns "hex(salt)$hex(sha256(salt||key))" for storage.
func HashAPIKey(key string) (string, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	sum := sha256.Sum256(append(salt, []byte(key)...))
	return hex.EncodeToString(salt) + "$" + hex.EncodeToString(sum[:]), nil
}

// VerifyAPIKey reports whether key matches the stored salted hash.
// The digest comparison is constant time.
func VerifyAPIKey(stored, key string) bool {
	saltHex, sumHex, ok := strings.Cut(stored, "$")
	if !ok {
		return false
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil || len(salt) != saltBytes {
		return false
	}
	want, err := hex.DecodeString(sumHex)
	if err != nil || len(want) != sha256.Size {
		return false
	}

	sum := sha256.Sum256(append(salt, []byte(key)...))
	return subtle.ConstantTimeCompare(sum[:], want) == 1
}
