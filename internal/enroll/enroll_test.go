package enroll

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistrationCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := NewRegistrationCode()
		require.NoError(t, err)
		assert.Len(t, code, CodeLength)
		for _, c := range code {
			assert.Contains(t, codeAlphabet, string(c))
		}
		seen[code] = true
	}
	// 100 draws from a 33M space should not collide.
	assert.Greater(t, len(seen), 95)
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "XK7M2", NormalizeCode("  xk7m2 "))
}

func TestAPIKeyRoundTrip(t *testing.T) {
	key, err := NewAPIKey()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(key), 42) // 32 bytes base64url

	hash, err := HashAPIKey(key)
	require.NoError(t, err)
	assert.True(t, strings.Contains(hash, "$"))
	assert.NotContains(t, hash, key)

	assert.True(t, VerifyAPIKey(hash, key))
	assert.False(t, VerifyAPIKey(hash, key+"x"))
	assert.False(t, VerifyAPIKey(hash, ""))
}

func TestVerifyAPIKeyMalformedHash(t *testing.T) {
	key, err := NewAPIKey()
	require.NoError(t, err)

	for _, stored := range []string{"", "nodollar", "zz$zz", "abcd$1234"} {
		assert.False(t, VerifyAPIKey(stored, key), "stored=%q", stored)
	}
}

func TestHashAPIKeyDistinctSalts(t *testing.T) {
	key, err := NewAPIKey()
	require.NoError(t, err)

	h1, err := HashAPIKey(key)
	require.NoError(t, err)
	h2, err := HashAPIKey(key)
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
	assert.True(t, VerifyAPIKey(h1, key))
	assert.True(t, VerifyAPIKey(h2, key))
}
