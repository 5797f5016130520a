package seal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealUnsealRoundTrip(t *testing.T) {
	s, err := New("a-process-secret-with-enough-length")
	require.NoError(t, err)

	for _, plaintext := range []string{"AKIAEXAMPLE", "s3cr3t/with+chars=", "x"} {
		sealed, err := s.Seal(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, sealed)
		assert.NotContains(t, sealed, plaintext)

		got, err := s.Unseal(sealed)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestSealEmptyValue(t *testing.T) {
	s, err := New("secret")
	require.NoError(t, err)

	sealed, err := s.Seal("")
	require.NoError(t, err)
	assert.Empty(t, sealed)

	got, err := s.Unseal("")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSealRandomNonces(t *testing.T) {
	s, err := New("secret")
	require.NoError(t, err)

	a, err := s.Seal("same plaintext")
	require.NoError(t, err)
	b, err := s.Seal("same plaintext")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestUnsealWrongKeyFails(t *testing.T) {
	s1, err := New("first secret")
	require.NoError(t, err)
	s2, err := New("second secret")
	require.NoError(t, err)

	sealed, err := s1.Seal("access-key")
	require.NoError(t, err)

	got, err := s2.Unseal(sealed)
	assert.ErrorIs(t, err, ErrIntegrity)
	assert.Empty(t, got)
}

func TestUnsealMalformed(t *testing.T) {
	s, err := New("secret")
	require.NoError(t, err)

	for _, sealed := range []string{"not-sealed", "v1:", "v1:!!!", "v2:abcd"} {
		_, err := s.Unseal(sealed)
		assert.Error(t, err, "sealed=%q", sealed)
	}
}

func TestKeyRotation(t *testing.T) {
	old, err := New("old secret")
	require.NoError(t, err)
	sealed, err := old.Seal("secret-key")
	require.NoError(t, err)

	// Rotated sealer: new current secret, old one kept as a previous
	// generation.
	rotated, err := New("new secret", "old secret")
	require.NoError(t, err)

	got, err := rotated.Unseal(sealed)
	require.NoError(t, err)
	assert.Equal(t, "secret-key", got)
	assert.True(t, rotated.NeedsReseal(sealed))

	// Re-sealed under the current generation.
	resealed, err := rotated.Seal(got)
	require.NoError(t, err)
	assert.False(t, rotated.NeedsReseal(resealed))

	// Once the old generation is dropped, old values fail closed.
	current, err := New("new secret")
	require.NoError(t, err)
	_, err = current.Unseal(sealed)
	assert.ErrorIs(t, err, ErrIntegrity)
	got2, err := current.Unseal(resealed)
	require.NoError(t, err)
	assert.Equal(t, "secret-key", got2)
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, ErrNoSecret)
}
