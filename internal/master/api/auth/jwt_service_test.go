package auth

import (
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpfleet/wpfleet/pkg/models"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testUser() *models.User {
	return &models.User{ID: 7, Email: "admin@example.com", Role: models.RoleSuperAdmin}
}

func TestNewJWTServiceRejectsShortSecret(t *testing.T) {
	_, err := NewJWTService(JWTConfig{Secret: "short"})
	assert.ErrorIs(t, err, ErrInvalidSecretLength)
}

func TestTokenPairRoundTrip(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{Secret: testSecret})
	require.NoError(t, err)

	pair, err := svc.GenerateTokenPair(testUser())
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)

	claims, err := svc.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.UserID)
	assert.Equal(t, "admin@example.com", claims.Email)
	assert.Equal(t, models.RoleSuperAdmin, claims.Role)

	refresh, err := svc.ValidateRefreshToken(pair.RefreshToken)
	require.NoError(t, err)
	assert.True(t, refresh.IsRefreshToken())
}

func TestTokenTypeConfusionRejected(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{Secret: testSecret})
	require.NoError(t, err)

	pair, err := svc.GenerateTokenPair(testUser())
	require.NoError(t, err)

	// A refresh token must not pass as an access token, and vice versa.
	_, err = svc.ValidateAccessToken(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidTokenType)
	_, err = svc.ValidateRefreshToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidTokenType)

	// An MFA-pending token is neither.
	pending, err := svc.GenerateMFAPendingToken(testUser())
	require.NoError(t, err)
	_, err = svc.ValidateAccessToken(pending)
	assert.ErrorIs(t, err, ErrInvalidTokenType)

	claims, err := svc.ValidateMFAPendingToken(pending)
	require.NoError(t, err)
	assert.True(t, claims.IsMFAPending())
}

func TestExpiredTokenRejected(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{
		Secret:              testSecret,
		AccessTokenDuration: -time.Minute,
	})
	require.NoError(t, err)

	pair, err := svc.GenerateTokenPair(testUser())
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTamperedTokenRejected(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{Secret: testSecret})
	require.NoError(t, err)
	other, err := NewJWTService(JWTConfig{Secret: "ffffffffffffffffffffffffffffffff"})
	require.NoError(t, err)

	pair, err := svc.GenerateTokenPair(testUser())
	require.NoError(t, err)

	_, err = other.ValidateAccessToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTOTPRoundTrip(t *testing.T) {
	secret, url, err := GenerateTOTPSecret("admin@example.com")
	require.NoError(t, err)
	assert.Contains(t, url, "otpauth://")

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	assert.True(t, VerifyTOTP(code, secret))
	assert.False(t, VerifyTOTP("000000", secret))
}
