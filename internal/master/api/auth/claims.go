package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/wpfleet/wpfleet/pkg/models"
)

// TokenType discriminates the tokens this service issues.
type TokenType string

const (
	// TokenTypeAccess authorizes API calls.
	TokenTypeAccess TokenType = "access"

	// TokenTypeRefresh may only be exchanged for a new pair.
	TokenTypeRefresh TokenType = "refresh"

	// TokenTypeMFAPending is issued after a correct password when the
	// account has MFA enabled. It authorizes exactly one endpoint: the
	// TOTP verification that upgrades it to a real pair.
	TokenTypeMFAPending TokenType = "mfa_pending"
)

// Claims are the JWT claims carried by every token.
type Claims struct {
	jwt.RegisteredClaims

	UserID    uint            `json:"uid"`
	Email     string          `json:"email"`
	Role      models.UserRole `json:"role"`
	TokenType TokenType       `json:"token_type"`
}

// IsAccessToken reports whether this is an access token.
func (c *Claims) IsAccessToken() bool {
	return c.TokenType == TokenTypeAccess
}

// IsRefreshToken reports whether this is a refresh token.
func (c *Claims) IsRefreshToken() bool {
	return c.TokenType == TokenTypeRefresh
}

// IsMFAPending reports whether this token awaits TOTP verification.
func (c *Claims) IsMFAPending() bool {
	return c.TokenType == TokenTypeMFAPending
}
