package apiclient

import (
	"context"
	"time"
)

// LoginRequest represents a login request.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse represents the response from login/refresh endpoints.
type TokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`

	// Scope is "mfa-pending" when the account still owes a TOTP code.
	Scope    string `json:"scope,omitempty"`
	MFAToken string `json:"mfa_token,omitempty"`
}

// MFAPending reports whether the login stopped at the TOTP step.
func (t *TokenResponse) MFAPending() bool {
	return t.Scope == "mfa-pending"
}

// User is the sanitized account representation returned by the API.
type User struct {
	ID         uint       `json:"id"`
	Email      string     `json:"email"`
	FullName   string     `json:"full_name,omitempty"`
	Role       string     `json:"role"`
	MFAEnabled bool       `json:"mfa_enabled"`
	LastLogin  *time.Time `json:"last_login,omitempty"`
}

// Login authenticates with the master. When the returned response has
// MFAPending set, follow up with VerifyMFA using the MFAToken.
func (c *Client) Login(ctx context.Context, email, password string) (*TokenResponse, error) {
	var resp TokenResponse
	if err := c.post(ctx, "/api/v1/auth/login", LoginRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VerifyMFA redeems the mfa-pending token with a TOTP code.
func (c *Client) VerifyMFA(ctx context.Context, mfaToken, code string) (*TokenResponse, error) {
	var resp TokenResponse
	pending := c.WithToken(mfaToken)
	if err := pending.post(ctx, "/api/v1/auth/mfa/verify", map[string]string{"code": code}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RefreshToken refreshes the access token using the refresh token.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	var resp TokenResponse
	req := struct {
		RefreshToken string `json:"refresh_token"`
	}{RefreshToken: refreshToken}
	if err := c.post(ctx, "/api/v1/auth/refresh", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Me returns the authenticated account.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.get(ctx, "/api/v1/auth/me", &user); err != nil {
		return nil, err
	}
	return &user, nil
}
