package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/wpfleet/wpfleet/internal/logger"
	"github.com/wpfleet/wpfleet/internal/master/activity"
	"github.com/wpfleet/wpfleet/internal/master/api/auth"
	"github.com/wpfleet/wpfleet/internal/seal"
	api "github.com/wpfleet/wpfleet/pkg/master/api/handlers"
	"github.com/wpfleet/wpfleet/pkg/models"
	"github.com/wpfleet/wpfleet/pkg/store"
)

// AuthHandler handles authentication-related API endpoints.
type AuthHandler struct {
	store      *store.Store
	jwtService *auth.JWTService
	sealer     *seal.Sealer
	activity   *activity.Recorder
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(st *store.Store, jwtService *auth.JWTService, sealer *seal.Sealer, rec *activity.Recorder) *AuthHandler {
	return &AuthHandler{store: st, jwtService: jwtService, sealer: sealer, activity: rec}
}

// LoginRequest is the request body for POST /api/v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is the response body for a completed login.
type LoginResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    time.Time    `json:"expires_at"`
	User         UserResponse `json:"user"`
}

// MFAPendingResponse is returned when the password checked out but the
// account still owes a TOTP code.
type MFAPendingResponse struct {
	Scope    string `json:"scope"`
	MFAToken string `json:"mfa_token"`
}

// UserResponse is a sanitized user representation for API responses.
type UserResponse struct {
	ID         uint       `json:"id"`
	Email      string     `json:"email"`
	FullName   string     `json:"full_name,omitempty"`
	Role       string     `json:"role"`
	MFAEnabled bool       `json:"mfa_enabled"`
	LastLogin  *time.Time `json:"last_login,omitempty"`
}

// RefreshRequest is the request body for POST /api/v1/auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// MFAVerifyRequest is the request body for POST /api/v1/auth/mfa/verify.
type MFAVerifyRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// Login handles POST /api/v1/auth/login. Accounts with MFA enabled get
// an intermediate token instead of the full pair.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	user, err := h.store.ValidateCredentials(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, models.ErrInvalidCredentials) {
			h.activity.Record(r.Context(), &models.ActivityLog{
				Actor:    req.Email,
				Action:   activity.ActionLoginFailed,
				SourceIP: activity.ClientIP(r),
			})
			api.Unauthorized(w, "Invalid email or password")
			return
		}
		if errors.Is(err, models.ErrUserDisabled) {
			api.Forbidden(w, "User account is disabled")
			return
		}
		api.InternalServerError(w, "Authentication failed")
		return
	}

	if user.MFAEnabled {
		pending, err := h.jwtService.GenerateMFAPendingToken(user)
		if err != nil {
			api.InternalServerError(w, "Failed to generate token")
			return
		}
		api.WriteJSONOK(w, MFAPendingResponse{Scope: "mfa-pending", MFAToken: pending})
		return
	}

	h.completeLogin(w, r, user)
}

// MFAVerify handles POST /api/v1/auth/mfa/verify. The mfa-pending token
// rides the Authorization header; a correct TOTP code upgrades it.
func (h *AuthHandler) MFAVerify(w http.ResponseWriter, r *http.Request) {
	tokenString, ok := bearerToken(r)
	if !ok {
		api.Unauthorized(w, "Authorization header required")
		return
	}
	claims, err := h.jwtService.ValidateMFAPendingToken(tokenString)
	if err != nil {
		api.Unauthorized(w, "Invalid or expired MFA token")
		return
	}

	var req MFAVerifyRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	user, err := h.store.GetUserByID(r.Context(), claims.UserID)
	if err != nil || !user.IsActive || !user.MFAEnabled {
		api.Unauthorized(w, "Invalid or expired MFA token")
		return
	}

	secret, err := h.sealer.Unseal(user.MFASecret)
	if err != nil {
		logger.Error("Failed to unseal MFA secret", "user", user.Email, "error", err)
		api.InternalServerError(w, "MFA verification failed")
		return
	}
	if !auth.VerifyTOTP(req.Code, secret) {
		api.Unauthorized(w, "Invalid code")
		return
	}

	h.completeLogin(w, r, user)
}

// Refresh handles POST /api/v1/auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	claims, err := h.jwtService.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			api.Unauthorized(w, "Refresh token has expired")
			return
		}
		api.Unauthorized(w, "Invalid refresh token")
		return
	}

	user, err := h.store.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		api.Unauthorized(w, "User not found")
		return
	}
	if !user.IsActive {
		api.Forbidden(w, "User account is disabled")
		return
	}

	tokenPair, err := h.jwtService.GenerateTokenPair(user)
	if err != nil {
		api.InternalServerError(w, "Failed to generate token")
		return
	}
	api.WriteJSONOK(w, h.loginResponse(tokenPair, user))
}

// Me handles GET /api/v1/auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r, h.store)
	if user == nil {
		return
	}
	api.WriteJSONOK(w, userToResponse(user))
}

func (h *AuthHandler) completeLogin(w http.ResponseWriter, r *http.Request, user *models.User) {
	tokenPair, err := h.jwtService.GenerateTokenPair(user)
	if err != nil {
		api.InternalServerError(w, "Failed to generate token")
		return
	}

	if err := h.store.UpdateLastLogin(r.Context(), user.ID, time.Now()); err != nil {
		logger.Warn("Failed to update last login time", "user", user.Email, "error", err)
	}
	h.activity.RecordRequest(r, user, activity.ActionLogin, "user", "", nil)

	api.WriteJSONOK(w, h.loginResponse(tokenPair, user))
}

func (h *AuthHandler) loginResponse(pair *auth.TokenPair, user *models.User) LoginResponse {
	return LoginResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn,
		ExpiresAt:    pair.ExpiresAt,
		User:         userToResponse(user),
	}
}

// bearerToken pulls the raw token out of the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// userToResponse converts a User to a UserResponse for API output.
func userToResponse(user *models.User) UserResponse {
	return UserResponse{
		ID:         user.ID,
		Email:      user.Email,
		FullName:   user.FullName,
		Role:       string(user.Role),
		MFAEnabled: user.MFAEnabled,
		LastLogin:  user.LastLogin,
	}
}
