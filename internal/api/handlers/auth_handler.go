package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"orgdesk/internal/pkg/errors"
	"orgdesk/internal/pkg/validator"
	"orgdesk/internal/platform/auth"
	"orgdesk/internal/platform/crypto"
	"orgdesk/internal/platform/models"
)

type CredentialStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, userID string, timestamp int64) error
}

type AuthHandler struct {
	users    CredentialStore
	hasher   *crypto.Hasher
	tokenSvc *auth.TokenService
}

func NewAuthHandler(users CredentialStore, hasher *crypto.Hasher, tokenSvc *auth.TokenService) *AuthHandler {
	return &AuthHandler{
		users:    users,
		hasher:   hasher,
		tokenSvc: tokenSvc,
	}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	User         *models.User `json:"user"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		errors.Write(w, err)
		return
	}

	addr, err := validator.NormalizeEmail(req.Email)
	if err != nil || req.Password == "" {
		errors.Write(w, errors.Unauthorized("Invalid credentials"))
		return
	}

	user, err := h.users.GetByEmail(r.Context(), addr)
	if err != nil {
		errors.Write(w, errors.Internal("load user", err))
		return
	}
	// Unknown users and wrong passwords are indistinguishable to the client.
	if user == nil || !h.hasher.Verify(user.PasswordHash, req.Password) {
		errors.Write(w, errors.Unauthorized("Invalid credentials"))
		return
	}
	if user.Disabled {
		errors.Write(w, errors.Unauthorized("User account disabled"))
		return
	}

	accessToken, err := h.tokenSvc.GenerateAccessToken(user.ID, user.OrganizationID, user.Email)
	if err != nil {
		errors.Write(w, errors.Internal("Failed to generate token", err))
		return
	}
	refreshToken, err := h.tokenSvc.GenerateRefreshToken(user.ID, user.OrganizationID)
	if err != nil {
		errors.Write(w, errors.Internal("Failed to generate token", err))
		return
	}

	now := time.Now().Unix()
	if err := h.users.UpdateLastLogin(r.Context(), user.ID, now); err != nil {
		log.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to record last login")
	} else {
		user.LastLoginAt = &now
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user,
	})
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type RefreshResponse struct {
	AccessToken string `json:"access_token"`
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		errors.Write(w, err)
		return
	}

	claims, err := h.tokenSvc.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		errors.Write(w, errors.Unauthorized("Invalid refresh token"))
		return
	}

	// Disabled users cannot refresh.
	user, err := h.users.GetByID(r.Context(), claims.UserID)
	if err != nil {
		errors.Write(w, errors.Internal("load user", err))
		return
	}
	if user == nil || user.Disabled || user.OrganizationID != claims.OrganizationID {
		errors.Write(w, errors.Unauthorized("Invalid refresh token"))
		return
	}

	accessToken, err := h.tokenSvc.GenerateAccessToken(user.ID, user.OrganizationID, user.Email)
	if err != nil {
		errors.Write(w, errors.Internal("Failed to generate token", err))
		return
	}

	writeJSON(w, http.StatusOK, RefreshResponse{AccessToken: accessToken})
}
