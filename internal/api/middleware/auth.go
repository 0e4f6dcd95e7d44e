package middleware

import (
	"context"
	"net/http"
	"strings"

	apiContext "orgdesk/internal/api/context"
	"orgdesk/internal/pkg/errors"
	"orgdesk/internal/platform/auth"
)

type AuthMiddleware struct {
	tokenSvc *auth.TokenService
}

func NewAuthMiddleware(tokenSvc *auth.TokenService) *AuthMiddleware {
	return &AuthMiddleware{tokenSvc: tokenSvc}
}

// Handle verifies the bearer access token and stores its claims.
func (m *AuthMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			errors.Write(w, errors.Unauthorized("Missing authorization header"))
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			errors.Write(w, errors.Unauthorized("Invalid authorization header format"))
			return
		}

		claims, err := m.tokenSvc.ValidateToken(token)
		if err != nil {
			errors.Write(w, errors.Unauthorized("Invalid or expired token"))
			return
		}

		ctx := context.WithValue(r.Context(), apiContext.Claims, claims)
		next(w, r.WithContext(ctx))
	}
}
