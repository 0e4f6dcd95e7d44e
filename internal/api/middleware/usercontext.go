package middleware

import (
	"context"
	"net/http"

	apiContext "orgdesk/internal/api/context"
	"orgdesk/internal/engine/access"
	"orgdesk/internal/pkg/errors"
	"orgdesk/internal/platform/audit"
)

type ContextBuilder interface {
	Build(ctx context.Context, actorID string) (*access.UserContext, error)
}

// UserContextMiddleware resolves the authenticated actor into a user
// context. It must run after AuthMiddleware.
type UserContextMiddleware struct {
	builder ContextBuilder
}

func NewUserContextMiddleware(builder ContextBuilder) *UserContextMiddleware {
	return &UserContextMiddleware{builder: builder}
}

func (m *UserContextMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := apiContext.ClaimsFrom(r.Context())
		if !ok {
			errors.Write(w, errors.Unauthorized("No authentication claims found"))
			return
		}

		uc, err := m.builder.Build(r.Context(), claims.UserID)
		if errors.KindOf(err) == errors.KindNotFound {
			errors.Write(w, errors.Unauthorized("User not found or disabled"))
			return
		}
		if err != nil {
			errors.Write(w, err)
			return
		}
		if uc.OrganizationID() != claims.OrganizationID {
			errors.Write(w, errors.Unauthorized("Invalid or expired token"))
			return
		}

		ctx := context.WithValue(r.Context(), apiContext.Actor, uc)
		ctx = audit.WithRequest(ctx, ClientIP(r), r.UserAgent())
		next(w, r.WithContext(ctx))
	}
}

// RequireAdmin admits administrators only.
func RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uc, ok := apiContext.ActorFrom(r.Context())
		if !ok {
			errors.Write(w, errors.Unauthorized("No user context found"))
			return
		}
		if !uc.IsAdmin() {
			errors.Write(w, errors.Forbidden("Insufficient permissions"))
			return
		}
		next(w, r)
	}
}

// RequirePermission admits administrators and holders of p.
func RequirePermission(p access.PermissionName) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			uc, ok := apiContext.ActorFrom(r.Context())
			if !ok {
				errors.Write(w, errors.Unauthorized("No user context found"))
				return
			}
			if !uc.IsAdmin() && !uc.HasPermission(p) {
				errors.Write(w, errors.Forbidden("Insufficient permissions"))
				return
			}
			next(w, r)
		}
	}
}
