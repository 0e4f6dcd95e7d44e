package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"

	apiContext "orgdesk/internal/api/context"
	"orgdesk/internal/api/handlers"
	"orgdesk/internal/api/middleware"
	"orgdesk/internal/engine/access"
	"orgdesk/internal/platform/metrics"
)

type Dependencies struct {
	AuthHandler       *handlers.AuthHandler
	OnboardHandler    *handlers.OnboardHandler
	PermissionHandler *handlers.PermissionHandler
	DepartmentHandler *handlers.DepartmentHandler
	AccessHandler     *handlers.AccessHandler
	AuditHandler      *handlers.AuditHandler
	HealthHandler     *handlers.HealthHandler
	MetricsHandler    *handlers.MetricsHandler
	AuthMiddleware    *middleware.AuthMiddleware
	ContextMiddleware *middleware.UserContextMiddleware
	RateLimiter       *middleware.RateLimiter
	Metrics           *metrics.Metrics
	TrustForwardedFor bool
}

func NewRouter(deps *Dependencies) http.Handler {
	router := httprouter.New()
	m := deps.Metrics

	route := func(method, path string, handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) {
		router.Handle(method, path, wrap(m.Instrument(path, chain(handler, middlewares...))))
	}

	router.GET("/healthz", wrap(deps.HealthHandler.Check))
	router.GET("/metrics", wrap(deps.MetricsHandler.Export))

	// Authentication
	route(http.MethodPost, "/api/v1/auth/login", deps.AuthHandler.Login)
	route(http.MethodPost, "/api/v1/auth/refresh", deps.AuthHandler.Refresh)

	authMid := deps.AuthMiddleware.Handle
	ucMid := deps.ContextMiddleware.Handle

	// Onboarding
	route(http.MethodPost, "/api/v1/onboard/register", deps.OnboardHandler.Register,
		authMid, ucMid, middleware.RequirePermission(access.RegisterUser), deps.RateLimiter.PerDepartment("onboard.register"))
	route(http.MethodPost, "/api/v1/onboard/action", deps.OnboardHandler.Action)
	route(http.MethodPost, "/api/v1/onboard/users", deps.OnboardHandler.CreateUser,
		authMid, ucMid, middleware.RequireAdmin)
	route(http.MethodPost, "/api/v1/onboard/profile-data", deps.OnboardHandler.UpdateProfileData,
		authMid, ucMid)
	route(http.MethodGet, "/api/v1/onboard/profile-data/:user_id", deps.OnboardHandler.GetProfileData,
		authMid, ucMid)
	route(http.MethodPut, "/api/v1/onboard/profile", deps.OnboardHandler.UpdateProfile,
		authMid, ucMid)

	// Permissions
	route(http.MethodGet, "/api/v1/permissions", deps.PermissionHandler.List,
		authMid, ucMid)
	route(http.MethodPut, "/api/v1/permissions/user/:user_id/:action/permission/:permission_id", deps.PermissionHandler.Update,
		authMid, ucMid, middleware.RequirePermission(access.ManagePermissions))

	// Departments
	route(http.MethodPut, "/api/v1/assign-department/user/:user_id/department/:department_id", deps.DepartmentHandler.Assign,
		authMid, ucMid, middleware.RequirePermission(access.DepartmentAssignChildrenUsers))

	// User access
	route(http.MethodPut, "/api/v1/manage-user-access/:user_id/revoke", deps.AccessHandler.Revoke,
		authMid, ucMid, middleware.RequireAdmin)
	route(http.MethodPut, "/api/v1/manage-user-access/:user_id/enable", deps.AccessHandler.Enable,
		authMid, ucMid, middleware.RequireAdmin)

	// Audit
	route(http.MethodGet, "/api/v1/audit-logs", deps.AuditHandler.List,
		authMid, ucMid, middleware.RequireAdmin)

	h := middleware.AccessLog(router)
	if deps.TrustForwardedFor {
		h = middleware.ForwardedFor(h)
	}
	return h
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) http.HandlerFunc {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}
