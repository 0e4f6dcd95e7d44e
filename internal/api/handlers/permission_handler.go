package handlers

import (
	"context"
	"net/http"

	apiContext "orgdesk/internal/api/context"
	"orgdesk/internal/engine/access"
	"orgdesk/internal/engine/permissions"
	"orgdesk/internal/pkg/errors"
)

type PermissionUpdater interface {
	Update(ctx context.Context, uc *access.UserContext, targetUserID, permissionID string, action permissions.Action) error
}

type PermissionHandler struct {
	coordinator PermissionUpdater
}

func NewPermissionHandler(coordinator PermissionUpdater) *PermissionHandler {
	return &PermissionHandler{coordinator: coordinator}
}

// List returns the actor's own permission set.
func (h *PermissionHandler) List(w http.ResponseWriter, r *http.Request) {
	uc, ok := actor(w, r)
	if !ok {
		return
	}
	perms := uc.Permissions()
	if perms == nil {
		perms = []access.PermissionName{}
	}
	writeJSON(w, http.StatusOK, perms)
}

func (h *PermissionHandler) Update(w http.ResponseWriter, r *http.Request) {
	uc, ok := actor(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	err := h.coordinator.Update(ctx, uc,
		apiContext.Param(ctx, "user_id"),
		apiContext.Param(ctx, "permission_id"),
		permissions.Action(apiContext.Param(ctx, "action")),
	)
	if err != nil {
		errors.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
