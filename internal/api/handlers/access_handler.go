package handlers

import (
	"context"
	"net/http"

	apiContext "orgdesk/internal/api/context"
	"orgdesk/internal/engine/access"
	"orgdesk/internal/pkg/errors"
)

type AccessManager interface {
	Revoke(ctx context.Context, uc *access.UserContext, userID string) error
	Enable(ctx context.Context, uc *access.UserContext, userID string) error
}

// AccessHandler disables and re-enables user accounts.
type AccessHandler struct {
	manager AccessManager
}

func NewAccessHandler(manager AccessManager) *AccessHandler {
	return &AccessHandler{manager: manager}
}

func (h *AccessHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, h.manager.Revoke)
}

func (h *AccessHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, h.manager.Enable)
}

func (h *AccessHandler) apply(w http.ResponseWriter, r *http.Request, fn func(context.Context, *access.UserContext, string) error) {
	uc, ok := actor(w, r)
	if !ok {
		return
	}
	if err := fn(r.Context(), uc, apiContext.Param(r.Context(), "user_id")); err != nil {
		errors.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
