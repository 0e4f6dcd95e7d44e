package handlers

import (
	"context"
	"net/http"

	apiContext "orgdesk/internal/api/context"
	"orgdesk/internal/engine/access"
	"orgdesk/internal/pkg/errors"
)

type DepartmentAssigner interface {
	Reassign(ctx context.Context, uc *access.UserContext, targetUserID, departmentID string) error
}

type DepartmentHandler struct {
	departments DepartmentAssigner
}

func NewDepartmentHandler(departments DepartmentAssigner) *DepartmentHandler {
	return &DepartmentHandler{departments: departments}
}

func (h *DepartmentHandler) Assign(w http.ResponseWriter, r *http.Request) {
	uc, ok := actor(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	err := h.departments.Reassign(ctx, uc, apiContext.Param(ctx, "user_id"), apiContext.Param(ctx, "department_id"))
	if err != nil {
		errors.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
