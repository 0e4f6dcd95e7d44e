package handlers

import (
	"context"
	"net/http"
	"strconv"

	"orgdesk/internal/pkg/errors"
	"orgdesk/internal/platform/audit"
)

type AuditLister interface {
	List(ctx context.Context, orgID string, limit int) ([]audit.Entry, error)
}

type AuditHandler struct {
	logs AuditLister
}

func NewAuditHandler(logs AuditLister) *AuditHandler {
	return &AuditHandler{logs: logs}
}

// List returns the newest audit entries of the actor's organization.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	uc, ok := actor(w, r)
	if !ok {
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			errors.Write(w, errors.BadRequest("limit must be between 1 and 500"))
			return
		}
		limit = n
	}

	entries, err := h.logs.List(r.Context(), uc.OrganizationID(), limit)
	if err != nil {
		errors.Write(w, errors.Internal("list audit logs", err))
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
