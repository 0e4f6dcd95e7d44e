package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"orgdesk/internal/pkg/ids"
	"orgdesk/internal/platform/database"
)

const (
	ActionInvitationIssued   = "invitation.issued"
	ActionInvitationRedeemed = "invitation.redeemed"
	ActionUserCreated        = "user.created"
	ActionPermissionAdded    = "permission.added"
	ActionPermissionRemoved  = "permission.removed"
	ActionDepartmentAssigned = "department.assigned"
	ActionAccessRevoked      = "access.revoked"
	ActionAccessEnabled      = "access.enabled"
	ActionUserInfoUpdated    = "user.info_updated"
	ActionProfileUpdated     = "user.profile_updated"
)

type Entry struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	ActorID        string         `json:"actor_id"`
	Action         string         `json:"action"`
	ResourceType   string         `json:"resource_type"`
	ResourceID     string         `json:"resource_id"`
	Metadata       map[string]any `json:"metadata"`
	IPAddress      string         `json:"ip_address"`
	UserAgent      string         `json:"user_agent"`
	CreatedAt      int64          `json:"created_at"`
}

type requestKey struct{}

type requestInfo struct {
	ip string
	ua string
}

// WithRequest attaches client details recorded on every entry logged with
// the returned context.
func WithRequest(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, requestKey{}, requestInfo{ip: ip, ua: userAgent})
}

type Logger struct {
	db *database.DB
}

func NewLogger(db *database.DB) *Logger {
	return &Logger{db: db}
}

// Log appends an entry. Failures are logged and never fail the caller's
// operation, which has already committed. A nil Logger discards entries.
func (l *Logger) Log(ctx context.Context, e Entry) {
	if l == nil {
		return
	}
	if e.ID == "" {
		e.ID = ids.WithPrefix("audit")
	}
	e.CreatedAt = time.Now().Unix()
	if info, ok := ctx.Value(requestKey{}).(requestInfo); ok {
		e.IPAddress, e.UserAgent = info.ip, info.ua
	}

	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		metaJSON = []byte("{}")
	}

	_, err = l.db.ExecContext(ctx, l.db.Rebind(`
		INSERT INTO audit_logs (id, organization_id, actor_id, action, resource_type, resource_id, metadata, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), e.ID, e.OrganizationID, e.ActorID, e.Action, e.ResourceType, e.ResourceID, string(metaJSON), e.IPAddress, e.UserAgent, e.CreatedAt)
	if err != nil {
		log.Error().Err(err).
			Str("action", e.Action).
			Str("org_id", e.OrganizationID).
			Str("actor_id", e.ActorID).
			Msg("Failed to write audit log")
	}
}

// List returns the newest entries for an organization.
func (l *Logger) List(ctx context.Context, orgID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, l.db.Rebind(`
		SELECT id, organization_id, actor_id, action, resource_type, resource_id, metadata, ip_address, user_agent, created_at
		FROM audit_logs WHERE organization_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`), orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var meta string
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.ActorID, &e.Action, &e.ResourceType, &e.ResourceID, &meta, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
