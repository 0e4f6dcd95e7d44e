package useraccess

import (
	"context"

	"github.com/rs/zerolog"

	"orgdesk/internal/engine/access"
	"orgdesk/internal/pkg/errors"
	"orgdesk/internal/pkg/logger"
	"orgdesk/internal/platform/audit"
	"orgdesk/internal/platform/models"
)

type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	SetDisabled(ctx context.Context, userID string, disabled bool) error
}

type Service struct {
	users       UserStore
	invalidator access.Invalidator
	audit       *audit.Logger
	log         zerolog.Logger
}

func NewService(users UserStore, invalidator access.Invalidator, auditLog *audit.Logger) *Service {
	return &Service{
		users:       users,
		invalidator: invalidator,
		audit:       auditLog,
		log:         logger.Component("useraccess"),
	}
}

// Revoke disables the user. Missing, foreign and admin targets are left
// untouched and reported as success.
func (s *Service) Revoke(ctx context.Context, uc *access.UserContext, userID string) error {
	return s.setDisabled(ctx, uc, userID, true)
}

func (s *Service) Enable(ctx context.Context, uc *access.UserContext, userID string) error {
	return s.setDisabled(ctx, uc, userID, false)
}

func (s *Service) setDisabled(ctx context.Context, uc *access.UserContext, userID string, disabled bool) error {
	if !uc.IsAdmin() {
		return errors.Forbidden("Only admins can manage user access")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return errors.Internal("Failed to load user", err)
	}
	if user == nil || user.IsAdmin || user.OrganizationID != uc.OrganizationID() {
		return nil
	}

	if err := s.users.SetDisabled(ctx, userID, disabled); err != nil {
		return errors.Internal("Failed to update user access", err)
	}
	// A disabled user must not be served from a cached context.
	if err := s.invalidator.Invalidate(ctx, userID, user.OrganizationID); err != nil {
		return errors.Internal("Failed to invalidate user context", err)
	}

	action := audit.ActionAccessEnabled
	if disabled {
		action = audit.ActionAccessRevoked
	}
	s.log.Info().
		Str("org_id", uc.OrganizationID()).
		Str("actor_id", uc.UserID()).
		Str("target_id", userID).
		Bool("disabled", disabled).
		Msg("User access changed")

	s.audit.Log(ctx, audit.Entry{
		OrganizationID: uc.OrganizationID(),
		ActorID:        uc.UserID(),
		Action:         action,
		ResourceType:   "user",
		ResourceID:     userID,
	})
	return nil
}
