package departments

import (
	"context"

	"github.com/rs/zerolog"

	"orgdesk/internal/engine/access"
	"orgdesk/internal/pkg/errors"
	"orgdesk/internal/pkg/logger"
	"orgdesk/internal/platform/audit"
	"orgdesk/internal/platform/metrics"
	"orgdesk/internal/platform/models"
)

type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	AssignDepartment(ctx context.Context, userID, departmentID string) error
}

type DepartmentStore interface {
	GetByID(ctx context.Context, id string) (*models.Department, error)
}

var errCannotManage = errors.Forbidden("Cannot perform action on this user")

type Service struct {
	users       UserStore
	departments DepartmentStore
	invalidator access.Invalidator
	audit       *audit.Logger
	metrics     *metrics.Metrics
	log         zerolog.Logger
}

func NewService(users UserStore, departments DepartmentStore, invalidator access.Invalidator, auditLog *audit.Logger, m *metrics.Metrics) *Service {
	return &Service{
		users:       users,
		departments: departments,
		invalidator: invalidator,
		audit:       auditLog,
		metrics:     m,
		log:         logger.Component("departments"),
	}
}

// Reassign moves the target into departmentID. Delegates need both the
// target's current department and the destination inside their subtree.
// Moving a user to the department they are already in succeeds without a
// write. Missing and unmanageable targets are indistinguishable.
func (s *Service) Reassign(ctx context.Context, uc *access.UserContext, targetUserID, departmentID string) error {
	target, err := s.users.GetByID(ctx, targetUserID)
	if err != nil {
		return errors.Internal("Failed to load user", err)
	}

	manageable, current := access.IsManageable(uc, target)
	if !manageable {
		s.deny(uc, targetUserID, departmentID, "target not manageable")
		return errCannotManage
	}

	dept, err := s.departments.GetByID(ctx, departmentID)
	if err != nil {
		return errors.Internal("Failed to load department", err)
	}
	if dept == nil || dept.OrganizationID != uc.OrganizationID() || !uc.HasDepartmentAccess(departmentID) {
		s.deny(uc, targetUserID, departmentID, "destination outside subtree")
		return errors.Forbidden("You dont have access to this department, Please contact Admin")
	}
	s.metrics.AuthzDecision("department.reassign", true)

	if current == departmentID {
		return nil
	}

	if err := s.users.AssignDepartment(ctx, targetUserID, departmentID); err != nil {
		return errors.Internal("Failed to update department", err)
	}

	// The move is already committed. A failed invalidation is still reported.
	invErr := s.invalidator.Invalidate(ctx, targetUserID, "")
	if invErr != nil {
		s.log.Error().Err(invErr).Str("target_id", targetUserID).Msg("Invalidating user context failed")
	}

	s.log.Info().
		Str("org_id", uc.OrganizationID()).
		Str("actor_id", uc.UserID()).
		Str("target_id", targetUserID).
		Str("from_department_id", current).
		Str("department_id", departmentID).
		Msg("User reassigned")

	s.audit.Log(ctx, audit.Entry{
		OrganizationID: uc.OrganizationID(),
		ActorID:        uc.UserID(),
		Action:         audit.ActionDepartmentAssigned,
		ResourceType:   "user",
		ResourceID:     targetUserID,
		Metadata:       map[string]any{"from": current, "to": departmentID},
	})
	if invErr != nil {
		return errors.Internal("Failed to invalidate user context", invErr)
	}
	return nil
}

func (s *Service) deny(uc *access.UserContext, targetUserID, departmentID, reason string) {
	s.metrics.AuthzDecision("department.reassign", false)
	s.log.Debug().
		Str("actor_id", uc.UserID()).
		Str("target_id", targetUserID).
		Str("department_id", departmentID).
		Str("reason", reason).
		Msg("Reassignment denied")
}
