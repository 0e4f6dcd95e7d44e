package permissions

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"orgdesk/internal/engine/access"
	"orgdesk/internal/pkg/errors"
	"orgdesk/internal/pkg/logger"
	"orgdesk/internal/platform/audit"
	"orgdesk/internal/platform/metrics"
	"orgdesk/internal/platform/models"
	"orgdesk/internal/platform/telemetry"
)

type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

func (a Action) Valid() bool {
	return a == ActionAdd || a == ActionRemove
}

type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

type PermissionStore interface {
	GetByID(ctx context.Context, id string) (*models.Permission, error)
	Grant(ctx context.Context, userID, permissionID string) error
	Revoke(ctx context.Context, userID, permissionID string) error
	AppServesAny(ctx context.Context, appID string, departmentIDs []string) (bool, error)
}

type DepartmentStore interface {
	Ancestors(ctx context.Context, orgID, deptID string) ([]string, error)
}

const errPermissionError = "Failed to update permission"

var (
	errInvalidAction = errors.BadRequest("Invalid permission action")
	errInvalidTarget = errors.BadRequest("Cannot perform action on this user")
	errNotHeld       = errors.Forbidden("You dont have this permission")
	errNoDepartment  = errors.Forbidden("You dont have access to this department, Please contact Admin")
	errAppNotServed  = errors.Forbidden("This department doesnt have the app you are adding permissions for, Please contact Admin")
)

// Coordinator grants and revokes permissions on behalf of an actor.
type Coordinator struct {
	users       UserStore
	permissions PermissionStore
	departments DepartmentStore
	invalidator access.Invalidator
	audit       *audit.Logger
	metrics     *metrics.Metrics
	log         zerolog.Logger
}

func NewCoordinator(users UserStore, permissions PermissionStore, departments DepartmentStore, invalidator access.Invalidator, auditLog *audit.Logger, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		users:       users,
		permissions: permissions,
		departments: departments,
		invalidator: invalidator,
		audit:       auditLog,
		metrics:     m,
		log:         logger.Component("permissions"),
	}
}

// Update applies action for permissionID to the target. Admins are never
// targets. The actor must hold the permission. Delegates additionally need
// the target inside their subtree and an app served by one of the target's
// departments between the target and the delegate's own department. Adding a
// held permission and removing an absent one both succeed.
func (c *Coordinator) Update(ctx context.Context, uc *access.UserContext, targetUserID, permissionID string, action Action) error {
	ctx, span := telemetry.Tracer().Start(ctx, "permissions.Update")
	defer span.End()
	span.SetAttributes(
		attribute.String("actor_id", uc.UserID()),
		attribute.String("target_id", targetUserID),
		attribute.String("action", string(action)),
	)

	if !action.Valid() || targetUserID == uc.UserID() {
		return errInvalidAction
	}

	target, err := c.users.GetByID(ctx, targetUserID)
	if err != nil {
		return errors.Internal(errPermissionError, err)
	}
	if target == nil || target.OrganizationID != uc.OrganizationID() || target.IsAdmin {
		return errInvalidTarget
	}

	perm, err := c.permissions.GetByID(ctx, permissionID)
	if err != nil {
		return errors.Internal(errPermissionError, err)
	}
	if perm == nil || perm.OrganizationID != uc.OrganizationID() || !uc.HasPermission(access.NameOf(*perm)) {
		c.deny(uc, targetUserID, permissionID, "permission not held")
		return errNotHeld
	}

	if !uc.IsAdmin() {
		manageable, deptID := access.IsManageable(uc, target)
		if !manageable {
			c.deny(uc, targetUserID, permissionID, "target not manageable")
			return errNoDepartment
		}

		served, err := c.servedWithinSubtree(ctx, uc, perm.AppID, deptID)
		if err != nil {
			return errors.Internal(errPermissionError, err)
		}
		if !served {
			c.deny(uc, targetUserID, permissionID, "app not served")
			return errAppNotServed
		}
	}
	c.metrics.AuthzDecision("permission.update", true)

	auditAction := audit.ActionPermissionAdded
	if action == ActionAdd {
		err = c.permissions.Grant(ctx, targetUserID, permissionID)
	} else {
		err = c.permissions.Revoke(ctx, targetUserID, permissionID)
		auditAction = audit.ActionPermissionRemoved
	}
	if err != nil {
		return errors.Internal(errPermissionError, err)
	}
	c.metrics.PermissionChange(string(action))

	invErr := c.invalidator.Invalidate(ctx, "", uc.OrganizationID())
	if invErr != nil {
		c.log.Error().Err(invErr).Str("org_id", uc.OrganizationID()).Msg("Invalidating org contexts failed")
	}

	c.log.Info().
		Str("org_id", uc.OrganizationID()).
		Str("actor_id", uc.UserID()).
		Str("target_id", targetUserID).
		Str("permission", access.NameOf(*perm).String()).
		Str("action", string(action)).
		Msg("Permission updated")

	c.audit.Log(ctx, audit.Entry{
		OrganizationID: uc.OrganizationID(),
		ActorID:        uc.UserID(),
		Action:         auditAction,
		ResourceType:   "user",
		ResourceID:     targetUserID,
		Metadata:       map[string]any{"permission_id": permissionID, "permission": access.NameOf(*perm).String()},
	})
	if invErr != nil {
		return errors.Internal("Failed to invalidate user contexts", invErr)
	}
	return nil
}

// servedWithinSubtree walks from the target's department toward the root
// and stops at the first department the actor does not control.
func (c *Coordinator) servedWithinSubtree(ctx context.Context, uc *access.UserContext, appID, deptID string) (bool, error) {
	chain, err := c.departments.Ancestors(ctx, uc.OrganizationID(), deptID)
	if err != nil {
		return false, err
	}
	reachable := make([]string, 0, len(chain))
	for _, id := range chain {
		if !uc.HasDepartmentAccess(id) {
			break
		}
		reachable = append(reachable, id)
	}
	return c.permissions.AppServesAny(ctx, appID, reachable)
}

func (c *Coordinator) deny(uc *access.UserContext, targetUserID, permissionID, reason string) {
	c.metrics.AuthzDecision("permission.update", false)
	c.log.Debug().
		Str("actor_id", uc.UserID()).
		Str("target_id", targetUserID).
		Str("permission_id", permissionID).
		Str("reason", reason).
		Msg("Permission update denied")
}
