package access

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"orgdesk/internal/pkg/errors"
	"orgdesk/internal/pkg/logger"
	"orgdesk/internal/platform/models"
	"orgdesk/internal/platform/telemetry"
)

type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

type PermissionStore interface {
	ListForUser(ctx context.Context, userID string) ([]models.Permission, error)
}

type DepartmentStore interface {
	Subtree(ctx context.Context, orgID, rootID string) ([]string, error)
}

// Builder assembles user contexts from the directory store, reading through
// a ContextCache when one is configured.
type Builder struct {
	users       UserStore
	permissions PermissionStore
	departments DepartmentStore
	cache       *ContextCache
	log         zerolog.Logger
}

func NewBuilder(users UserStore, permissions PermissionStore, departments DepartmentStore, cache *ContextCache) *Builder {
	return &Builder{
		users:       users,
		permissions: permissions,
		departments: departments,
		cache:       cache,
		log:         logger.Component("access"),
	}
}

// Build returns the actor's context. A missing or disabled actor is NotFound.
func (b *Builder) Build(ctx context.Context, actorID string) (*UserContext, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "access.Build")
	defer span.End()
	span.SetAttributes(attribute.String("actor_id", actorID))

	if b.cache != nil {
		if uc, ok := b.cache.Get(ctx, actorID); ok {
			span.SetAttributes(attribute.Bool("cache_hit", true))
			return uc, nil
		}
	}

	var gen Generations
	var err error
	if b.cache != nil {
		// Read before loading so an invalidation that lands mid-build leaves
		// the stored snapshot stale.
		if gen.User, err = b.cache.UserGeneration(ctx, actorID); err != nil {
			b.log.Warn().Err(err).Str("actor_id", actorID).Msg("Reading user context generation failed")
		}
	}

	user, err := b.users.GetByID(ctx, actorID)
	if err != nil {
		span.SetStatus(codes.Error, "load user")
		return nil, errors.Internal("Failed to load user", err)
	}
	if user == nil || user.Disabled {
		return nil, errors.NotFound("User not found")
	}

	if b.cache != nil {
		if gen.Org, err = b.cache.OrgGeneration(ctx, user.OrganizationID); err != nil {
			b.log.Warn().Err(err).Str("org_id", user.OrganizationID).Msg("Reading org context generation failed")
		}
	}

	perms, err := b.permissions.ListForUser(ctx, user.ID)
	if err != nil {
		return nil, errors.Internal("Failed to load permissions", err)
	}
	names := make([]PermissionName, len(perms))
	for i, p := range perms {
		names[i] = NameOf(p)
	}

	var subtree []string
	if !user.IsAdmin && user.DepartmentID != nil {
		subtree, err = b.departments.Subtree(ctx, user.OrganizationID, *user.DepartmentID)
		if err != nil {
			return nil, errors.Internal("Failed to load departments", err)
		}
	}

	uc := NewUserContext(user, names, subtree)

	if b.cache != nil {
		if err := b.cache.Put(ctx, uc, gen); err != nil {
			b.log.Warn().Err(err).Str("actor_id", actorID).Msg("Caching user context failed")
		}
	}
	return uc, nil
}
