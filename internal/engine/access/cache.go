package access

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"

	"orgdesk/internal/platform/cache"
	"orgdesk/internal/platform/metrics"
	"orgdesk/internal/platform/models"
)

// Invalidator is the single contract mutating operations use to drop cached
// user contexts. An empty userID or orgID skips that scope.
type Invalidator interface {
	Invalidate(ctx context.Context, userID, orgID string) error
}

type snapshot struct {
	UserID       string   `cbor:"1,keyasint"`
	OrgID        string   `cbor:"2,keyasint"`
	Email        string   `cbor:"3,keyasint"`
	IsAdmin      bool     `cbor:"4,keyasint"`
	DepartmentID string   `cbor:"5,keyasint,omitempty"`
	Permissions  []string `cbor:"6,keyasint"`
	Subtree      []string `cbor:"7,keyasint"`
	UserGen      int64    `cbor:"8,keyasint"`
	OrgGen       int64    `cbor:"9,keyasint"`
}

// Generations pin a snapshot to the invalidation state observed before its
// inputs were read. A snapshot is served only while both are unchanged.
type Generations struct {
	User int64
	Org  int64
}

// ContextCache is a read-through cache of user contexts on the ephemeral
// store. Invalidation bumps per-user and per-organization generation
// counters, so an org-wide invalidation is a single write.
type ContextCache struct {
	store   cache.Store
	ttl     time.Duration
	metrics *metrics.Metrics
}

func NewContextCache(store cache.Store, ttl time.Duration, m *metrics.Metrics) *ContextCache {
	return &ContextCache{store: store, ttl: ttl, metrics: m}
}

var _ Invalidator = (*ContextCache)(nil)

func userKey(userID string) string    { return "uctx:user:" + userID }
func userGenKey(userID string) string { return "uctx:gen:user:" + userID }
func orgGenKey(orgID string) string   { return "uctx:gen:org:" + orgID }

func (c *ContextCache) generation(ctx context.Context, key string) (int64, error) {
	raw, err := c.store.Get(ctx, key)
	if errors.Is(err, cache.ErrMiss) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(string(raw), 10, 64)
}

func (c *ContextCache) UserGeneration(ctx context.Context, userID string) (int64, error) {
	return c.generation(ctx, userGenKey(userID))
}

func (c *ContextCache) OrgGeneration(ctx context.Context, orgID string) (int64, error) {
	return c.generation(ctx, orgGenKey(orgID))
}

// Get returns the cached context for userID, or false on a miss, a decode
// failure or a stale generation.
func (c *ContextCache) Get(ctx context.Context, userID string) (*UserContext, bool) {
	raw, err := c.store.Get(ctx, userKey(userID))
	if err != nil {
		c.metrics.ContextCache(false)
		return nil, false
	}

	var s snapshot
	if err := cbor.Unmarshal(raw, &s); err != nil {
		c.metrics.ContextCache(false)
		return nil, false
	}

	userGen, err := c.UserGeneration(ctx, userID)
	if err != nil || userGen != s.UserGen {
		c.metrics.ContextCache(false)
		return nil, false
	}
	orgGen, err := c.OrgGeneration(ctx, s.OrgID)
	if err != nil || orgGen != s.OrgGen {
		c.metrics.ContextCache(false)
		return nil, false
	}

	perms := make([]PermissionName, 0, len(s.Permissions))
	for _, name := range s.Permissions {
		p, err := ParsePermissionName(name)
		if err != nil {
			c.metrics.ContextCache(false)
			return nil, false
		}
		perms = append(perms, p)
	}

	user := &models.User{ID: s.UserID, OrganizationID: s.OrgID, Email: s.Email, IsAdmin: s.IsAdmin}
	if s.DepartmentID != "" {
		dept := s.DepartmentID
		user.DepartmentID = &dept
	}
	c.metrics.ContextCache(true)
	return NewUserContext(user, perms, s.Subtree), true
}

func (c *ContextCache) Put(ctx context.Context, uc *UserContext, gen Generations) error {
	perms := uc.Permissions()
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = p.String()
	}
	raw, err := cbor.Marshal(snapshot{
		UserID:       uc.userID,
		OrgID:        uc.orgID,
		Email:        uc.email,
		IsAdmin:      uc.isAdmin,
		DepartmentID: uc.departmentID,
		Permissions:  names,
		Subtree:      uc.Subtree(),
		UserGen:      gen.User,
		OrgGen:       gen.Org,
	})
	if err != nil {
		return err
	}
	return c.store.Set(ctx, userKey(uc.userID), raw, c.ttl)
}

func (c *ContextCache) Invalidate(ctx context.Context, userID, orgID string) error {
	var errs []error
	if userID != "" {
		if _, err := c.store.Incr(ctx, userGenKey(userID)); err != nil {
			errs = append(errs, err)
		}
		if err := c.store.Delete(ctx, userKey(userID)); err != nil {
			errs = append(errs, err)
		}
	}
	if orgID != "" {
		if _, err := c.store.Incr(ctx, orgGenKey(orgID)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
