// Package bootstrap seeds a new organization: its root department, the
// built-in META_APP capabilities and a first administrator.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"orgdesk/internal/engine/access"
	"orgdesk/internal/pkg/errors"
	"orgdesk/internal/pkg/logger"
	"orgdesk/internal/pkg/validator"
	"orgdesk/internal/platform/crypto"
	"orgdesk/internal/platform/models"
)

type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

type OrganizationStore interface {
	CreateTx(ctx context.Context, tx *sql.Tx, org *models.Organization) error
}

type DepartmentStore interface {
	CreateTx(ctx context.Context, tx *sql.Tx, dept *models.Department) error
}

type UserStore interface {
	CreateTx(ctx context.Context, tx *sql.Tx, user *models.User) error
	AssignDepartmentTx(ctx context.Context, tx *sql.Tx, userID, departmentID string) error
}

type AppStore interface {
	GetAppByNameTx(ctx context.Context, tx *sql.Tx, orgID, name string) (*models.App, error)
	CreateAppTx(ctx context.Context, tx *sql.Tx, app *models.App) error
	GetByNameTx(ctx context.Context, tx *sql.Tx, orgID, appName, capability string) (*models.Permission, error)
	CreateTx(ctx context.Context, tx *sql.Tx, perm *models.Permission) error
	AddServingDepartmentTx(ctx context.Context, tx *sql.Tx, appID, departmentID string) error
}

type Options struct {
	OrganizationName string
	DepartmentName   string
	AdminEmail       string
	AdminPassword    string
}

type Result struct {
	Organization *models.Organization
	Department   *models.Department
	Admin        *models.User
}

type Seeder struct {
	db          TxRunner
	orgs        OrganizationStore
	departments DepartmentStore
	users       UserStore
	apps        AppStore
	hasher      *crypto.Hasher
}

func NewSeeder(db TxRunner, orgs OrganizationStore, departments DepartmentStore, users UserStore, apps AppStore, hasher *crypto.Hasher) *Seeder {
	return &Seeder{db: db, orgs: orgs, departments: departments, users: users, apps: apps, hasher: hasher}
}

// Organization creates an organization with one root department and an
// administrator who belongs to it. Nothing is written unless every step
// succeeds.
func (s *Seeder) Organization(ctx context.Context, opts Options) (*Result, error) {
	if opts.OrganizationName == "" {
		return nil, errors.BadRequest("organization name is required")
	}
	addr, err := validator.NormalizeEmail(opts.AdminEmail)
	if err != nil {
		return nil, errors.BadRequest(err.Error())
	}
	if err := validator.Password(opts.AdminPassword); err != nil {
		return nil, errors.BadRequest(err.Error())
	}
	deptName := opts.DepartmentName
	if deptName == "" {
		deptName = opts.OrganizationName
	}
	hash, err := s.hasher.Hash(opts.AdminPassword)
	if err != nil {
		return nil, err
	}

	org := &models.Organization{Name: opts.OrganizationName}
	root := &models.Department{Name: deptName}
	admin := &models.User{Email: addr, PasswordHash: hash, IsAdmin: true}

	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.orgs.CreateTx(ctx, tx, org); err != nil {
			return fmt.Errorf("create organization: %w", err)
		}
		root.OrganizationID = org.ID
		if err := s.departments.CreateTx(ctx, tx, root); err != nil {
			return fmt.Errorf("create root department: %w", err)
		}
		if err := s.ensureMetaApp(ctx, tx, org.ID, root.ID); err != nil {
			return err
		}
		admin.OrganizationID = org.ID
		if err := s.users.CreateTx(ctx, tx, admin); err != nil {
			return fmt.Errorf("create admin: %w", err)
		}
		if err := s.users.AssignDepartmentTx(ctx, tx, admin.ID, root.ID); err != nil {
			return fmt.Errorf("assign admin department: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	admin.DepartmentID = &root.ID

	log := logger.Component("bootstrap")
	log.Info().
		Str("org_id", org.ID).
		Str("department_id", root.ID).
		Str("admin_id", admin.ID).
		Msg("Organization bootstrapped")

	return &Result{Organization: org, Department: root, Admin: admin}, nil
}

// EnsureMetaApp creates META_APP and its capabilities for orgID where they
// are missing, served by departmentID. It is safe to run repeatedly.
func (s *Seeder) EnsureMetaApp(ctx context.Context, orgID, departmentID string) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		return s.ensureMetaApp(ctx, tx, orgID, departmentID)
	})
}

func (s *Seeder) ensureMetaApp(ctx context.Context, tx *sql.Tx, orgID, departmentID string) error {
	app, err := s.apps.GetAppByNameTx(ctx, tx, orgID, access.MetaApp)
	if err != nil {
		return err
	}
	if app == nil {
		app = &models.App{OrganizationID: orgID, Name: access.MetaApp}
		if err := s.apps.CreateAppTx(ctx, tx, app); err != nil {
			return fmt.Errorf("create %s: %w", access.MetaApp, err)
		}
	}

	for _, name := range access.MetaCapabilities {
		existing, err := s.apps.GetByNameTx(ctx, tx, orgID, name.App, name.Capability)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		perm := &models.Permission{AppID: app.ID, Capability: name.Capability}
		if err := s.apps.CreateTx(ctx, tx, perm); err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
	}

	if departmentID == "" {
		return nil
	}
	return s.apps.AddServingDepartmentTx(ctx, tx, app.ID, departmentID)
}
