package repositories

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"orgdesk/internal/platform/database"
	"orgdesk/internal/platform/models"
)

type PermissionRepository struct {
	db *database.DB
}

func NewPermissionRepository(db *database.DB) *PermissionRepository {
	return &PermissionRepository{db: db}
}

func (r *PermissionRepository) CreateApp(ctx context.Context, app *models.App) error {
	return r.createApp(ctx, r.db, app)
}

func (r *PermissionRepository) CreateAppTx(ctx context.Context, tx *sql.Tx, app *models.App) error {
	return r.createApp(ctx, tx, app)
}

func (r *PermissionRepository) createApp(ctx context.Context, q database.Querier, app *models.App) error {
	if app.ID == "" {
		app.ID = newID("app")
	}
	app.CreatedAt = time.Now().Unix()
	_, err := q.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO apps (id, organization_id, name, created_at) VALUES (?, ?, ?, ?)
	`), app.ID, app.OrganizationID, app.Name, app.CreatedAt)
	return mapError(err)
}

func (r *PermissionRepository) GetAppByName(ctx context.Context, orgID, name string) (*models.App, error) {
	return r.getAppByName(ctx, r.db, orgID, name)
}

func (r *PermissionRepository) GetAppByNameTx(ctx context.Context, tx *sql.Tx, orgID, name string) (*models.App, error) {
	return r.getAppByName(ctx, tx, orgID, name)
}

func (r *PermissionRepository) getAppByName(ctx context.Context, q database.Querier, orgID, name string) (*models.App, error) {
	app := &models.App{}
	err := q.QueryRowContext(ctx, r.db.Rebind(`
		SELECT id, organization_id, name, created_at FROM apps WHERE organization_id = ? AND name = ?
	`), orgID, name).Scan(&app.ID, &app.OrganizationID, &app.Name, &app.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return app, nil
}

// AddServingDepartment authorizes a department to use the app's capabilities.
func (r *PermissionRepository) AddServingDepartment(ctx context.Context, appID, departmentID string) error {
	return r.addServingDepartment(ctx, r.db, appID, departmentID)
}

func (r *PermissionRepository) AddServingDepartmentTx(ctx context.Context, tx *sql.Tx, appID, departmentID string) error {
	return r.addServingDepartment(ctx, tx, appID, departmentID)
}

func (r *PermissionRepository) addServingDepartment(ctx context.Context, q database.Querier, appID, departmentID string) error {
	_, err := q.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO app_departments (app_id, department_id) VALUES (?, ?)
		ON CONFLICT (app_id, department_id) DO NOTHING
	`), appID, departmentID)
	return err
}

func (r *PermissionRepository) Create(ctx context.Context, perm *models.Permission) error {
	return r.create(ctx, r.db, perm)
}

func (r *PermissionRepository) CreateTx(ctx context.Context, tx *sql.Tx, perm *models.Permission) error {
	return r.create(ctx, tx, perm)
}

func (r *PermissionRepository) create(ctx context.Context, q database.Querier, perm *models.Permission) error {
	if perm.ID == "" {
		perm.ID = newID("perm")
	}
	_, err := q.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO permissions (id, app_id, capability, description) VALUES (?, ?, ?, ?)
	`), perm.ID, perm.AppID, perm.Capability, perm.Description)
	return mapError(err)
}

func (r *PermissionRepository) GetByID(ctx context.Context, id string) (*models.Permission, error) {
	p := &models.Permission{}
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT p.id, p.app_id, a.organization_id, a.name, p.capability, p.description
		FROM permissions p JOIN apps a ON a.id = p.app_id
		WHERE p.id = ?
	`), id).Scan(&p.ID, &p.AppID, &p.OrganizationID, &p.AppName, &p.Capability, &p.Description)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// GetByName resolves a permission by app name and capability within an
// organization.
func (r *PermissionRepository) GetByName(ctx context.Context, orgID, appName, capability string) (*models.Permission, error) {
	return r.getByName(ctx, r.db, orgID, appName, capability)
}

func (r *PermissionRepository) GetByNameTx(ctx context.Context, tx *sql.Tx, orgID, appName, capability string) (*models.Permission, error) {
	return r.getByName(ctx, tx, orgID, appName, capability)
}

func (r *PermissionRepository) getByName(ctx context.Context, q database.Querier, orgID, appName, capability string) (*models.Permission, error) {
	p := &models.Permission{}
	err := q.QueryRowContext(ctx, r.db.Rebind(`
		SELECT p.id, p.app_id, a.organization_id, a.name, p.capability, p.description
		FROM permissions p JOIN apps a ON a.id = p.app_id
		WHERE a.organization_id = ? AND a.name = ? AND p.capability = ?
	`), orgID, appName, capability).Scan(&p.ID, &p.AppID, &p.OrganizationID, &p.AppName, &p.Capability, &p.Description)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func (r *PermissionRepository) ListForUser(ctx context.Context, userID string) ([]models.Permission, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`
		SELECT p.id, p.app_id, a.organization_id, a.name, p.capability, p.description
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		JOIN apps a ON a.id = p.app_id
		WHERE up.user_id = ?
		ORDER BY a.name, p.capability
	`), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []models.Permission
	for rows.Next() {
		var p models.Permission
		if err := rows.Scan(&p.ID, &p.AppID, &p.OrganizationID, &p.AppName, &p.Capability, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// Grant is idempotent: granting a held permission leaves a single row.
func (r *PermissionRepository) Grant(ctx context.Context, userID, permissionID string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO user_permissions (user_id, permission_id, granted_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id, permission_id) DO NOTHING
	`), userID, permissionID, time.Now().Unix())
	return err
}

// Revoke is idempotent: revoking an absent permission is not an error.
func (r *PermissionRepository) Revoke(ctx context.Context, userID, permissionID string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		DELETE FROM user_permissions WHERE user_id = ? AND permission_id = ?
	`), userID, permissionID)
	return err
}

// AppServesAny reports whether any of departmentIDs is a serving department
// of the app.
func (r *PermissionRepository) AppServesAny(ctx context.Context, appID string, departmentIDs []string) (bool, error) {
	if len(departmentIDs) == 0 {
		return false, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(departmentIDs)), ",")
	args := make([]any, 0, len(departmentIDs)+1)
	args = append(args, appID)
	for _, id := range departmentIDs {
		args = append(args, id)
	}

	var n int
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT COUNT(*) FROM app_departments
		WHERE app_id = ? AND department_id IN (`+placeholders+`)
	`), args...).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
