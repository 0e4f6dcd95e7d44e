package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"orgdesk/internal/platform/database"
	"orgdesk/internal/platform/models"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

const pgErrUniqueViolation = "23505"

// mapError turns unique violations from either driver into ErrConflict.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) &&
		(liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return fmt.Errorf("%w: %v", ErrConflict, liteErr)
	}
	return err
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func newID(prefix string) string {
	return prefix + "_" + uuid.New().String()
}

type OrganizationRepository struct {
	db *database.DB
}

func NewOrganizationRepository(db *database.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

func (r *OrganizationRepository) Create(ctx context.Context, org *models.Organization) error {
	return r.create(ctx, r.db, org)
}

func (r *OrganizationRepository) CreateTx(ctx context.Context, tx *sql.Tx, org *models.Organization) error {
	return r.create(ctx, tx, org)
}

func (r *OrganizationRepository) create(ctx context.Context, q database.Querier, org *models.Organization) error {
	if org.ID == "" {
		org.ID = newID("org")
	}
	now := time.Now().Unix()
	org.CreatedAt, org.UpdatedAt = now, now
	_, err := q.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO organizations (id, name, profile_form_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`), org.ID, org.Name, org.ProfileFormID, org.CreatedAt, org.UpdatedAt)
	return mapError(err)
}

func (r *OrganizationRepository) GetByID(ctx context.Context, id string) (*models.Organization, error) {
	org := &models.Organization{}
	var formID sql.NullString
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT id, name, profile_form_id, created_at, updated_at
		FROM organizations WHERE id = ?
	`), id).Scan(&org.ID, &org.Name, &formID, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	org.ProfileFormID = nullString(formID)
	return org, nil
}

func (r *OrganizationRepository) SetProfileForm(ctx context.Context, orgID, formID string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE organizations SET profile_form_id = ?, updated_at = ? WHERE id = ?
	`), formID, time.Now().Unix(), orgID)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `
	u.id, u.organization_id, u.email, u.password_hash, u.is_admin, u.disabled,
	m.department_id, u.profile_submission_id, u.last_login_at, u.created_at, u.updated_at`

const userFrom = `FROM users u LEFT JOIN department_members m ON m.user_id = u.id`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	u := &models.User{}
	var deptID, submissionID sql.NullString
	var lastLogin sql.NullInt64
	err := row.Scan(&u.ID, &u.OrganizationID, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.Disabled,
		&deptID, &submissionID, &lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.DepartmentID = nullString(deptID)
	u.ProfileSubmissionID = nullString(submissionID)
	if lastLogin.Valid {
		v := lastLogin.Int64
		u.LastLoginAt = &v
	}
	return u, nil
}

func (r *UserRepository) create(ctx context.Context, q database.Querier, user *models.User) error {
	if user.ID == "" {
		user.ID = newID("usr")
	}
	now := time.Now().Unix()
	user.CreatedAt, user.UpdatedAt = now, now
	_, err := q.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO users (id, organization_id, email, password_hash, is_admin, disabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), user.ID, user.OrganizationID, user.Email, user.PasswordHash, user.IsAdmin, user.Disabled, user.CreatedAt, user.UpdatedAt)
	return mapError(err)
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	return r.create(ctx, r.db, user)
}

func (r *UserRepository) CreateTx(ctx context.Context, tx *sql.Tx, user *models.User) error {
	return r.create(ctx, tx, user)
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT `+userColumns+` `+userFrom+` WHERE u.id = ?`), id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT `+userColumns+` `+userFrom+` WHERE u.email = ?`), email))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

// AssignDepartment inserts or moves the user's single department membership.
func (r *UserRepository) AssignDepartment(ctx context.Context, userID, departmentID string) error {
	return r.assignDepartment(ctx, r.db, userID, departmentID)
}

func (r *UserRepository) AssignDepartmentTx(ctx context.Context, tx *sql.Tx, userID, departmentID string) error {
	return r.assignDepartment(ctx, tx, userID, departmentID)
}

func (r *UserRepository) assignDepartment(ctx context.Context, q database.Querier, userID, departmentID string) error {
	_, err := q.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO department_members (user_id, department_id, assigned_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET department_id = excluded.department_id, assigned_at = excluded.assigned_at
	`), userID, departmentID, time.Now().Unix())
	return mapError(err)
}

func (r *UserRepository) SetDisabled(ctx context.Context, userID string, disabled bool) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE users SET disabled = ?, updated_at = ? WHERE id = ?
	`), disabled, time.Now().Unix(), userID)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// UpdateCredentialsTx changes email and/or password hash. Empty values are
// left untouched.
func (r *UserRepository) UpdateCredentialsTx(ctx context.Context, tx *sql.Tx, userID, email, passwordHash string) error {
	now := time.Now().Unix()
	if email != "" {
		if _, err := tx.ExecContext(ctx, r.db.Rebind(`UPDATE users SET email = ?, updated_at = ? WHERE id = ?`), email, now, userID); err != nil {
			return mapError(err)
		}
	}
	if passwordHash != "" {
		if _, err := tx.ExecContext(ctx, r.db.Rebind(`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`), passwordHash, now, userID); err != nil {
			return err
		}
	}
	return nil
}

func (r *UserRepository) SetProfileSubmissionTx(ctx context.Context, tx *sql.Tx, userID, submissionID string) error {
	_, err := tx.ExecContext(ctx, r.db.Rebind(`
		UPDATE users SET profile_submission_id = ?, updated_at = ? WHERE id = ?
	`), submissionID, time.Now().Unix(), userID)
	return err
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID string, timestamp int64) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE users SET last_login_at = ? WHERE id = ?`), timestamp, userID)
	return err
}
