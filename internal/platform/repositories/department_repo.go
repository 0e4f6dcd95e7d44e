package repositories

import (
	"context"
	"database/sql"
	"time"

	"orgdesk/internal/platform/database"
	"orgdesk/internal/platform/models"
)

type DepartmentRepository struct {
	db *database.DB
}

func NewDepartmentRepository(db *database.DB) *DepartmentRepository {
	return &DepartmentRepository{db: db}
}

func (r *DepartmentRepository) Create(ctx context.Context, dept *models.Department) error {
	return r.create(ctx, r.db, dept)
}

func (r *DepartmentRepository) CreateTx(ctx context.Context, tx *sql.Tx, dept *models.Department) error {
	return r.create(ctx, tx, dept)
}

func (r *DepartmentRepository) create(ctx context.Context, q database.Querier, dept *models.Department) error {
	if dept.ID == "" {
		dept.ID = newID("dep")
	}
	now := time.Now().Unix()
	dept.CreatedAt, dept.UpdatedAt = now, now
	_, err := q.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO departments (id, organization_id, parent_id, name, department_form_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), dept.ID, dept.OrganizationID, dept.ParentID, dept.Name, dept.DepartmentFormID, dept.CreatedAt, dept.UpdatedAt)
	return mapError(err)
}

func (r *DepartmentRepository) GetByID(ctx context.Context, id string) (*models.Department, error) {
	return r.get(ctx, r.db, id)
}

func (r *DepartmentRepository) GetByIDTx(ctx context.Context, tx *sql.Tx, id string) (*models.Department, error) {
	return r.get(ctx, tx, id)
}

func (r *DepartmentRepository) get(ctx context.Context, q database.Querier, id string) (*models.Department, error) {
	d := &models.Department{}
	var parentID, formID sql.NullString
	err := q.QueryRowContext(ctx, r.db.Rebind(`
		SELECT id, organization_id, parent_id, name, department_form_id, created_at, updated_at
		FROM departments WHERE id = ?
	`), id).Scan(&d.ID, &d.OrganizationID, &parentID, &d.Name, &formID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	d.ParentID = nullString(parentID)
	d.DepartmentFormID = nullString(formID)
	return d, nil
}

// Subtree returns rootID and every transitive descendant within orgID. The
// result is empty when rootID does not belong to orgID. UNION drops repeated
// rows, so a corrupted parent cycle terminates.
func (r *DepartmentRepository) Subtree(ctx context.Context, orgID, rootID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM departments WHERE id = ? AND organization_id = ?
			UNION
			SELECT d.id FROM departments d
			JOIN subtree s ON d.parent_id = s.id
			WHERE d.organization_id = ?
		)
		SELECT id FROM subtree
	`), rootID, orgID, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *DepartmentRepository) SetFormTx(ctx context.Context, tx *sql.Tx, departmentID, formID string) error {
	res, err := tx.ExecContext(ctx, r.db.Rebind(`
		UPDATE departments SET department_form_id = ?, updated_at = ? WHERE id = ?
	`), formID, time.Now().Unix(), departmentID)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// Ancestors returns deptID followed by its parent chain up to the root,
// nearest first.
func (r *DepartmentRepository) Ancestors(ctx context.Context, orgID, deptID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`
		WITH RECURSIVE chain(id, parent_id, depth) AS (
			SELECT id, parent_id, 0 FROM departments WHERE id = ? AND organization_id = ?
			UNION
			SELECT d.id, d.parent_id, c.depth + 1 FROM departments d
			JOIN chain c ON d.id = c.parent_id
			WHERE d.organization_id = ? AND c.depth < 64
		)
		SELECT id FROM chain ORDER BY depth
	`), deptID, orgID, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
