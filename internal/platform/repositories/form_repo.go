package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"orgdesk/internal/platform/database"
	"orgdesk/internal/platform/models"
)

type FormRepository struct {
	db *database.DB
}

func NewFormRepository(db *database.DB) *FormRepository {
	return &FormRepository{db: db}
}

func (r *FormRepository) Create(ctx context.Context, form *models.Form) error {
	return r.create(ctx, r.db, form)
}

func (r *FormRepository) CreateTx(ctx context.Context, tx *sql.Tx, form *models.Form) error {
	return r.create(ctx, tx, form)
}

func (r *FormRepository) create(ctx context.Context, q database.Querier, form *models.Form) error {
	if form.ID == "" {
		form.ID = newID("form")
	}
	info, err := json.Marshal(orEmpty(form.AdditionalInfo))
	if err != nil {
		return fmt.Errorf("encode additional_info: %w", err)
	}
	now := time.Now().Unix()
	form.CreatedAt, form.UpdatedAt = now, now
	_, err = q.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO forms (id, organization_id, name, additional_info, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), form.ID, form.OrganizationID, form.Name, string(info), form.CreatedAt, form.UpdatedAt)
	return mapError(err)
}

func (r *FormRepository) GetByID(ctx context.Context, id string) (*models.Form, error) {
	f := &models.Form{}
	var info string
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT id, organization_id, name, additional_info, created_at, updated_at
		FROM forms WHERE id = ?
	`), id).Scan(&f.ID, &f.OrganizationID, &f.Name, &info, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(info), &f.AdditionalInfo); err != nil {
		return nil, fmt.Errorf("decode additional_info: %w", err)
	}
	return f, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

type SubmissionRepository struct {
	db *database.DB
}

func NewSubmissionRepository(db *database.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

const submissionColumns = `id, form_id, user_id, department_id, data, created_at, updated_at`

func scanSubmission(row interface{ Scan(...any) error }) (*models.FormSubmission, error) {
	s := &models.FormSubmission{}
	var deptID sql.NullString
	var data string
	if err := row.Scan(&s.ID, &s.FormID, &s.UserID, &deptID, &data, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.DepartmentID = nullString(deptID)
	if err := json.Unmarshal([]byte(data), &s.Data); err != nil {
		return nil, fmt.Errorf("decode submission data: %w", err)
	}
	return s, nil
}

func (r *SubmissionRepository) GetByID(ctx context.Context, id string) (*models.FormSubmission, error) {
	return r.getByID(ctx, r.db, id)
}

func (r *SubmissionRepository) GetByIDTx(ctx context.Context, tx *sql.Tx, id string) (*models.FormSubmission, error) {
	return r.getByID(ctx, tx, id)
}

func (r *SubmissionRepository) getByID(ctx context.Context, q database.Querier, id string) (*models.FormSubmission, error) {
	s, err := scanSubmission(q.QueryRowContext(ctx, r.db.Rebind(`SELECT `+submissionColumns+` FROM form_submissions WHERE id = ?`), id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// GetForDepartment returns the user's intake submission for a department.
func (r *SubmissionRepository) GetForDepartment(ctx context.Context, userID, departmentID string) (*models.FormSubmission, error) {
	return r.getForDepartment(ctx, r.db, userID, departmentID)
}

func (r *SubmissionRepository) GetForDepartmentTx(ctx context.Context, tx *sql.Tx, userID, departmentID string) (*models.FormSubmission, error) {
	return r.getForDepartment(ctx, tx, userID, departmentID)
}

func (r *SubmissionRepository) getForDepartment(ctx context.Context, q database.Querier, userID, departmentID string) (*models.FormSubmission, error) {
	s, err := scanSubmission(q.QueryRowContext(ctx, r.db.Rebind(`
		SELECT `+submissionColumns+` FROM form_submissions
		WHERE user_id = ? AND department_id = ?
	`), userID, departmentID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func (r *SubmissionRepository) CreateTx(ctx context.Context, tx *sql.Tx, s *models.FormSubmission) error {
	if s.ID == "" {
		s.ID = newID("sub")
	}
	data, err := json.Marshal(orEmpty(s.Data))
	if err != nil {
		return fmt.Errorf("encode submission data: %w", err)
	}
	now := time.Now().Unix()
	s.CreatedAt, s.UpdatedAt = now, now
	_, err = tx.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO form_submissions (id, form_id, user_id, department_id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), s.ID, s.FormID, s.UserID, s.DepartmentID, string(data), s.CreatedAt, s.UpdatedAt)
	return mapError(err)
}

func (r *SubmissionRepository) UpdateDataTx(ctx context.Context, tx *sql.Tx, id string, data map[string]any) error {
	raw, err := json.Marshal(orEmpty(data))
	if err != nil {
		return fmt.Errorf("encode submission data: %w", err)
	}
	res, err := tx.ExecContext(ctx, r.db.Rebind(`
		UPDATE form_submissions SET data = ?, updated_at = ? WHERE id = ?
	`), string(raw), time.Now().Unix(), id)
	if err != nil {
		return err
	}
	return expectOne(res)
}
