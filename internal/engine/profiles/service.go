package profiles

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"

	"github.com/rs/zerolog"

	"orgdesk/internal/engine/access"
	"orgdesk/internal/pkg/errors"
	"orgdesk/internal/pkg/logger"
	"orgdesk/internal/pkg/validator"
	"orgdesk/internal/platform/audit"
	"orgdesk/internal/platform/crypto"
	"orgdesk/internal/platform/models"
	"orgdesk/internal/platform/repositories"
)

const departmentFormName = "Department Form"

type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	UpdateCredentialsTx(ctx context.Context, tx *sql.Tx, userID, email, passwordHash string) error
	SetProfileSubmissionTx(ctx context.Context, tx *sql.Tx, userID, submissionID string) error
}

type OrganizationStore interface {
	GetByID(ctx context.Context, id string) (*models.Organization, error)
}

type DepartmentStore interface {
	GetByID(ctx context.Context, id string) (*models.Department, error)
	GetByIDTx(ctx context.Context, tx *sql.Tx, id string) (*models.Department, error)
	SetFormTx(ctx context.Context, tx *sql.Tx, departmentID, formID string) error
}

type FormStore interface {
	GetByID(ctx context.Context, id string) (*models.Form, error)
	CreateTx(ctx context.Context, tx *sql.Tx, form *models.Form) error
}

type SubmissionStore interface {
	GetByIDTx(ctx context.Context, tx *sql.Tx, id string) (*models.FormSubmission, error)
	GetForDepartment(ctx context.Context, userID, departmentID string) (*models.FormSubmission, error)
	GetForDepartmentTx(ctx context.Context, tx *sql.Tx, userID, departmentID string) (*models.FormSubmission, error)
	CreateTx(ctx context.Context, tx *sql.Tx, s *models.FormSubmission) error
	UpdateDataTx(ctx context.Context, tx *sql.Tx, id string, data map[string]any) error
}

// InfoUpdate changes a user's credentials and, when both DepartmentID and
// Data are set, their intake data for that department.
type InfoUpdate struct {
	UserID       string         `json:"user_id"`
	Email        string         `json:"email,omitempty"`
	Password     string         `json:"password,omitempty"`
	DepartmentID string         `json:"department_id,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// ProfileUpdate writes the organization profile form. An empty UserID
// targets the actor.
type ProfileUpdate struct {
	UserID   string         `json:"user_id,omitempty"`
	FormData map[string]any `json:"form_data"`
}

type Result struct {
	User       *models.User           `json:"user"`
	Submission *models.FormSubmission `json:"submission,omitempty"`
}

type Profile struct {
	User           *models.User           `json:"user"`
	DepartmentInfo *models.FormSubmission `json:"department_info"`
}

type Service struct {
	db          TxRunner
	users       UserStore
	orgs        OrganizationStore
	departments DepartmentStore
	forms       FormStore
	submissions SubmissionStore
	hasher      *crypto.Hasher
	invalidator access.Invalidator
	audit       *audit.Logger
	log         zerolog.Logger
}

func NewService(
	db TxRunner,
	users UserStore,
	orgs OrganizationStore,
	departments DepartmentStore,
	forms FormStore,
	submissions SubmissionStore,
	hasher *crypto.Hasher,
	invalidator access.Invalidator,
	auditLog *audit.Logger,
) *Service {
	return &Service{
		db:          db,
		users:       users,
		orgs:        orgs,
		departments: departments,
		forms:       forms,
		submissions: submissions,
		hasher:      hasher,
		invalidator: invalidator,
		audit:       auditLog,
		log:         logger.Component("profiles"),
	}
}

// authorize loads the target and checks the actor may act on it: self,
// admin, or a holder of UPDATE_USER_PROFILE who manages the target.
func (s *Service) authorize(ctx context.Context, uc *access.UserContext, targetUserID, denial string) (*models.User, error) {
	target, err := s.users.GetByID(ctx, targetUserID)
	if err != nil {
		return nil, errors.Internal("Failed to load user", err)
	}

	switch {
	case targetUserID == uc.UserID() || uc.IsAdmin():
		if target == nil || target.OrganizationID != uc.OrganizationID() {
			return nil, errors.NotFound("User not found")
		}
		return target, nil
	case !uc.HasPermission(access.UpdateUserProfile):
		return nil, errors.Forbidden(denial)
	}
	if ok, _ := access.IsManageable(uc, target); !ok {
		return nil, errors.Forbidden(denial)
	}
	return target, nil
}

func (s *Service) UpdateUserInfo(ctx context.Context, uc *access.UserContext, in InfoUpdate) (*Result, error) {
	target, err := s.authorize(ctx, uc, in.UserID, "You dont have access to update this user")
	if err != nil {
		return nil, err
	}

	var addr, hash string
	if in.Email != "" {
		if addr, err = validator.NormalizeEmail(in.Email); err != nil {
			return nil, errors.BadRequest(err.Error())
		}
	}
	if in.Password != "" {
		if err := validator.Password(in.Password); err != nil {
			return nil, errors.BadRequest(err.Error())
		}
		if hash, err = s.hasher.Hash(in.Password); err != nil {
			return nil, errors.Internal("Failed to update user", err)
		}
	}

	writeData := in.DepartmentID != "" && in.Data != nil
	if writeData {
		if err := s.checkDepartment(ctx, uc, target, in.DepartmentID); err != nil {
			return nil, err
		}
	}

	var submission *models.FormSubmission
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.users.UpdateCredentialsTx(ctx, tx, target.ID, addr, hash); err != nil {
			return err
		}
		if !writeData {
			return nil
		}
		submission, err = s.upsertDepartmentData(ctx, tx, uc.OrganizationID(), target.ID, in.DepartmentID, in.Data)
		return err
	})
	if stderrors.Is(err, repositories.ErrConflict) {
		return nil, errors.Conflict("Email already in use")
	}
	if err != nil {
		return nil, errors.Internal("Failed to update user", err)
	}

	if addr != "" {
		target.Email = addr
		if err := s.invalidator.Invalidate(ctx, target.ID, ""); err != nil {
			s.log.Error().Err(err).Str("target_id", target.ID).Msg("Invalidating user context failed")
		}
	}

	s.log.Info().
		Str("org_id", uc.OrganizationID()).
		Str("actor_id", uc.UserID()).
		Str("target_id", target.ID).
		Bool("email", addr != "").
		Bool("password", hash != "").
		Str("department_id", in.DepartmentID).
		Msg("User info updated")

	s.audit.Log(ctx, audit.Entry{
		OrganizationID: uc.OrganizationID(),
		ActorID:        uc.UserID(),
		Action:         audit.ActionUserInfoUpdated,
		ResourceType:   "user",
		ResourceID:     target.ID,
		Metadata: map[string]any{
			"email_changed":    addr != "",
			"password_changed": hash != "",
			"department_id":    in.DepartmentID,
		},
	})
	return &Result{User: target, Submission: submission}, nil
}

// checkDepartment accepts any department of the organization for admins.
// Others are limited to their subtree and the target's own department.
func (s *Service) checkDepartment(ctx context.Context, uc *access.UserContext, target *models.User, departmentID string) error {
	dept, err := s.departments.GetByID(ctx, departmentID)
	if err != nil {
		return errors.Internal("Failed to load department", err)
	}
	if dept == nil || dept.OrganizationID != uc.OrganizationID() {
		return errors.NotFound("Department not found")
	}
	own := target.DepartmentID != nil && *target.DepartmentID == departmentID
	if !uc.HasDepartmentAccess(departmentID) && !own {
		return errors.Forbidden("You dont have access to this department, Please contact Admin")
	}
	return nil
}

func (s *Service) upsertDepartmentData(ctx context.Context, tx *sql.Tx, orgID, userID, departmentID string, data map[string]any) (*models.FormSubmission, error) {
	dept, err := s.departments.GetByIDTx(ctx, tx, departmentID)
	if err != nil {
		return nil, err
	}
	if dept == nil {
		return nil, repositories.ErrNotFound
	}

	formID := ""
	if dept.DepartmentFormID != nil {
		formID = *dept.DepartmentFormID
	} else {
		form := &models.Form{OrganizationID: orgID, Name: departmentFormName}
		if err := s.forms.CreateTx(ctx, tx, form); err != nil {
			return nil, err
		}
		if err := s.departments.SetFormTx(ctx, tx, departmentID, form.ID); err != nil {
			return nil, err
		}
		formID = form.ID
	}

	existing, err := s.submissions.GetForDepartmentTx(ctx, tx, userID, departmentID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := s.submissions.UpdateDataTx(ctx, tx, existing.ID, data); err != nil {
			return nil, err
		}
		existing.Data = data
		return existing, nil
	}

	sub := &models.FormSubmission{FormID: formID, UserID: userID, DepartmentID: &departmentID, Data: data}
	if err := s.submissions.CreateTx(ctx, tx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// UpdateUserProfile writes the organization's profile form for a user.
// Non-admins cannot change fields the form lists in forbiddenFields; their
// stored values are carried over.
func (s *Service) UpdateUserProfile(ctx context.Context, uc *access.UserContext, in ProfileUpdate) (*Result, error) {
	targetID := in.UserID
	if targetID == "" {
		targetID = uc.UserID()
	}
	if targetID != uc.UserID() && !uc.IsAdmin() {
		return nil, errors.Forbidden("Only admins can update other users profiles")
	}

	org, err := s.orgs.GetByID(ctx, uc.OrganizationID())
	if err != nil {
		return nil, errors.Internal("Failed to load organization", err)
	}
	if org == nil || org.ProfileFormID == nil {
		return nil, errors.BadRequest("Profile form not configured for this organization")
	}
	form, err := s.forms.GetByID(ctx, *org.ProfileFormID)
	if err != nil {
		return nil, errors.Internal("Failed to load profile form", err)
	}
	if form == nil {
		return nil, errors.BadRequest("Profile form not configured for this organization")
	}

	target, err := s.users.GetByID(ctx, targetID)
	if err != nil {
		return nil, errors.Internal("Failed to load user", err)
	}
	if target == nil || target.OrganizationID != uc.OrganizationID() {
		return nil, errors.NotFound("User not found")
	}

	var forbidden []string
	if !uc.IsAdmin() {
		forbidden = ForbiddenFields(form)
	}

	var submission *models.FormSubmission
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var existing *models.FormSubmission
		if target.ProfileSubmissionID != nil {
			if existing, err = s.submissions.GetByIDTx(ctx, tx, *target.ProfileSubmissionID); err != nil {
				return err
			}
		}

		data := in.FormData
		if len(forbidden) > 0 {
			var previous map[string]any
			if existing != nil {
				previous = existing.Data
			}
			data = mergeRestricted(in.FormData, previous, forbidden)
		}

		if existing != nil {
			if err := s.submissions.UpdateDataTx(ctx, tx, existing.ID, data); err != nil {
				return err
			}
			existing.Data = data
			submission = existing
			return nil
		}

		submission = &models.FormSubmission{FormID: form.ID, UserID: target.ID, Data: data}
		if err := s.submissions.CreateTx(ctx, tx, submission); err != nil {
			return err
		}
		return s.users.SetProfileSubmissionTx(ctx, tx, target.ID, submission.ID)
	})
	if err != nil {
		return nil, errors.Internal("Failed to update profile", err)
	}
	target.ProfileSubmissionID = &submission.ID

	s.log.Info().
		Str("org_id", uc.OrganizationID()).
		Str("actor_id", uc.UserID()).
		Str("target_id", target.ID).
		Int("restricted_fields", len(forbidden)).
		Msg("User profile updated")

	s.audit.Log(ctx, audit.Entry{
		OrganizationID: uc.OrganizationID(),
		ActorID:        uc.UserID(),
		Action:         audit.ActionProfileUpdated,
		ResourceType:   "user",
		ResourceID:     target.ID,
		Metadata:       map[string]any{"submission_id": submission.ID},
	})
	return &Result{User: target, Submission: submission}, nil
}

// ForbiddenFields reads the comma separated additionalInfo.forbiddenFields.
func ForbiddenFields(form *models.Form) []string {
	raw, ok := form.AdditionalInfo["forbiddenFields"].(string)
	if !ok {
		return nil
	}
	var fields []string
	for _, f := range strings.Split(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

// mergeRestricted drops restricted keys from input and restores their
// previous values.
func mergeRestricted(input, previous map[string]any, restricted []string) map[string]any {
	blocked := make(map[string]struct{}, len(restricted))
	for _, f := range restricted {
		blocked[f] = struct{}{}
	}
	out := make(map[string]any, len(input))
	for k, v := range previous {
		if _, ok := blocked[k]; ok {
			out[k] = v
		}
	}
	for k, v := range input {
		if _, ok := blocked[k]; !ok {
			out[k] = v
		}
	}
	return out
}

func (s *Service) GetUserProfile(ctx context.Context, uc *access.UserContext, userID, departmentID string) (*Profile, error) {
	target, err := s.authorize(ctx, uc, userID, "You dont have access to view this user profile")
	if err != nil {
		return nil, err
	}

	profile := &Profile{User: target}
	if departmentID == "" {
		return profile, nil
	}
	if profile.DepartmentInfo, err = s.submissions.GetForDepartment(ctx, target.ID, departmentID); err != nil {
		return nil, errors.Internal("Failed to load department info", err)
	}
	return profile, nil
}
