package handlers

import (
	"context"
	"net/http"

	apiContext "orgdesk/internal/api/context"
	"orgdesk/internal/engine/access"
	"orgdesk/internal/engine/onboarding"
	"orgdesk/internal/engine/profiles"
	"orgdesk/internal/pkg/errors"
	"orgdesk/internal/platform/models"
)

type Onboarder interface {
	Issue(ctx context.Context, uc *access.UserContext, req onboarding.IssueRequest) ([]onboarding.IssuedLink, error)
	Redeem(ctx context.Context, token, password string) (*models.User, error)
	CreateUser(ctx context.Context, uc *access.UserContext, email, password, departmentID string) (*models.User, error)
}

type ProfileService interface {
	UpdateUserInfo(ctx context.Context, uc *access.UserContext, in profiles.InfoUpdate) (*profiles.Result, error)
	UpdateUserProfile(ctx context.Context, uc *access.UserContext, in profiles.ProfileUpdate) (*profiles.Result, error)
	GetUserProfile(ctx context.Context, uc *access.UserContext, userID, departmentID string) (*profiles.Profile, error)
}

type OnboardHandler struct {
	onboarding Onboarder
	profiles   ProfileService
}

func NewOnboardHandler(onboarding Onboarder, profiles ProfileService) *OnboardHandler {
	return &OnboardHandler{onboarding: onboarding, profiles: profiles}
}

type RegisterRequest struct {
	DepartmentID string   `json:"department_id"`
	Emails       []string `json:"emails"`
	Redirect     string   `json:"redirect"`
	IsDev        bool     `json:"is_dev"`
}

type RegisterResponse struct {
	Message string                  `json:"message"`
	Links   []onboarding.IssuedLink `json:"links,omitempty"`
}

// Register issues invitations into a department.
func (h *OnboardHandler) Register(w http.ResponseWriter, r *http.Request) {
	uc, ok := actor(w, r)
	if !ok {
		return
	}
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		errors.Write(w, err)
		return
	}
	if req.DepartmentID == "" {
		errors.Write(w, errors.BadRequest("department_id is required"))
		return
	}

	links, err := h.onboarding.Issue(r.Context(), uc, onboarding.IssueRequest{
		DepartmentID: req.DepartmentID,
		Emails:       req.Emails,
		Redirect:     req.Redirect,
		Dev:          req.IsDev,
	})
	if err != nil {
		errors.Write(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, RegisterResponse{Message: "Invitations issued", Links: links})
}

type ActionRequest struct {
	Token    string `json:"v"`
	Password string `json:"password"`
}

// Action redeems an invitation token and sets the new user's password.
func (h *OnboardHandler) Action(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		errors.Write(w, err)
		return
	}
	user, err := h.onboarding.Redeem(r.Context(), req.Token, req.Password)
	if err != nil {
		errors.Write(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

type CreateUserRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	DepartmentID string `json:"department_id"`
}

func (h *OnboardHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	uc, ok := actor(w, r)
	if !ok {
		return
	}
	var req CreateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		errors.Write(w, err)
		return
	}
	user, err := h.onboarding.CreateUser(r.Context(), uc, req.Email, req.Password, req.DepartmentID)
	if err != nil {
		errors.Write(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *OnboardHandler) UpdateProfileData(w http.ResponseWriter, r *http.Request) {
	uc, ok := actor(w, r)
	if !ok {
		return
	}
	var req profiles.InfoUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		errors.Write(w, err)
		return
	}
	if req.UserID == "" {
		errors.Write(w, errors.BadRequest("user_id is required"))
		return
	}
	res, err := h.profiles.UpdateUserInfo(r.Context(), uc, req)
	if err != nil {
		errors.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetProfileData returns a user and, with ?department_id=, their intake
// data for that department.
func (h *OnboardHandler) GetProfileData(w http.ResponseWriter, r *http.Request) {
	uc, ok := actor(w, r)
	if !ok {
		return
	}
	userID := apiContext.Param(r.Context(), "user_id")
	profile, err := h.profiles.GetUserProfile(r.Context(), uc, userID, r.URL.Query().Get("department_id"))
	if err != nil {
		errors.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *OnboardHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	uc, ok := actor(w, r)
	if !ok {
		return
	}
	var req profiles.ProfileUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		errors.Write(w, err)
		return
	}
	if req.FormData == nil {
		errors.Write(w, errors.BadRequest("form_data is required"))
		return
	}
	res, err := h.profiles.UpdateUserProfile(r.Context(), uc, req)
	if err != nil {
		errors.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
