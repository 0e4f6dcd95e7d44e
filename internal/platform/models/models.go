package models

type Organization struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	ProfileFormID *string `json:"profile_form_id,omitempty"`
	CreatedAt     int64   `json:"created_at"`
	UpdatedAt     int64   `json:"updated_at"`
}

// Department is a node in an organization's department forest. A nil
// ParentID marks a root.
type Department struct {
	ID               string  `json:"id"`
	OrganizationID   string  `json:"organization_id"`
	ParentID         *string `json:"parent_id,omitempty"`
	Name             string  `json:"name"`
	DepartmentFormID *string `json:"department_form_id,omitempty"`
	CreatedAt        int64   `json:"created_at"`
	UpdatedAt        int64   `json:"updated_at"`
}

type User struct {
	ID                  string  `json:"id"`
	OrganizationID      string  `json:"organization_id"`
	Email               string  `json:"email"`
	PasswordHash        string  `json:"-"`
	IsAdmin             bool    `json:"is_admin"`
	Disabled            bool    `json:"disabled"`
	DepartmentID        *string `json:"department_id,omitempty"`
	ProfileSubmissionID *string `json:"profile_submission_id,omitempty"`
	LastLoginAt         *int64  `json:"last_login_at,omitempty"`
	CreatedAt           int64   `json:"created_at"`
	UpdatedAt           int64   `json:"updated_at"`
}

// App owns a set of capabilities and the departments allowed to use them.
type App struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
	CreatedAt      int64  `json:"created_at"`
}

type Permission struct {
	ID             string `json:"id"`
	AppID          string `json:"app_id"`
	OrganizationID string `json:"organization_id"`
	AppName        string `json:"app_name"`
	Capability     string `json:"capability"`
	Description    string `json:"description,omitempty"`
}

type Form struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	Name           string         `json:"name"`
	AdditionalInfo map[string]any `json:"additional_info"`
	CreatedAt      int64          `json:"created_at"`
	UpdatedAt      int64          `json:"updated_at"`
}

type FormSubmission struct {
	ID           string         `json:"id"`
	FormID       string         `json:"form_id"`
	UserID       string         `json:"user_id"`
	DepartmentID *string        `json:"department_id,omitempty"`
	Data         map[string]any `json:"data"`
	CreatedAt    int64          `json:"created_at"`
	UpdatedAt    int64          `json:"updated_at"`
}
