package access

import (
	"sort"

	"orgdesk/internal/platform/models"
)

// UserContext is an immutable snapshot of an actor's identity, permissions
// and controlled department subtree, taken once per request.
type UserContext struct {
	userID       string
	orgID        string
	email        string
	isAdmin      bool
	departmentID string
	permissions  map[PermissionName]struct{}
	subtree      map[string]struct{}
}

// NewUserContext builds a snapshot. subtree holds the actor's department and
// all of its descendants; it is ignored for admins.
func NewUserContext(user *models.User, permissions []PermissionName, subtree []string) *UserContext {
	uc := &UserContext{
		userID:      user.ID,
		orgID:       user.OrganizationID,
		email:       user.Email,
		isAdmin:     user.IsAdmin,
		permissions: make(map[PermissionName]struct{}, len(permissions)),
		subtree:     make(map[string]struct{}, len(subtree)),
	}
	if user.DepartmentID != nil {
		uc.departmentID = *user.DepartmentID
	}
	for _, p := range permissions {
		uc.permissions[p] = struct{}{}
	}
	if !user.IsAdmin {
		for _, id := range subtree {
			uc.subtree[id] = struct{}{}
		}
	}
	return uc
}

func (uc *UserContext) UserID() string         { return uc.userID }
func (uc *UserContext) OrganizationID() string { return uc.orgID }
func (uc *UserContext) Email() string          { return uc.email }
func (uc *UserContext) IsAdmin() bool          { return uc.isAdmin }

// DepartmentID is empty when the actor has no department.
func (uc *UserContext) DepartmentID() string { return uc.departmentID }

// HasPermission is exact membership; admin status does not imply it.
func (uc *UserContext) HasPermission(p PermissionName) bool {
	_, ok := uc.permissions[p]
	return ok
}

// HasDepartmentAccess reports whether the department is the actor's own or
// one of its descendants. Admins have access to every department.
func (uc *UserContext) HasDepartmentAccess(departmentID string) bool {
	if uc.isAdmin {
		return true
	}
	if departmentID == "" {
		return false
	}
	_, ok := uc.subtree[departmentID]
	return ok
}

// Permissions returns the permission set sorted by name.
func (uc *UserContext) Permissions() []PermissionName {
	out := make([]PermissionName, 0, len(uc.permissions))
	for p := range uc.permissions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (uc *UserContext) Subtree() []string {
	out := make([]string, 0, len(uc.subtree))
	for id := range uc.subtree {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// IsManageable decides whether the actor may act on target through a
// delegated-management path. It also returns the target's current
// department. Missing, cross-organization, admin and self targets are never
// manageable; admins manage everyone else; delegates manage users whose
// department lies in their subtree.
func IsManageable(uc *UserContext, target *models.User) (bool, string) {
	if target == nil {
		return false, ""
	}
	var targetDept string
	if target.DepartmentID != nil {
		targetDept = *target.DepartmentID
	}
	if target.OrganizationID != uc.orgID || target.IsAdmin || target.ID == uc.userID {
		return false, targetDept
	}
	if uc.isAdmin {
		return true, targetDept
	}
	return uc.HasDepartmentAccess(targetDept), targetDept
}
