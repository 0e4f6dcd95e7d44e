package access

import (
	"fmt"
	"strings"

	"orgdesk/internal/platform/models"
)

// PermissionName is a capability scoped to an app. It is written as
// "APP:CAPABILITY" only at storage and wire boundaries.
type PermissionName struct {
	App        string
	Capability string
}

func (p PermissionName) String() string {
	return p.App + ":" + p.Capability
}

func ParsePermissionName(s string) (PermissionName, error) {
	app, capability, ok := strings.Cut(s, ":")
	if !ok || app == "" || capability == "" || strings.Contains(capability, ":") {
		return PermissionName{}, fmt.Errorf("invalid permission name %q", s)
	}
	return PermissionName{App: app, Capability: capability}, nil
}

func (p PermissionName) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *PermissionName) UnmarshalText(b []byte) error {
	parsed, err := ParsePermissionName(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func NameOf(p models.Permission) PermissionName {
	return PermissionName{App: p.AppName, Capability: p.Capability}
}

// MetaApp is the built-in app whose capabilities gate the management routes.
const MetaApp = "META_APP"

var (
	RegisterUser                  = PermissionName{App: MetaApp, Capability: "REGISTER_USER"}
	ManagePermissions             = PermissionName{App: MetaApp, Capability: "MANAGE_PERMISSIONS"}
	DepartmentAssignChildrenUsers = PermissionName{App: MetaApp, Capability: "DEPARTMENT_ASSIGN_CHILDREN_USERS"}
	UpdateUserProfile             = PermissionName{App: MetaApp, Capability: "UPDATE_USER_PROFILE"}
)

// MetaCapabilities lists the capabilities seeded for MetaApp.
var MetaCapabilities = []PermissionName{
	RegisterUser,
	ManagePermissions,
	DepartmentAssignChildrenUsers,
	UpdateUserProfile,
}
