package access

import (
	"testing"

	"orgdesk/internal/platform/models"
)

func strPtr(s string) *string { return &s }

func delegate(dept string, subtree ...string) *UserContext {
	return NewUserContext(&models.User{ID: "actor", OrganizationID: "o1", DepartmentID: strPtr(dept)}, nil, subtree)
}

func admin() *UserContext {
	return NewUserContext(&models.User{ID: "admin", OrganizationID: "o1", IsAdmin: true}, nil, nil)
}

func TestParsePermissionName(t *testing.T) {
	p, err := ParsePermissionName("CRM:READ")
	if err != nil {
		t.Fatal(err)
	}
	if p != (PermissionName{App: "CRM", Capability: "READ"}) || p.String() != "CRM:READ" {
		t.Errorf("unexpected %+v", p)
	}
	for _, bad := range []string{"", "CRM", ":READ", "CRM:", "A:B:C"} {
		if _, err := ParsePermissionName(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestHasPermissionIsExact(t *testing.T) {
	uc := NewUserContext(&models.User{ID: "u", OrganizationID: "o1"}, []PermissionName{{App: "CRM", Capability: "READ"}}, nil)
	if !uc.HasPermission(PermissionName{App: "CRM", Capability: "READ"}) {
		t.Error("expected held permission")
	}
	if uc.HasPermission(PermissionName{App: "CRM", Capability: "WRITE"}) {
		t.Error("unexpected permission")
	}
	if admin().HasPermission(RegisterUser) {
		t.Error("admin status must not imply permission membership")
	}
}

func TestHasDepartmentAccess(t *testing.T) {
	// root -> d2 -> d4, root -> d3
	uc := delegate("d2", "d2", "d4")

	cases := map[string]bool{
		"d2":   true,  // own department
		"d4":   true,  // descendant
		"root": false, // ancestor
		"d3":   false, // sibling
		"zz":   false, // unrelated
		"":     false,
	}
	for dept, want := range cases {
		if got := uc.HasDepartmentAccess(dept); got != want {
			t.Errorf("HasDepartmentAccess(%q) = %v, want %v", dept, got, want)
		}
	}

	if !admin().HasDepartmentAccess("anything") {
		t.Error("admin must have access to every department")
	}
}

func TestSubtreeIgnoredForAdmin(t *testing.T) {
	uc := NewUserContext(&models.User{ID: "a", OrganizationID: "o1", IsAdmin: true}, nil, []string{"d1"})
	if len(uc.Subtree()) != 0 {
		t.Errorf("admin subtree should be empty, got %v", uc.Subtree())
	}
}

func TestIsManageable(t *testing.T) {
	uc := delegate("d2", "d2", "d4")

	cases := []struct {
		name     string
		actor    *UserContext
		target   *models.User
		want     bool
		wantDept string
	}{
		{"missing", uc, nil, false, ""},
		{"cross org", uc, &models.User{ID: "t", OrganizationID: "o2", DepartmentID: strPtr("d2")}, false, "d2"},
		{"admin target", uc, &models.User{ID: "t", OrganizationID: "o1", IsAdmin: true, DepartmentID: strPtr("d2")}, false, "d2"},
		{"self", uc, &models.User{ID: "actor", OrganizationID: "o1", DepartmentID: strPtr("d2")}, false, "d2"},
		{"in subtree", uc, &models.User{ID: "t", OrganizationID: "o1", DepartmentID: strPtr("d4")}, true, "d4"},
		{"outside subtree", uc, &models.User{ID: "t", OrganizationID: "o1", DepartmentID: strPtr("d3")}, false, "d3"},
		{"no department", uc, &models.User{ID: "t", OrganizationID: "o1"}, false, ""},
		{"admin actor", admin(), &models.User{ID: "t", OrganizationID: "o1", DepartmentID: strPtr("d3")}, true, "d3"},
		{"admin actor no department", admin(), &models.User{ID: "t", OrganizationID: "o1"}, true, ""},
		{"admin actor admin target", admin(), &models.User{ID: "t", OrganizationID: "o1", IsAdmin: true}, false, ""},
		{"admin actor self", admin(), &models.User{ID: "admin", OrganizationID: "o1", IsAdmin: true}, false, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, dept := IsManageable(tc.actor, tc.target)
			if got != tc.want || dept != tc.wantDept {
				t.Errorf("IsManageable = (%v, %q), want (%v, %q)", got, dept, tc.want, tc.wantDept)
			}
		})
	}
}

// For non-admin actors, manageability is exactly: same org, not admin, not
// self, and department inside the actor's subtree.
func TestIsManageableProperty(t *testing.T) {
	uc := delegate("d2", "d2", "d4")
	for _, org := range []string{"o1", "o2"} {
		for _, isAdmin := range []bool{false, true} {
			for _, id := range []string{"actor", "t"} {
				for _, dept := range []string{"d2", "d3", "d4"} {
					target := &models.User{ID: id, OrganizationID: org, IsAdmin: isAdmin, DepartmentID: strPtr(dept)}
					want := org == "o1" && !isAdmin && id != "actor" && (dept == "d2" || dept == "d4")
					if got, _ := IsManageable(uc, target); got != want {
						t.Errorf("IsManageable(%+v) = %v, want %v", target, got, want)
					}
				}
			}
		}
	}
}
