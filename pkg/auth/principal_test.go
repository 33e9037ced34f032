package auth

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/computor-org/computor/pkg/api"
)

func TestRoleHierarchy(t *testing.T) {
	h := DefaultRoleHierarchy()

	// Every role satisfies itself.
	for role := range h {
		if !h.Satisfies(role, role) {
			t.Errorf("role %s does not satisfy itself", role)
		}
	}

	// The relation is transitive: if b satisfies a and c satisfies b, then
	// c satisfies a.
	for a := range h {
		for _, b := range h.AllowedRoles(a) {
			for _, c := range h.AllowedRoles(b) {
				if !h.Satisfies(a, c) {
					t.Errorf("hierarchy not transitive: %s satisfies %s and %s satisfies %s, but %s does not satisfy %s", b, a, c, b, c, a)
				}
			}
		}
	}

	if h.Satisfies(api.CourseRoleMaintainer, api.CourseRoleStudent) {
		t.Error("a student must not satisfy a maintainer requirement")
	}
	if !h.Satisfies(api.CourseRoleStudent, api.CourseRoleOwner) {
		t.Error("an owner must satisfy a student requirement")
	}
}

func TestPrincipalAdminBypass(t *testing.T) {
	testCases := []struct {
		name          string
		roles         []string
		expectedAdmin bool
	}{
		{
			name:          "builtin admin",
			roles:         []string{"_admin"},
			expectedAdmin: true,
		},
		{
			name:          "scoped admin",
			roles:         []string{"user_admin"},
			expectedAdmin: true,
		},
		{
			name:          "plain role",
			roles:         []string{"_user_manager"},
			expectedAdmin: false,
		},
		{
			name:          "no roles",
			expectedAdmin: false,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			userID := "u1"
			p := NewPrincipal(&userID, tc.roles, NewClaims(), nil)
			if p.IsAdmin != tc.expectedAdmin {
				t.Errorf("expected admin %t, got %t", tc.expectedAdmin, p.IsAdmin)
			}
			if tc.expectedAdmin {
				if !p.HasGeneralPermission("anything", "delete") {
					t.Error("admin must hold every general permission")
				}
				if !p.HasCourseRole("some-course", api.CourseRoleOwner) {
					t.Error("admin must satisfy every course role requirement")
				}
			}
		})
	}
}

func TestPrincipalCourseRoles(t *testing.T) {
	userID := "u1"
	claims := NewClaims()
	claims.AddCourseRole("c1", api.CourseRoleStudent)
	claims.AddCourseRole("c2", api.CourseRoleTutor)
	p := NewPrincipal(&userID, nil, claims, nil)

	if !p.HasCourseRole("c1", api.CourseRoleStudent) {
		t.Error("expected student requirement satisfied in c1")
	}
	if p.HasCourseRole("c1", api.CourseRoleTutor) {
		t.Error("student must not satisfy tutor requirement in c1")
	}
	if !p.HasCourseRole("c2", api.CourseRoleStudent) {
		t.Error("tutor must satisfy student requirement in c2")
	}

	if diff := cmp.Diff([]string{"c1", "c2"}, p.CourseIDsWithRole(api.CourseRoleStudent)); diff != "" {
		t.Errorf("unexpected student-level courses: %s", diff)
	}
	if diff := cmp.Diff([]string{"c2"}, p.CourseIDsWithRole(api.CourseRoleTutor)); diff != "" {
		t.Errorf("unexpected tutor-level courses: %s", diff)
	}
	if ids := p.CourseIDsWithRole(api.CourseRoleMaintainer); len(ids) != 0 {
		t.Errorf("expected no maintainer-level courses, got %v", ids)
	}
}

func TestPrincipalDependentPermission(t *testing.T) {
	userID := "u1"
	claims := NewClaims()
	claims.AddDependent("execution_backend", "eb-1", "use")
	claims.AddGeneral("course_role", "list")
	p := NewPrincipal(&userID, nil, claims, nil)

	if !p.HasDependentPermission("execution_backend", "use", "eb-1") {
		t.Error("expected dependent permission on eb-1")
	}
	if p.HasDependentPermission("execution_backend", "use", "eb-2") {
		t.Error("dependent permission must not leak to other instances")
	}
	// A general claim satisfies the dependent check for any instance.
	if !p.HasDependentPermission("course_role", "list", "whatever") {
		t.Error("general claim should satisfy dependent check")
	}
}
