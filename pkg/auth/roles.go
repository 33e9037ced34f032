package auth

import (
	"github.com/computor-org/computor/pkg/api"
)

// RoleHierarchy maps a required course role to the set of roles that satisfy
// it. Holding any role in the set on the right satisfies a requirement for
// the role on the left; every role satisfies itself.
type RoleHierarchy map[string][]string

// DefaultRoleHierarchy is the built-in course-role inheritance order:
// owners satisfy every requirement, students only their own.
func DefaultRoleHierarchy() RoleHierarchy {
	return RoleHierarchy{
		api.CourseRoleOwner:      {api.CourseRoleOwner},
		api.CourseRoleMaintainer: {api.CourseRoleMaintainer, api.CourseRoleOwner},
		api.CourseRoleLecturer:   {api.CourseRoleLecturer, api.CourseRoleMaintainer, api.CourseRoleOwner},
		api.CourseRoleTutor:      {api.CourseRoleTutor, api.CourseRoleLecturer, api.CourseRoleMaintainer, api.CourseRoleOwner},
		api.CourseRoleStudent:    {api.CourseRoleStudent, api.CourseRoleTutor, api.CourseRoleLecturer, api.CourseRoleMaintainer, api.CourseRoleOwner},
	}
}

// AllowedRoles returns the roles satisfying a requirement for required. An
// unknown role is only satisfied by itself.
func (h RoleHierarchy) AllowedRoles(required string) []string {
	if allowed, ok := h[required]; ok {
		return allowed
	}
	return []string{required}
}

// Satisfies reports whether a held role satisfies the required one.
func (h RoleHierarchy) Satisfies(required, held string) bool {
	for _, role := range h.AllowedRoles(required) {
		if role == held {
			return true
		}
	}
	return false
}
