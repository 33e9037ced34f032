package auth

import (
	"strings"
)

// Principal is an authenticated caller: the user it acts as, the global
// roles it holds and the claim set derived from them.
type Principal struct {
	UserID  *string  `json:"user_id,omitempty"`
	IsAdmin bool     `json:"is_admin"`
	Roles   []string `json:"roles,omitempty"`
	Claims  Claims   `json:"-"`

	hierarchy RoleHierarchy
}

// NewPrincipal builds a principal over the given role hierarchy. A role
// identifier ending in "_admin" promotes the principal to admin, which
// bypasses every permission check.
func NewPrincipal(userID *string, roles []string, claims Claims, hierarchy RoleHierarchy) *Principal {
	if hierarchy == nil {
		hierarchy = DefaultRoleHierarchy()
	}
	p := &Principal{
		UserID:    userID,
		Roles:     roles,
		Claims:    claims,
		hierarchy: hierarchy,
	}
	for _, role := range roles {
		if strings.HasSuffix(role, "_admin") {
			p.IsAdmin = true
			break
		}
	}
	return p
}

// Hierarchy returns the course-role hierarchy the principal evaluates
// against.
func (p *Principal) Hierarchy() RoleHierarchy {
	if p.hierarchy == nil {
		return DefaultRoleHierarchy()
	}
	return p.hierarchy
}

// IsSelf reports whether the target user id is the principal itself.
func (p *Principal) IsSelf(userID string) bool {
	return p.UserID != nil && *p.UserID == userID
}

// HasGeneralPermission reports whether resource:action is held (admins hold
// everything).
func (p *Principal) HasGeneralPermission(resource, action string) bool {
	if p.IsAdmin {
		return true
	}
	return p.Claims.HasGeneral(resource, action)
}

// HasDependentPermission reports whether resource:action:resourceID is held,
// falling back to the general claim.
func (p *Principal) HasDependentPermission(resource, action, resourceID string) bool {
	if p.IsAdmin {
		return true
	}
	if p.Claims.HasGeneral(resource, action) {
		return true
	}
	return p.Claims.HasDependent(resource, resourceID, action)
}

// HasCourseRole reports whether the principal holds at least the required
// role in the given course, per the hierarchy.
func (p *Principal) HasCourseRole(courseID, required string) bool {
	if p.IsAdmin {
		return true
	}
	for _, held := range p.Claims.CourseRoles(courseID) {
		if p.Hierarchy().Satisfies(required, held) {
			return true
		}
	}
	return false
}

// CourseIDsWithRole returns every course in which the principal satisfies
// the required role. The result is the basis for course-scoped query
// filtering; admins are handled by the caller returning unfiltered queries.
func (p *Principal) CourseIDsWithRole(required string) []string {
	var out []string
	for _, courseID := range p.Claims.CourseIDs() {
		if p.HasCourseRole(courseID, required) {
			out = append(out, courseID)
		}
	}
	return out
}

// HasAnyCourseRole reports whether the principal satisfies the required role
// in at least one course.
func (p *Principal) HasAnyCourseRole(required string) bool {
	return len(p.CourseIDsWithRole(required)) > 0
}
