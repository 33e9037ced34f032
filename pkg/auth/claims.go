package auth

import (
	"fmt"
	"sort"
	"strings"
)

// ClaimTypePermissions is the claim_type under which permission claims are
// stored on roles.
const ClaimTypePermissions = "permissions"

// ResourceCourse is the resource name of the special course-role claim
// course:<course_role_id>:<course_id>.
const ResourceCourse = "course"

// Claims indexes a principal's permissions. General claims apply to a
// resource independent of an instance; dependent claims are scoped to one
// resource id. Course-role membership claims are indexed as dependent claims
// on the "course" resource, with the course role id in action position.
type Claims struct {
	general   map[string]map[string]struct{}
	dependent map[string]map[string]map[string]struct{}
}

// NewClaims returns an empty claim set.
func NewClaims() Claims {
	return Claims{
		general:   map[string]map[string]struct{}{},
		dependent: map[string]map[string]map[string]struct{}{},
	}
}

// Parse adds one claim value in the resource:action[:resource_id] grammar.
func (c *Claims) Parse(value string) error {
	parts := strings.Split(value, ":")
	switch len(parts) {
	case 2:
		if parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("invalid claim %q: resource and action must not be empty", value)
		}
		c.AddGeneral(parts[0], parts[1])
		return nil
	case 3:
		if parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return fmt.Errorf("invalid claim %q: resource, action and resource_id must not be empty", value)
		}
		c.AddDependent(parts[0], parts[2], parts[1])
		return nil
	default:
		return fmt.Errorf("invalid claim %q: expected resource:action or resource:action:resource_id", value)
	}
}

// AddGeneral records an instance-independent permission.
func (c *Claims) AddGeneral(resource, action string) {
	if c.general == nil {
		c.general = map[string]map[string]struct{}{}
	}
	if c.general[resource] == nil {
		c.general[resource] = map[string]struct{}{}
	}
	c.general[resource][action] = struct{}{}
}

// AddDependent records a permission scoped to one resource instance.
func (c *Claims) AddDependent(resource, resourceID, action string) {
	if c.dependent == nil {
		c.dependent = map[string]map[string]map[string]struct{}{}
	}
	if c.dependent[resource] == nil {
		c.dependent[resource] = map[string]map[string]struct{}{}
	}
	if c.dependent[resource][resourceID] == nil {
		c.dependent[resource][resourceID] = map[string]struct{}{}
	}
	c.dependent[resource][resourceID][action] = struct{}{}
}

// AddCourseRole records course-role membership for one course.
func (c *Claims) AddCourseRole(courseID, courseRoleID string) {
	c.AddDependent(ResourceCourse, courseID, courseRoleID)
}

// HasGeneral reports whether the instance-independent permission is held.
func (c Claims) HasGeneral(resource, action string) bool {
	actions, ok := c.general[resource]
	if !ok {
		return false
	}
	_, ok = actions[action]
	return ok
}

// HasDependent reports whether the permission is held for the given instance.
func (c Claims) HasDependent(resource, resourceID, action string) bool {
	ids, ok := c.dependent[resource]
	if !ok {
		return false
	}
	actions, ok := ids[resourceID]
	if !ok {
		return false
	}
	_, ok = actions[action]
	return ok
}

// CourseRoles returns the course role ids held for the given course.
func (c Claims) CourseRoles(courseID string) []string {
	ids, ok := c.dependent[ResourceCourse]
	if !ok {
		return nil
	}
	actions, ok := ids[courseID]
	if !ok {
		return nil
	}
	roles := make([]string, 0, len(actions))
	for role := range actions {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

// CourseIDs returns every course the principal holds any role in.
func (c Claims) CourseIDs() []string {
	ids := make([]string, 0, len(c.dependent[ResourceCourse]))
	for id := range c.dependent[ResourceCourse] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DependentIDs returns the instance ids for which the principal holds any
// claim on the resource.
func (c Claims) DependentIDs(resource string) []string {
	ids := make([]string, 0, len(c.dependent[resource]))
	for id := range c.dependent[resource] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MentionsResource reports whether any claim, general or dependent, names
// the resource. Parent-reference checks only apply to resources inside the
// principal's claim universe.
func (c Claims) MentionsResource(resource string) bool {
	if len(c.general[resource]) > 0 {
		return true
	}
	return len(c.dependent[resource]) > 0
}

// HasAnyDependent reports whether any claim at all is held on the resource.
func (c Claims) HasAnyDependent(resource string) bool {
	return len(c.dependent[resource]) > 0
}

// Serialize renders the claims back into the claim-string grammar, sorted
// for deterministic output. Parsing the result reproduces the claim set.
func (c Claims) Serialize() []string {
	var out []string
	for resource, actions := range c.general {
		for action := range actions {
			out = append(out, resource+":"+action)
		}
	}
	for resource, ids := range c.dependent {
		for id, actions := range ids {
			for action := range actions {
				out = append(out, resource+":"+action+":"+id)
			}
		}
	}
	sort.Strings(out)
	return out
}
