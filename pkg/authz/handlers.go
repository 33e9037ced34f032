package authz

import (
	"context"
	"fmt"

	"github.com/computor-org/computor/pkg/api"
	"github.com/computor-org/computor/pkg/auth"
)

// Entity names used as registry keys.
const (
	EntityUser               = "user"
	EntityAccount            = "account"
	EntityProfile            = "profile"
	EntityOrganization       = "organization"
	EntityCourseFamily       = "course_family"
	EntityCourse             = "course"
	EntityCourseContent      = "course_content"
	EntityCourseContentType  = "course_content_type"
	EntityCourseGroup        = "course_group"
	EntityCourseMember       = "course_member"
	EntityResult             = "result"
	EntityCourseRole         = "course_role"
	EntityCourseContentKind  = "course_content_kind"
	EntityExample            = "example"
	EntityExampleRepository  = "example_repository"
	EntityExampleVersion     = "example_version"
	EntityExecutionBackend   = "execution_backend"
)

// GenericHandler admits an action iff the principal holds the matching
// general claim. The fallback for entities without course scoping.
type GenericHandler struct {
	Resource string
}

func (h *GenericHandler) CanPerform(_ context.Context, principal *auth.Principal, action, resourceID string, _ *RequestContext) (bool, error) {
	if resourceID != "" && principal.HasDependentPermission(h.Resource, action, resourceID) {
		return true, nil
	}
	return principal.HasGeneralPermission(h.Resource, action), nil
}

func (h *GenericHandler) BuildQuery(principal *auth.Principal, action string) (*Query, error) {
	if !principal.HasGeneralPermission(h.Resource, action) {
		return nil, fmt.Errorf("%s %s: %w", action, h.Resource, ErrForbidden)
	}
	return &Query{Unrestricted: true}, nil
}

// MembershipSource resolves the course memberships of a user, the lookup
// the self-or-tutor family needs to relate two users.
type MembershipSource interface {
	CourseMembersForUser(ctx context.Context, userID string) ([]api.CourseMember, error)
}

// SelfOrTutorHandler guards user-shaped entities: the target themself may
// act, and so may anyone who is at least tutor in a course the target
// belongs to.
type SelfOrTutorHandler struct {
	Resource string
	Members  MembershipSource
}

func (h *SelfOrTutorHandler) CanPerform(ctx context.Context, principal *auth.Principal, action, targetUserID string, rc *RequestContext) (bool, error) {
	if targetUserID == "" && rc != nil {
		targetUserID = rc.OwnerUserID
	}
	if targetUserID == "" {
		return principal.HasGeneralPermission(h.Resource, action), nil
	}
	if principal.IsSelf(targetUserID) {
		return true, nil
	}
	if principal.HasGeneralPermission(h.Resource, action) {
		return true, nil
	}
	if !principal.HasAnyCourseRole(api.CourseRoleTutor) {
		return false, nil
	}
	memberships, err := h.Members.CourseMembersForUser(ctx, targetUserID)
	if err != nil {
		return false, err
	}
	for _, m := range memberships {
		if principal.HasCourseRole(m.CourseID, api.CourseRoleTutor) {
			return true, nil
		}
	}
	return false, nil
}

func (h *SelfOrTutorHandler) BuildQuery(principal *auth.Principal, action string) (*Query, error) {
	if principal.HasGeneralPermission(h.Resource, action) {
		return &Query{Unrestricted: true}, nil
	}
	q := &Query{
		CourseIDs:  principal.CourseIDsWithRole(api.CourseRoleTutor),
		SelfUserID: principal.UserID,
	}
	if q.Empty() {
		return nil, fmt.Errorf("%s %s: %w", action, h.Resource, ErrForbidden)
	}
	return q, nil
}

// CourseScopedHandler guards entities living under a course: reads require
// membership, writes require at least maintainer.
type CourseScopedHandler struct {
	Resource string
	// StudentsSeeOwnOnly marks entities where students are limited to rows
	// about themselves (memberships, groups).
	StudentsSeeOwnOnly bool
}

// requiredRole maps an action to the minimum course role.
func (h *CourseScopedHandler) requiredRole(action string) string {
	switch action {
	case ActionGet, ActionList:
		return api.CourseRoleStudent
	default:
		return api.CourseRoleMaintainer
	}
}

func (h *CourseScopedHandler) CanPerform(_ context.Context, principal *auth.Principal, action, resourceID string, rc *RequestContext) (bool, error) {
	if principal.HasGeneralPermission(h.Resource, action) {
		return true, nil
	}
	if resourceID != "" && principal.HasDependentPermission(h.Resource, action, resourceID) {
		return true, nil
	}
	if rc == nil || rc.CourseID == "" {
		return false, nil
	}
	required := h.requiredRole(action)
	if !principal.HasCourseRole(rc.CourseID, required) {
		return false, nil
	}
	if h.StudentsSeeOwnOnly && required == api.CourseRoleStudent &&
		!principal.HasCourseRole(rc.CourseID, api.CourseRoleTutor) &&
		rc.OwnerUserID != "" && !principal.IsSelf(rc.OwnerUserID) {
		return false, nil
	}
	return true, nil
}

func (h *CourseScopedHandler) BuildQuery(principal *auth.Principal, action string) (*Query, error) {
	if principal.HasGeneralPermission(h.Resource, action) {
		return &Query{Unrestricted: true}, nil
	}
	required := h.requiredRole(action)
	q := &Query{CourseIDs: principal.CourseIDsWithRole(required)}
	if h.StudentsSeeOwnOnly && required == api.CourseRoleStudent {
		// Students only see their own rows; tutor courses stay unscoped.
		q.CourseIDs = principal.CourseIDsWithRole(api.CourseRoleTutor)
		q.SelfUserID = principal.UserID
	}
	if q.Empty() {
		return nil, fmt.Errorf("%s %s: %w", action, h.Resource, ErrForbidden)
	}
	return q, nil
}

// ResultHandler scopes test results: tutors see their courses' results,
// students only rows attached to their own membership.
type ResultHandler struct{}

func (h *ResultHandler) CanPerform(_ context.Context, principal *auth.Principal, action, _ string, rc *RequestContext) (bool, error) {
	if principal.HasGeneralPermission(EntityResult, action) {
		return true, nil
	}
	if rc == nil || rc.CourseID == "" {
		return false, nil
	}
	if principal.HasCourseRole(rc.CourseID, api.CourseRoleTutor) {
		return true, nil
	}
	if !principal.HasCourseRole(rc.CourseID, api.CourseRoleStudent) {
		return false, nil
	}
	// Students may read and create only their own results.
	if rc.OwnerUserID == "" || !principal.IsSelf(rc.OwnerUserID) {
		return false, nil
	}
	return action == ActionGet || action == ActionList || action == ActionCreate, nil
}

func (h *ResultHandler) BuildQuery(principal *auth.Principal, action string) (*Query, error) {
	if principal.HasGeneralPermission(EntityResult, action) {
		return &Query{Unrestricted: true}, nil
	}
	q := &Query{
		CourseIDs:  principal.CourseIDsWithRole(api.CourseRoleTutor),
		SelfUserID: principal.UserID,
	}
	if q.Empty() {
		return nil, fmt.Errorf("%s results: %w", action, ErrForbidden)
	}
	return q, nil
}

// ReadOnlyHandler admits get/list for every authenticated principal; any
// other action needs an explicit claim.
type ReadOnlyHandler struct {
	Resource string
}

func (h *ReadOnlyHandler) CanPerform(_ context.Context, principal *auth.Principal, action, resourceID string, _ *RequestContext) (bool, error) {
	if action == ActionGet || action == ActionList {
		return true, nil
	}
	if resourceID != "" && principal.HasDependentPermission(h.Resource, action, resourceID) {
		return true, nil
	}
	return principal.HasGeneralPermission(h.Resource, action), nil
}

func (h *ReadOnlyHandler) BuildQuery(principal *auth.Principal, action string) (*Query, error) {
	if action == ActionGet || action == ActionList {
		return &Query{Unrestricted: true}, nil
	}
	if !principal.HasGeneralPermission(h.Resource, action) {
		return nil, fmt.Errorf("%s %s: %w", action, h.Resource, ErrForbidden)
	}
	return &Query{Unrestricted: true}, nil
}

// DefaultRegistry wires the handler families to the entity set.
func DefaultRegistry(members MembershipSource) *Registry {
	r := NewRegistry()
	r.Register(EntityUser, &SelfOrTutorHandler{Resource: EntityUser, Members: members})
	r.Register(EntityAccount, &SelfOrTutorHandler{Resource: EntityAccount, Members: members})
	r.Register(EntityProfile, &SelfOrTutorHandler{Resource: EntityProfile, Members: members})

	for _, entity := range []string{EntityOrganization, EntityCourseFamily, EntityCourse, EntityCourseContent, EntityCourseContentType, EntityCourseGroup} {
		r.Register(entity, &CourseScopedHandler{Resource: entity})
	}
	r.Register(EntityCourseMember, &CourseScopedHandler{Resource: EntityCourseMember, StudentsSeeOwnOnly: true})
	r.Register(EntityResult, &ResultHandler{})

	for _, entity := range []string{EntityCourseRole, EntityCourseContentKind, EntityExample, EntityExampleRepository, EntityExampleVersion} {
		r.Register(entity, &ReadOnlyHandler{Resource: entity})
	}
	r.Register(EntityExecutionBackend, &GenericHandler{Resource: EntityExecutionBackend})
	return r
}
