package authz

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/computor-org/computor/pkg/api"
	"github.com/computor-org/computor/pkg/auth"
)

type fakeMembers struct {
	byUser map[string][]api.CourseMember
}

func (f *fakeMembers) CourseMembersForUser(_ context.Context, userID string) ([]api.CourseMember, error) {
	return f.byUser[userID], nil
}

func principalWithCourses(t *testing.T, userID string, courses map[string]string) *auth.Principal {
	t.Helper()
	claims := auth.NewClaims()
	for courseID, role := range courses {
		claims.AddCourseRole(courseID, role)
	}
	return auth.NewPrincipal(&userID, nil, claims, nil)
}

func TestCourseScopedListMergesCourses(t *testing.T) {
	p := principalWithCourses(t, "u1", map[string]string{
		"c1": api.CourseRoleStudent,
		"c2": api.CourseRoleTutor,
	})
	r := DefaultRegistry(&fakeMembers{})

	q, err := r.CheckPermissions(p, EntityCourseContent, ActionList)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Unrestricted {
		t.Error("expected a restricted query")
	}
	sort.Strings(q.CourseIDs)
	if diff := cmp.Diff([]string{"c1", "c2"}, q.CourseIDs); diff != "" {
		t.Errorf("unexpected course ids: %s", diff)
	}
}

func TestCourseScopedUpdateRequiresMaintainer(t *testing.T) {
	p := principalWithCourses(t, "u1", map[string]string{
		"c1": api.CourseRoleStudent,
		"c2": api.CourseRoleTutor,
	})
	r := DefaultRegistry(&fakeMembers{})

	if _, err := r.CheckPermissions(p, EntityCourseContent, ActionUpdate); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}

	maintainer := principalWithCourses(t, "u2", map[string]string{"c3": api.CourseRoleMaintainer})
	q, err := r.CheckPermissions(maintainer, EntityCourseContent, ActionUpdate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"c3"}, q.CourseIDs); diff != "" {
		t.Errorf("unexpected course ids: %s", diff)
	}
}

func TestAdminBypassesEverything(t *testing.T) {
	userID := "admin"
	p := auth.NewPrincipal(&userID, []string{"user_admin"}, auth.NewClaims(), nil)
	r := NewRegistry()

	q, err := r.CheckPermissions(p, "unregistered_entity", ActionDelete)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.Unrestricted {
		t.Error("expected unrestricted query for admin")
	}
	if err := r.CanPerform(context.Background(), p, "unregistered_entity", ActionDelete, "x", nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestUnregisteredEntityRejected(t *testing.T) {
	p := principalWithCourses(t, "u1", map[string]string{"c1": api.CourseRoleOwner})
	r := NewRegistry()
	if _, err := r.CheckPermissions(p, "mystery", ActionGet); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestSelfOrTutor(t *testing.T) {
	members := &fakeMembers{byUser: map[string][]api.CourseMember{
		"student": {{CourseID: "c1", UserID: "student", CourseRoleID: api.CourseRoleStudent}},
		"outside": {{CourseID: "c9", UserID: "outside", CourseRoleID: api.CourseRoleStudent}},
	}}
	r := DefaultRegistry(members)
	tutor := principalWithCourses(t, "tutor", map[string]string{"c1": api.CourseRoleTutor})

	testCases := []struct {
		name    string
		target  string
		allowed bool
	}{
		{name: "self", target: "tutor", allowed: true},
		{name: "student in own course", target: "student", allowed: true},
		{name: "user outside courses", target: "outside", allowed: false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := r.CanPerform(context.Background(), tutor, EntityUser, ActionGet, tc.target, nil)
			if tc.allowed && err != nil {
				t.Errorf("expected access, got %v", err)
			}
			if !tc.allowed && !errors.Is(err, ErrForbidden) {
				t.Errorf("expected ErrForbidden, got %v", err)
			}
		})
	}
}

func TestResultQueries(t *testing.T) {
	r := DefaultRegistry(&fakeMembers{})

	student := principalWithCourses(t, "u1", map[string]string{"c1": api.CourseRoleStudent})
	q, err := r.CheckPermissions(student, EntityResult, ActionList)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(q.CourseIDs) != 0 || q.SelfUserID == nil || *q.SelfUserID != "u1" {
		t.Errorf("student should only see own results, got %+v", q)
	}

	tutor := principalWithCourses(t, "u2", map[string]string{"c1": api.CourseRoleTutor, "c2": api.CourseRoleStudent})
	q, err = r.CheckPermissions(tutor, EntityResult, ActionList)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"c1"}, q.CourseIDs); diff != "" {
		t.Errorf("tutor courses mismatch: %s", diff)
	}
}

func TestResultStudentCannotReadOthers(t *testing.T) {
	r := DefaultRegistry(&fakeMembers{})
	student := principalWithCourses(t, "u1", map[string]string{"c1": api.CourseRoleStudent})

	err := r.CanPerform(context.Background(), student, EntityResult, ActionGet, "r1",
		&RequestContext{CourseID: "c1", OwnerUserID: "someone-else"})
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	err = r.CanPerform(context.Background(), student, EntityResult, ActionGet, "r1",
		&RequestContext{CourseID: "c1", OwnerUserID: "u1"})
	if err != nil {
		t.Errorf("unexpected error reading own result: %v", err)
	}
}

func TestReadOnlyEntities(t *testing.T) {
	r := DefaultRegistry(&fakeMembers{})
	p := principalWithCourses(t, "u1", map[string]string{"c1": api.CourseRoleStudent})

	if _, err := r.CheckPermissions(p, EntityCourseContentKind, ActionList); err != nil {
		t.Errorf("list should be open to authenticated principals: %v", err)
	}
	if _, err := r.CheckPermissions(p, EntityExample, ActionCreate); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for create, got %v", err)
	}

	claims := auth.NewClaims()
	claims.AddGeneral(EntityExample, ActionCreate)
	userID := "author"
	author := auth.NewPrincipal(&userID, nil, claims, nil)
	if _, err := r.CheckPermissions(author, EntityExample, ActionCreate); err != nil {
		t.Errorf("explicit claim should allow create: %v", err)
	}
}

func TestCheckParentRefs(t *testing.T) {
	claims := auth.NewClaims()
	claims.AddDependent(EntityExecutionBackend, "b1", ActionUse)
	userID := "u1"
	p := auth.NewPrincipal(&userID, nil, claims, nil)

	if err := CheckParentRefs(p, map[string]string{EntityExecutionBackend: "b1"}); err != nil {
		t.Errorf("dependent use claim should satisfy the reference: %v", err)
	}
	if err := CheckParentRefs(p, map[string]string{EntityExecutionBackend: "b2"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for unclaimed backend, got %v", err)
	}
	// Resources outside the claim universe pass through.
	if err := CheckParentRefs(p, map[string]string{"course_content_type": "t1"}); err != nil {
		t.Errorf("unclaimed resource kind should pass: %v", err)
	}
}
