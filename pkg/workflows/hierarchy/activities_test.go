package hierarchy

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/computor-org/computor/pkg/api"
	"github.com/computor-org/computor/pkg/config"
	"github.com/computor-org/computor/pkg/store"
)

type fakeHost struct {
	groupIDs  map[string]int
	projects  map[string]int
	groupCall int
}

func (f *fakeHost) EnsureGroup(_ context.Context, name, path, fullPath string, parentID *int) (*gitlab.Group, error) {
	f.groupCall++
	id, ok := f.groupIDs[fullPath]
	if !ok {
		id = 100 + f.groupCall
	}
	return &gitlab.Group{ID: id, FullPath: fullPath, WebURL: "https://git.example.com/" + fullPath}, nil
}

func (f *fakeHost) EnsureProject(_ context.Context, name, path, fullPath string, namespaceID int) (*gitlab.Project, error) {
	id, ok := f.projects[fullPath]
	if !ok {
		id = 200 + len(f.projects)
	}
	return &gitlab.Project{ID: id, PathWithNamespace: fullPath, WebURL: "https://git.example.com/" + fullPath}, nil
}

func (f *fakeHost) UnprotectDefaultBranches(_ context.Context, projectID int) error { return nil }

func newMockActivities(t *testing.T, host Host) (*Activities, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	a := &Activities{
		Store:  store.New(sqlx.NewDb(db, "pgx"), nil),
		Logger: logrus.NewEntry(logger),
	}
	if host != nil {
		a.NewHost = func(url, token string, logger *logrus.Entry) (Host, error) { return host, nil }
	}
	return a, mock
}

func TestContentKindOnlyAssignmentsSubmittable(t *testing.T) {
	if !contentKind("assignment").Submittable {
		t.Error("assignment kind must be submittable")
	}
	if contentKind("unit").Submittable {
		t.Error("unit kind must not be submittable")
	}
}

func orgColumns() []string {
	return []string{"id", "version", "created_at", "updated_at", "created_by", "updated_by", "properties", "path", "title", "organization_type"}
}

func TestReconcileOrganizationCreatesAndRecordsGroup(t *testing.T) {
	host := &fakeHost{groupIDs: map[string]int{"uni": 7}}
	a, mock := newMockActivities(t, host)

	mock.ExpectQuery("FROM organization WHERE path =").
		WithArgs("uni").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO organization").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE organization SET").
		WillReturnResult(sqlmock.NewResult(0, 1))

	out, err := a.ReconcileOrganization(context.Background(), orgInput{
		Path:   "uni",
		Title:  "University",
		GitLab: &config.GitLabConfig{URL: "https://git.example.com", Token: "t"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Group == nil || out.Group.GroupID != 7 {
		t.Errorf("expected group 7 recorded, got %+v", out.Group)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestReconcileOrganizationSkipsRemoteWhenRecorded(t *testing.T) {
	host := &fakeHost{}
	a, mock := newMockActivities(t, host)

	now := time.Now()
	props := []byte(`{"gitlab":{"group_id":7,"namespace_path":"uni","web_url":"https://git.example.com/uni"}}`)
	mock.ExpectQuery("FROM organization WHERE path =").
		WithArgs("uni").
		WillReturnRows(sqlmock.NewRows(orgColumns()).
			AddRow("org1", 1, now, now, nil, nil, props, "uni", "University", "organization"))

	out, err := a.ReconcileOrganization(context.Background(), orgInput{
		Path:   "uni",
		GitLab: &config.GitLabConfig{URL: "https://git.example.com", Token: "t"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if host.groupCall != 0 {
		t.Errorf("remote group creation should be skipped, got %d calls", host.groupCall)
	}
	if out.Group == nil || out.Group.GroupID != 7 {
		t.Errorf("expected recorded group to be returned, got %+v", out.Group)
	}
}

func TestReconcileCourseProvisionsProjects(t *testing.T) {
	host := &fakeHost{groupIDs: map[string]int{"uni/prog/prog1": 30, "uni/prog/prog1/students": 31}}
	a, mock := newMockActivities(t, host)

	mock.ExpectQuery("FROM course WHERE course_family_id =").
		WithArgs("fam1", "prog1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO course").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE course SET").
		WillReturnResult(sqlmock.NewResult(0, 1))

	out, err := a.ReconcileCourse(context.Background(), courseInput{
		OrganizationID: "org1",
		CourseFamilyID: "fam1",
		Parent:         &api.GitlabGroupInfo{GroupID: 20, NamespacePath: "uni/prog"},
		GitLab:         &config.GitLabConfig{URL: "https://git.example.com", Token: "t"},
		Path:           "prog1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Projects == nil {
		t.Fatal("expected projects to be provisioned")
	}
	if out.Projects.GroupID != 30 || out.Projects.StudentsGroupID != 31 {
		t.Errorf("unexpected groups: %+v", out.Projects)
	}
	if len(out.Projects.Projects) != len(courseProjectNames) {
		t.Errorf("expected %d projects, got %d", len(courseProjectNames), len(out.Projects.Projects))
	}
	for _, name := range courseProjectNames {
		if _, ok := out.Projects.Projects[name]; !ok {
			t.Errorf("project %s missing", name)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestEnsureCourseRolesInsertsBuiltins(t *testing.T) {
	a, mock := newMockActivities(t, nil)
	for i := 0; i < 5; i++ {
		mock.ExpectExec("INSERT INTO course_role").
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	if err := a.EnsureCourseRoles(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestReconcileUserRejectsUndeclaredCourse(t *testing.T) {
	a, mock := newMockActivities(t, nil)
	now := time.Now()
	mock.ExpectQuery(`FROM "user" WHERE username =`).
		WithArgs("bob").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "version", "created_at", "updated_at", "created_by", "updated_by", "properties",
			"given_name", "family_name", "email", "username", "user_type", "token_expiration", "archived",
		}).AddRow("u1", 1, now, now, nil, nil, []byte(`{}`), "", "", "bob@example.com", "bob", "user", nil, false))

	err := a.ReconcileUser(context.Background(), userInput{
		User: config.UserConfig{
			Username: "bob",
			Email:    "bob@example.com",
			CourseMembers: []config.CourseMemberConfig{
				{Course: "uni.prog.other", Role: "_student", Group: "Group A"},
			},
		},
		CourseIDs: map[string]string{"uni.prog.prog1": "course1"},
	})
	if err == nil {
		t.Error("expected an error for a membership in an undeclared course")
	}
}
