package studenttemplate

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"
	"github.com/jmoiron/sqlx"

	"github.com/computor-org/computor/pkg/api"
	"github.com/computor-org/computor/pkg/gitrepo"
	"github.com/computor-org/computor/pkg/store"
)

func TestReleaseCommitFor(t *testing.T) {
	r := &Release{
		GlobalCommit: "global-sha",
		Overrides: []CommitOverride{
			{CourseContentID: "cc2", VersionIdentifier: "pinned-sha"},
		},
	}
	if got := r.commitFor("cc2"); got != "pinned-sha" {
		t.Errorf("override should win, got %q", got)
	}
	if got := r.commitFor("cc1"); got != "global-sha" {
		t.Errorf("global commit should apply, got %q", got)
	}
	empty := &Release{}
	if got := empty.commitFor("cc1"); got != "" {
		t.Errorf("expected empty pin, got %q", got)
	}
}

func TestReleaseIncludeDescendantsDefault(t *testing.T) {
	r := &Release{ParentID: "cc1"}
	if !r.includeDescendants() {
		t.Error("descendants should be included by default")
	}
	no := false
	r.IncludeDescendants = &no
	if r.includeDescendants() {
		t.Error("explicit false should be honored")
	}
}

func newMockActivities(t *testing.T) (*Activities, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s := store.New(sqlx.NewDb(db, "pgx"), nil)
	return &Activities{Store: s}, mock
}

func deploymentRows(rows ...[]driverValue) *sqlmock.Rows {
	out := sqlmock.NewRows([]string{"id", "version", "course_content_id", "example_version_id", "deployment_status", "content_path", "content_title"})
	for _, r := range rows {
		out.AddRow(r[0], r[1], r[2], r[3], r[4], r[5], r[6])
	}
	return out
}

type driverValue = interface{}

func strPtr(s string) *string { return &s }

func TestSelectContentsDefaultSelection(t *testing.T) {
	a, mock := newMockActivities(t)
	mock.ExpectQuery("FROM course_content_deployment d").
		WithArgs("course1").
		WillReturnRows(deploymentRows(
			[]driverValue{"d1", 1, strPtr("cc1"), strPtr("ev1"), "pending", "week1.a", "A"},
			[]driverValue{"d2", 1, strPtr("cc2"), strPtr("ev2"), "failed", "week1.b", "B"},
			[]driverValue{"d3", 1, strPtr("cc3"), strPtr("ev3"), "deployed", "week2.c", "C"},
			[]driverValue{"d4", 1, strPtr("cc4"), nil, "unassigned", "week2.d", "D"},
		))

	selected, err := a.SelectContents(context.Background(), Request{CourseID: "course1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"cc1", "cc2"}, selected); diff != "" {
		t.Errorf("unexpected selection: %s", diff)
	}
}

func TestSelectContentsForceIncludesDeployed(t *testing.T) {
	a, mock := newMockActivities(t)
	mock.ExpectQuery("FROM course_content_deployment d").
		WithArgs("course1").
		WillReturnRows(deploymentRows(
			[]driverValue{"d1", 1, strPtr("cc1"), strPtr("ev1"), "deployed", "week1.a", "A"},
		))

	selected, err := a.SelectContents(context.Background(), Request{CourseID: "course1", ForceRedeploy: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"cc1"}, selected); diff != "" {
		t.Errorf("unexpected selection: %s", diff)
	}
}

func TestSelectContentsExplicitIDs(t *testing.T) {
	a, mock := newMockActivities(t)
	mock.ExpectQuery("FROM course_content_deployment d").
		WithArgs("course1").
		WillReturnRows(deploymentRows(
			[]driverValue{"d1", 1, strPtr("cc1"), strPtr("ev1"), "deployed", "week1.a", "A"},
			[]driverValue{"d2", 1, strPtr("cc2"), strPtr("ev2"), "pending", "week1.b", "B"},
		))

	selected, err := a.SelectContents(context.Background(), Request{
		CourseID: "course1",
		Release:  &Release{CourseContentIDs: []string{"cc1"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Explicit selection reaches deployed contents even without force.
	if diff := cmp.Diff([]string{"cc1"}, selected); diff != "" {
		t.Errorf("unexpected selection: %s", diff)
	}
}

func TestSelectContentsParentSubtree(t *testing.T) {
	a, mock := newMockActivities(t)
	mock.ExpectQuery("FROM course_content_deployment d").
		WithArgs("course1").
		WillReturnRows(deploymentRows(
			[]driverValue{"d1", 1, strPtr("cc1"), strPtr("ev1"), "deployed", "week1", "Week 1"},
			[]driverValue{"d2", 1, strPtr("cc2"), strPtr("ev2"), "deployed", "week1.a", "A"},
			[]driverValue{"d3", 1, strPtr("cc3"), strPtr("ev3"), "deployed", "week2.b", "B"},
		))
	mock.ExpectQuery("FROM course_content WHERE id =").
		WithArgs("cc1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "course_id", "path", "title"}).
			AddRow("cc1", 1, "course1", "week1", "Week 1"))

	selected, err := a.SelectContents(context.Background(), Request{
		CourseID: "course1",
		Release:  &Release{ParentID: "cc1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"cc1", "cc2"}, selected); diff != "" {
		t.Errorf("unexpected selection: %s", diff)
	}
}

func TestEnsureDeploymentPathPrefersExisting(t *testing.T) {
	a, _ := newMockActivities(t)
	existing := api.Path("week1.intro")
	d := &api.CourseContentDeployment{DeploymentPath: &existing}

	got, err := a.ensureDeploymentPath(context.Background(), "cc1", d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != existing {
		t.Errorf("expected existing path, got %s", got)
	}
}

func TestEnsureDeploymentPathRejectsMissingIdentifier(t *testing.T) {
	a, _ := newMockActivities(t)
	if _, err := a.ensureDeploymentPath(context.Background(), "cc1", &api.CourseContentDeployment{}); err == nil {
		t.Error("expected an error when nothing can derive the path")
	}
}

type fakeLibrary struct {
	trees map[string]map[string][]byte
}

func (f *fakeLibrary) DownloadTree(_ context.Context, prefix string) (map[string][]byte, error) {
	return f.trees[prefix], nil
}

func versionColumns() []string {
	return []string{"id", "version", "created_at", "updated_at", "created_by", "updated_by", "properties",
		"example_id", "version_tag", "version_number", "storage_path", "meta_yaml", "test_yaml"}
}

func TestStoredTreeFetchesFromLibrary(t *testing.T) {
	a, mock := newMockActivities(t)
	a.Library = &fakeLibrary{trees: map[string]map[string][]byte{
		"examples/E/v1": {"solution.py": []byte("# TODO")},
	}}

	now := time.Now()
	mock.ExpectQuery("FROM example_version WHERE id =").
		WithArgs("v1").
		WillReturnRows(sqlmock.NewRows(versionColumns()).
			AddRow("v1", 1, now, now, nil, nil, []byte(`{}`), "e1", "1.0", 1, "examples/E/v1", "slug: demo", nil))

	versionID := "v1"
	tree, err := a.storedTree(context.Background(), &api.CourseContentDeployment{ExampleVersionID: &versionID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(tree["solution.py"]) != "# TODO" {
		t.Errorf("unexpected tree: %v", tree)
	}
}

func TestStoredTreeWithoutLibrary(t *testing.T) {
	a, _ := newMockActivities(t)
	versionID := "v1"
	tree, err := a.storedTree(context.Background(), &api.CourseContentDeployment{ExampleVersionID: &versionID})
	if err != nil || tree != nil {
		t.Errorf("expected a nil tree without a configured library, got %v, %v", tree, err)
	}
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

// seededRepo builds a local repository with one commit. The remote is never
// contacted.
func seededRepo(t *testing.T, files map[string][]byte) *gitrepo.Repo {
	t.Helper()
	ctx := context.Background()
	repo, err := gitrepo.InitWithRemote(ctx, "unused-origin", filepath.Join(t.TempDir(), "repo"), nil)
	if err != nil {
		t.Fatalf("failed to init repository: %v", err)
	}
	if err := repo.SetIdentity(ctx, gitrepo.Identity{Name: "bot", Email: "bot@example.com"}); err != nil {
		t.Fatalf("failed to set identity: %v", err)
	}
	if err := repo.WriteTree(files); err != nil {
		t.Fatalf("failed to write files: %v", err)
	}
	if _, err := repo.CommitAll(ctx, "seed"); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
	return repo
}

func deploymentColumnsForContent() []string {
	return []string{"id", "version", "created_at", "updated_at", "created_by", "updated_by", "properties",
		"course_content_id", "example_version_id", "example_identifier", "version_tag", "version_identifier",
		"deployment_status", "deployment_path", "deployment_message", "assigned_at", "deployed_at",
		"last_attempt_at", "workflow_id"}
}

func TestReleaseContentRecordsAssignmentsCommit(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	a, mock := newMockActivities(t)

	assignments := seededRepo(t, map[string][]byte{"week1/intro/solution.py": []byte("print('hi')")})
	templateRepo := seededRepo(t, map[string][]byte{"README.md": []byte("template")})

	assignmentsHead, err := assignments.HeadSHA(ctx)
	if err != nil {
		t.Fatalf("failed to resolve assignments HEAD: %v", err)
	}
	templateHead, err := templateRepo.HeadSHA(ctx)
	if err != nil {
		t.Fatalf("failed to resolve template HEAD: %v", err)
	}

	now := time.Now()
	mock.ExpectQuery("FROM course_content_deployment").
		WithArgs("cc1").
		WillReturnRows(sqlmock.NewRows(deploymentColumnsForContent()).
			AddRow("d1", 1, now, now, nil, nil, []byte(`{}`), "cc1", "v1", "physics.kinematics", "1.0", nil,
				"deploying", "week1.intro", nil, now, nil, nil, "wf-1"))
	mock.ExpectQuery("FROM course_content WHERE id =").
		WithArgs("cc1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "course_id", "path", "title"}).
			AddRow("cc1", 1, "course1", "unit1.sheet1", "Intro"))
	mock.ExpectQuery("FROM example_version WHERE id =").
		WithArgs("v1").
		WillReturnRows(sqlmock.NewRows(versionColumns()).
			AddRow("v1", 1, now, now, nil, nil, []byte(`{}`), "e1", "1.0", 1, "", "slug: demo", nil))

	entry, commit, err := a.releaseContent(ctx, buildInput{WorkflowID: "wf-1"}, "cc1", assignments, assignmentsHead, templateRepo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if commit != assignmentsHead {
		t.Errorf("expected the assignments commit %s, got %s", assignmentsHead, commit)
	}
	if commit == templateHead {
		t.Error("the recorded commit must come from the assignments repository, not the student template")
	}
	if entry.DeploymentPath != api.Path("week1/intro") {
		t.Errorf("unexpected deployment path %s", entry.DeploymentPath)
	}
	if _, err := os.Stat(filepath.Join(templateRepo.Dir(), "week1", "intro", "solution.py")); err != nil {
		t.Errorf("released file missing from the template tree: %v", err)
	}
}

func TestFinalizeDeploymentsRequiresCommit(t *testing.T) {
	a, _ := newMockActivities(t)
	err := a.FinalizeDeployments(context.Background(), markInput{WorkflowID: "wf-1", ContentIDs: []string{"cc1"}})
	if err == nil {
		t.Error("expected an error when no assignments commit is recorded")
	}
}
