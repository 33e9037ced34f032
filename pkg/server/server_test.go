package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/computor-org/computor/pkg/api"
	"github.com/computor-org/computor/pkg/auth"
	"github.com/computor-org/computor/pkg/authz"
	"github.com/computor-org/computor/pkg/deployment"
	"github.com/computor-org/computor/pkg/executor"
	"github.com/computor-org/computor/pkg/store"
	"github.com/computor-org/computor/pkg/workflows/studenttemplate"
)

type fakeSubmitter struct {
	submissions []executor.Submission
	id          string
	err         error
}

func (f *fakeSubmitter) Submit(_ context.Context, sub executor.Submission) (string, error) {
	f.submissions = append(f.submissions, sub)
	if f.err != nil {
		return "", f.err
	}
	if f.id == "" {
		return "wf-1", nil
	}
	return f.id, nil
}

type fakeBasic struct {
	users map[string]string
}

func (f *fakeBasic) VerifyBasic(_ context.Context, username, password string) (string, error) {
	userID, ok := f.users[username+":"+password]
	if !ok {
		return "", errors.New("invalid credentials")
	}
	return userID, nil
}

// fakePrincipalSource feeds the principal builder without SQL.
type fakePrincipalSource struct {
	roles map[string][]api.Role
}

func (f *fakePrincipalSource) RolesForUser(_ context.Context, userID string) ([]api.Role, error) {
	return f.roles[userID], nil
}

func (f *fakePrincipalSource) ClaimsForUser(_ context.Context, _ string) ([]api.RoleClaim, error) {
	return nil, nil
}

func (f *fakePrincipalSource) CourseMembersForUser(_ context.Context, _ string) ([]api.CourseMember, error) {
	return nil, nil
}

type testServer struct {
	server    *Server
	handler   http.Handler
	mock      sqlmock.Sqlmock
	submitter *fakeSubmitter
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	entry := logrus.NewEntry(logger)

	st := store.New(sqlx.NewDb(db, "pgx"), entry)
	source := &fakePrincipalSource{roles: map[string][]api.Role{
		"admin-user": {{Base: api.Base{ID: "_admin"}, Title: "admin"}},
		"plain-user": nil,
	}}
	submitter := &fakeSubmitter{}
	authenticator := &Authenticator{
		Store:   st,
		Builder: auth.NewBuilder(source, nil, entry),
		Basic: &fakeBasic{users: map[string]string{
			"admin:secret": "admin-user",
			"bob:secret":   "plain-user",
		}},
		Logger: entry,
	}
	srv, err := New(Options{
		Store:         st,
		Deployments:   deployment.NewService(st, entry),
		Executor:      submitter,
		Authenticator: authenticator,
		Authz:         authz.DefaultRegistry(st),
		Logger:        entry,
	})
	if err != nil {
		t.Fatalf("failed to build server: %v", err)
	}
	return &testServer{server: srv, handler: srv.Routes(), mock: mock, submitter: submitter}
}

func basicAuth(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}

func (ts *testServer) do(t *testing.T, method, target, authHeader string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func deploymentListColumns() []string {
	return []string{"id", "version", "created_at", "updated_at", "created_by", "updated_by", "properties",
		"course_content_id", "example_version_id", "example_identifier", "version_tag", "version_identifier",
		"deployment_status", "deployment_path", "deployment_message", "assigned_at", "deployed_at",
		"last_attempt_at", "workflow_id", "content_path", "content_title"}
}

func TestStatusFor(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		want int
	}{
		{"bad request", badRequest(errors.New("nope")), http.StatusBadRequest},
		{"validation", &store.ValidationError{Field: "field", Reason: "reason"}, http.StatusBadRequest},
		{"forbidden", authz.ErrForbidden, http.StatusForbidden},
		{"not found", store.ErrNotFound, http.StatusNotFound},
		{"version conflict", store.ErrVersionConflict, http.StatusConflict},
		{"transition", &deployment.TransitionError{From: api.DeploymentDeployed, To: api.DeploymentDeployed}, http.StatusConflict},
		{"upstream", ErrUpstream, http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := statusFor(tc.err); got != tc.want {
				t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestHealthzIsUnauthenticated(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestMissingCredentialsAreRejected(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/courses/c1/pending-changes", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestUnsupportedSchemeIsRejected(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/courses/c1/pending-changes", "Digest abc", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestPendingChanges(t *testing.T) {
	ts := newTestServer(t)
	now := time.Now()
	ts.mock.ExpectQuery("FROM course_content_deployment d").
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(deploymentListColumns()).
			AddRow("d1", 1, now, now, nil, nil, []byte(`{}`), "cc1", "v1", "physics.kinematics", "1.1", nil,
				"pending", nil, nil, now, nil, nil, nil, "unit1.sheet1", "Sheet 1").
			// Previously deployed, then unassigned: deployed_at is cleared
			// but the released commit is still recorded.
			AddRow("d2", 3, now, now, nil, nil, []byte(`{}`), "cc2", nil, "physics.optics", "1.0", "sha-1",
				"unassigned", "unit1.sheet2", nil, now, nil, nil, nil, "unit1.sheet2", "Sheet 2").
			AddRow("d3", 2, now, now, nil, nil, []byte(`{}`), "cc3", nil, nil, nil, nil,
				"deployed", nil, nil, now, now, nil, nil, "unit1.sheet3", "Sheet 3").
			// Never deployed and unassigned again: nothing to remove.
			AddRow("d4", 1, now, now, nil, nil, []byte(`{}`), "cc4", nil, "physics.waves", "1.0", nil,
				"unassigned", nil, nil, now, nil, nil, nil, "unit1.sheet4", "Sheet 4"))

	rec := ts.do(t, http.MethodGet, "/courses/c1/pending-changes", basicAuth("admin", "secret"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		TotalChanges int             `json:"total_changes"`
		Changes      []pendingChange `json:"changes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if body.TotalChanges != 2 {
		t.Fatalf("expected 2 changes, got %d: %+v", body.TotalChanges, body.Changes)
	}
	if body.Changes[0].Type != "new" || body.Changes[0].ContentID != "cc1" || body.Changes[0].ToVersion != "1.1" {
		t.Errorf("unexpected first change: %+v", body.Changes[0])
	}
	if body.Changes[1].Type != "remove" || body.Changes[1].ContentID != "cc2" {
		t.Errorf("unexpected second change: %+v", body.Changes[1])
	}
}

func TestGenerateTemplateStartsWorkflow(t *testing.T) {
	ts := newTestServer(t)
	now := time.Now()
	properties := `{"gitlab":{"group_id":30,"namespace_path":"uni/prog1","web_url":"https://git.example.com/uni/prog1",` +
		`"students_group_id":31,"projects":{` +
		`"student-template":{"project_id":41,"full_path":"uni/prog1/student-template","web_url":"https://git.example.com/uni/prog1/student-template"},` +
		`"assignments":{"project_id":42,"full_path":"uni/prog1/assignments","web_url":"https://git.example.com/uni/prog1/assignments"}}}}`
	ts.mock.ExpectQuery("FROM course WHERE id =").
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "created_at", "updated_at", "created_by", "updated_by",
			"properties", "course_family_id", "organization_id", "path", "title"}).
			AddRow("c1", 1, now, now, nil, nil, []byte(properties), "f1", "o1", "prog1", "Programming 1"))
	ts.mock.ExpectQuery("FROM course_content_deployment d").
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(deploymentListColumns()).
			AddRow("d1", 1, now, now, nil, nil, []byte(`{}`), "cc1", "v1", "physics.kinematics", "1.1", nil,
				"pending", nil, nil, now, nil, nil, nil, "unit1.sheet1", "Sheet 1").
			AddRow("d2", 1, now, now, nil, nil, []byte(`{}`), "cc2", "v2", "physics.optics", "1.0", "sha",
				"deployed", nil, nil, now, now, nil, nil, "unit1.sheet2", "Sheet 2"))

	rec := ts.do(t, http.MethodPost, "/courses/c1/generate-student-template",
		basicAuth("admin", "secret"), strings.NewReader(`{"commit_message":"release week 3"}`))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		WorkflowID        string `json:"workflow_id"`
		Status            string `json:"status"`
		ContentsToProcess int    `json:"contents_to_process"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if body.WorkflowID != "wf-1" || body.Status != "started" {
		t.Errorf("unexpected response: %+v", body)
	}
	if body.ContentsToProcess != 1 {
		t.Errorf("expected 1 content to process, got %d", body.ContentsToProcess)
	}

	if len(ts.submitter.submissions) != 1 {
		t.Fatalf("expected one submission, got %d", len(ts.submitter.submissions))
	}
	sub := ts.submitter.submissions[0]
	if sub.Name != studenttemplate.WorkflowName {
		t.Errorf("expected workflow %q, got %q", studenttemplate.WorkflowName, sub.Name)
	}
	req, ok := sub.Args[0].(studenttemplate.Request)
	if !ok {
		t.Fatalf("unexpected argument type %T", sub.Args[0])
	}
	if req.StudentTemplateURL != "https://git.example.com/uni/prog1/student-template.git" {
		t.Errorf("unexpected template url %q", req.StudentTemplateURL)
	}
	if req.CommitMessage != "release week 3" {
		t.Errorf("unexpected commit message %q", req.CommitMessage)
	}
}

func TestAssignExampleRequiresExampleID(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/course-contents/cc1/assign-example",
		basicAuth("admin", "secret"), strings.NewReader(`{"example_version":"1.0"}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDeployFromConfigRequiresAdmin(t *testing.T) {
	ts := newTestServer(t)
	doc := `{"organizations":[{"path":"uni","title":"University"}]}`
	rec := ts.do(t, http.MethodPost, "/deploy/from-config", basicAuth("bob", "secret"), strings.NewReader(doc))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(ts.submitter.submissions) != 0 {
		t.Errorf("no workflow must be submitted for a forbidden request")
	}
}

func TestDeployFromConfigStartsHierarchyWorkflow(t *testing.T) {
	ts := newTestServer(t)
	doc := `{"organizations":[{"path":"uni","title":"University"}]}`
	rec := ts.do(t, http.MethodPost, "/deploy/from-config", basicAuth("admin", "secret"), strings.NewReader(doc))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(ts.submitter.submissions) != 1 {
		t.Fatalf("expected one submission, got %d", len(ts.submitter.submissions))
	}
}

func TestAuthenticateCachesNothingOnFailure(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/courses/c1/pending-changes", basicAuth("admin", "wrong"), nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}
