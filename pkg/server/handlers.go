package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/computor-org/computor/pkg/api"
	"github.com/computor-org/computor/pkg/authz"
	"github.com/computor-org/computor/pkg/config"
	"github.com/computor-org/computor/pkg/executor"
	"github.com/computor-org/computor/pkg/workflows/hierarchy"
	"github.com/computor-org/computor/pkg/workflows/studenttemplate"
)

const maxDeploymentDocumentBytes = 4 << 20

type assignRequest struct {
	ExampleID      string `json:"example_id"`
	ExampleVersion string `json:"example_version,omitempty"`
}

// resolveVersion maps the requested tag onto a stored example version.
// Empty and "latest" both select the highest version number.
func (s *Server) resolveVersion(ctx context.Context, exampleID, tag string) (*api.ExampleVersion, error) {
	if tag == "" || tag == "latest" {
		return s.store.LatestExampleVersion(ctx, exampleID)
	}
	return s.store.GetExampleVersionByTag(ctx, exampleID, tag)
}

func (s *Server) assignExample(ctx context.Context, contentID string, req assignRequest) (*api.CourseContentDeployment, error) {
	if req.ExampleID == "" {
		return nil, badRequest(fmt.Errorf("example_id is required"))
	}
	content, err := s.store.GetCourseContent(ctx, contentID)
	if err != nil {
		return nil, err
	}
	principal := PrincipalFrom(ctx)
	if err := s.authz.CanPerform(ctx, principal, authz.EntityCourseContent, authz.ActionUpdate, contentID, &authz.RequestContext{
		CourseID:   content.CourseID,
		ParentRefs: map[string]string{"example": req.ExampleID},
	}); err != nil {
		return nil, err
	}
	example, err := s.store.GetExample(ctx, req.ExampleID)
	if err != nil {
		return nil, err
	}
	version, err := s.resolveVersion(ctx, req.ExampleID, req.ExampleVersion)
	if err != nil {
		return nil, err
	}
	deployment, err := s.deployments.Assign(ctx, contentID, example, version, principal.UserID)
	if err != nil {
		return nil, err
	}
	s.metrics.DeploymentTransitions.WithLabelValues(string(api.DeploymentActionAssigned)).Inc()
	return deployment, nil
}

func (s *Server) handleAssignExample(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, badRequest(fmt.Errorf("invalid request body: %w", err)))
		return
	}
	deployment, err := s.assignExample(r.Context(), chi.URLParam(r, "contentID"), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, http.StatusOK, deployment)
}

func (s *Server) handleRemoveAssignment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	contentID := chi.URLParam(r, "contentID")
	content, err := s.store.GetCourseContent(ctx, contentID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	principal := PrincipalFrom(ctx)
	if err := s.authz.CanPerform(ctx, principal, authz.EntityCourseContent, authz.ActionUpdate, contentID, &authz.RequestContext{
		CourseID: content.CourseID,
	}); err != nil {
		s.writeError(w, err)
		return
	}
	deployment, err := s.deployments.Unassign(ctx, contentID, principal.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.DeploymentTransitions.WithLabelValues(string(api.DeploymentActionUnassigned)).Inc()
	s.respond(w, http.StatusOK, deployment)
}

type bulkAssignRequest struct {
	Assignments []bulkAssignment `json:"assignments"`
}

type bulkAssignment struct {
	CourseContentID string `json:"course_content_id"`
	ExampleID       string `json:"example_id"`
	ExampleVersion  string `json:"example_version,omitempty"`
}

type bulkAssignOutcome struct {
	CourseContentID string `json:"course_content_id"`
	Status          string `json:"status"`
	Error           string `json:"error,omitempty"`
}

// handleBulkAssign applies a list of assignments independently; one failing
// item does not abort the rest.
func (s *Server) handleBulkAssign(w http.ResponseWriter, r *http.Request) {
	var req bulkAssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, badRequest(fmt.Errorf("invalid request body: %w", err)))
		return
	}
	if len(req.Assignments) == 0 {
		s.writeError(w, badRequest(fmt.Errorf("assignments must not be empty")))
		return
	}

	ctx := r.Context()
	outcomes := make([]bulkAssignOutcome, 0, len(req.Assignments))
	failed := 0
	for _, a := range req.Assignments {
		outcome := bulkAssignOutcome{CourseContentID: a.CourseContentID, Status: "assigned"}
		if _, err := s.assignExample(ctx, a.CourseContentID, assignRequest{
			ExampleID:      a.ExampleID,
			ExampleVersion: a.ExampleVersion,
		}); err != nil {
			outcome.Status = "failed"
			outcome.Error = err.Error()
			failed++
		}
		outcomes = append(outcomes, outcome)
	}
	s.respond(w, http.StatusOK, map[string]interface{}{
		"total":   len(outcomes),
		"failed":  failed,
		"results": outcomes,
	})
}

type pendingChange struct {
	Type        string `json:"type"`
	ContentID   string `json:"content_id"`
	Path        string `json:"path"`
	Title       string `json:"title"`
	ExampleName string `json:"example_name,omitempty"`
	FromVersion string `json:"from_version,omitempty"`
	ToVersion   string `json:"to_version,omitempty"`
}

// handlePendingChanges diffs assigned versions against deployed state: a
// release would add never-deployed assignments, update re-assigned or
// superseded ones and remove unassigned contents that are still published.
func (s *Server) handlePendingChanges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	courseID := chi.URLParam(r, "courseID")
	principal := PrincipalFrom(ctx)
	if err := s.authz.CanPerform(ctx, principal, authz.EntityCourse, authz.ActionGet, courseID, &authz.RequestContext{CourseID: courseID}); err != nil {
		s.writeError(w, err)
		return
	}
	deployments, err := s.store.ListCourseDeployments(ctx, courseID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	changes := []pendingChange{}
	for _, d := range deployments {
		if d.CourseContentID == nil {
			continue
		}
		change := pendingChange{
			ContentID: *d.CourseContentID,
			Path:      string(d.ContentPath),
			Title:     d.ContentTitle,
		}
		if d.ExampleIdentifier != nil {
			change.ExampleName = *d.ExampleIdentifier
		}
		switch d.DeploymentStatus {
		case api.DeploymentUnassigned:
			// Unassign clears deployed_at but keeps version_identifier until
			// a release removes the published files.
			if d.VersionIdentifier == nil || *d.VersionIdentifier == "" {
				continue
			}
			change.Type = "remove"
		case api.DeploymentPending, api.DeploymentFailed:
			if d.VersionTag != nil {
				change.ToVersion = *d.VersionTag
			}
			if d.DeployedAt == nil {
				change.Type = "new"
			} else {
				change.Type = "update"
			}
		case api.DeploymentDeployed:
			latest, err := s.latestFor(ctx, d.CourseContentDeployment)
			if err != nil {
				s.writeError(w, err)
				return
			}
			if latest == nil {
				continue
			}
			change.Type = "update"
			if d.VersionTag != nil {
				change.FromVersion = *d.VersionTag
			}
			change.ToVersion = latest.VersionTag
		default:
			continue
		}
		changes = append(changes, change)
	}

	s.respond(w, http.StatusOK, map[string]interface{}{
		"total_changes": len(changes),
		"changes":       changes,
	})
}

// latestFor returns a newer version of the deployed example, or nil when
// the deployment already tracks the latest one.
func (s *Server) latestFor(ctx context.Context, d api.CourseContentDeployment) (*api.ExampleVersion, error) {
	if d.ExampleVersionID == nil {
		return nil, nil
	}
	current, err := s.store.GetExampleVersion(ctx, *d.ExampleVersionID)
	if err != nil {
		return nil, err
	}
	latest, err := s.store.LatestExampleVersion(ctx, current.ExampleID)
	if err != nil {
		return nil, err
	}
	if latest.VersionNumber <= current.VersionNumber {
		return nil, nil
	}
	return latest, nil
}

type generateTemplateRequest struct {
	CommitMessage string                   `json:"commit_message,omitempty"`
	ForceRedeploy bool                     `json:"force_redeploy,omitempty"`
	Release       *studenttemplate.Release `json:"release,omitempty"`
}

// handleGenerateTemplate starts the student template release workflow for a
// course and reports how many contents it is going to touch.
func (s *Server) handleGenerateTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	courseID := chi.URLParam(r, "courseID")
	principal := PrincipalFrom(ctx)
	if err := s.authz.CanPerform(ctx, principal, authz.EntityCourse, authz.ActionUpdate, courseID, &authz.RequestContext{CourseID: courseID}); err != nil {
		s.writeError(w, err)
		return
	}

	var req generateTemplateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, badRequest(fmt.Errorf("invalid request body: %w", err)))
			return
		}
	}

	course, err := s.store.GetCourse(ctx, courseID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	projects, err := course.Properties.GitlabCourse()
	if err != nil || projects == nil {
		s.writeError(w, badRequest(fmt.Errorf("course %s has no provisioned repositories", courseID)))
		return
	}
	template, ok := projects.Projects["student-template"]
	if !ok {
		s.writeError(w, badRequest(fmt.Errorf("course %s has no student-template project", courseID)))
		return
	}
	assignments, ok := projects.Projects["assignments"]
	if !ok {
		s.writeError(w, badRequest(fmt.Errorf("course %s has no assignments project", courseID)))
		return
	}

	count, err := s.countReleasable(ctx, courseID, req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	workflowID, err := s.executor.Submit(ctx, executor.Submission{
		Name:             studenttemplate.WorkflowName,
		ExecutionTimeout: time.Hour,
		Args: []interface{}{studenttemplate.Request{
			CourseID:           courseID,
			StudentTemplateURL: template.WebURL + ".git",
			AssignmentsURL:     assignments.WebURL + ".git",
			CommitMessage:      req.CommitMessage,
			ForceRedeploy:      req.ForceRedeploy,
			Release:            req.Release,
		}},
	})
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", ErrUpstream, err))
		return
	}
	s.metrics.WorkflowSubmissions.WithLabelValues(studenttemplate.WorkflowName).Inc()
	s.respond(w, http.StatusAccepted, map[string]interface{}{
		"workflow_id":         workflowID,
		"status":              "started",
		"contents_to_process": count,
	})
}

// countReleasable mirrors the release workflow's default selection: every
// assigned content that is pending or failed, plus deployed ones when a
// redeploy is forced or an explicit release asks for everything.
func (s *Server) countReleasable(ctx context.Context, courseID string, req generateTemplateRequest) (int, error) {
	if req.Release != nil && len(req.Release.CourseContentIDs) > 0 {
		return len(req.Release.CourseContentIDs), nil
	}
	deployments, err := s.store.ListCourseDeployments(ctx, courseID)
	if err != nil {
		return 0, err
	}
	includeDeployed := req.ForceRedeploy || (req.Release != nil && req.Release.All)
	count := 0
	for _, d := range deployments {
		if d.ExampleVersionID == nil || d.CourseContentID == nil {
			continue
		}
		switch d.DeploymentStatus {
		case api.DeploymentPending, api.DeploymentFailed:
			count++
		case api.DeploymentDeployed:
			if includeDeployed {
				count++
			}
		}
	}
	return count, nil
}

type deploymentStatusEntry struct {
	ContentID       string     `json:"content_id"`
	Path            string     `json:"path"`
	Title           string     `json:"title"`
	Status          string     `json:"status"`
	ExampleName     string     `json:"example_name,omitempty"`
	VersionTag      string     `json:"version_tag,omitempty"`
	DeployedAt      *time.Time `json:"deployed_at,omitempty"`
	Message         string     `json:"message,omitempty"`
	UpdateAvailable bool       `json:"update_available"`
}

func (s *Server) handleDeploymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	courseID := chi.URLParam(r, "courseID")
	principal := PrincipalFrom(ctx)
	if err := s.authz.CanPerform(ctx, principal, authz.EntityCourse, authz.ActionGet, courseID, &authz.RequestContext{CourseID: courseID}); err != nil {
		s.writeError(w, err)
		return
	}
	deployments, err := s.store.ListCourseDeployments(ctx, courseID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	entries := []deploymentStatusEntry{}
	counts := map[string]int{}
	for _, d := range deployments {
		if d.CourseContentID == nil {
			continue
		}
		entry := deploymentStatusEntry{
			ContentID:  *d.CourseContentID,
			Path:       string(d.ContentPath),
			Title:      d.ContentTitle,
			Status:     string(d.DeploymentStatus),
			DeployedAt: d.DeployedAt,
		}
		if d.ExampleIdentifier != nil {
			entry.ExampleName = *d.ExampleIdentifier
		}
		if d.VersionTag != nil {
			entry.VersionTag = *d.VersionTag
		}
		if d.DeploymentMessage != nil {
			entry.Message = *d.DeploymentMessage
		}
		if d.DeploymentStatus == api.DeploymentDeployed {
			latest, err := s.latestFor(ctx, d.CourseContentDeployment)
			if err != nil {
				s.writeError(w, err)
				return
			}
			entry.UpdateAvailable = latest != nil
		}
		counts[string(d.DeploymentStatus)]++
		entries = append(entries, entry)
	}

	s.respond(w, http.StatusOK, map[string]interface{}{
		"course_id":   courseID,
		"total":       len(entries),
		"by_status":   counts,
		"deployments": entries,
	})
}

// submitHierarchy validates a deployment document and hands it to the
// hierarchy workflow. Admin only: the document creates organizations, users
// and remote groups.
func (s *Server) submitHierarchy(ctx context.Context, deployment *config.Deployment) (string, error) {
	principal := PrincipalFrom(ctx)
	if principal == nil || !principal.IsAdmin {
		return "", fmt.Errorf("deploying a hierarchy document: %w", authz.ErrForbidden)
	}
	if err := deployment.Validate(); err != nil {
		return "", badRequest(err)
	}
	workflowID, err := s.executor.Submit(ctx, executor.Submission{
		Name:             hierarchy.WorkflowName,
		ExecutionTimeout: time.Hour,
		Args:             []interface{}{hierarchy.Request{Deployment: *deployment}},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	s.metrics.WorkflowSubmissions.WithLabelValues(hierarchy.WorkflowName).Inc()
	return workflowID, nil
}

func (s *Server) handleDeployFromConfig(w http.ResponseWriter, r *http.Request) {
	var deployment config.Deployment
	if err := json.NewDecoder(io.LimitReader(r.Body, maxDeploymentDocumentBytes)).Decode(&deployment); err != nil {
		s.writeError(w, badRequest(fmt.Errorf("invalid deployment document: %w", err)))
		return
	}
	workflowID, err := s.submitHierarchy(r.Context(), &deployment)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, http.StatusAccepted, map[string]string{"workflow_id": workflowID, "status": "started"})
}

func (s *Server) handleDeployFromYAML(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxDeploymentDocumentBytes); err != nil {
		s.writeError(w, badRequest(fmt.Errorf("invalid multipart request: %w", err)))
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, badRequest(fmt.Errorf("missing deployment file: %w", err)))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxDeploymentDocumentBytes))
	if err != nil {
		s.writeError(w, badRequest(fmt.Errorf("failed to read deployment file: %w", err)))
		return
	}
	deployment, err := config.Parse(data)
	if err != nil {
		s.writeError(w, badRequest(err))
		return
	}
	workflowID, err := s.submitHierarchy(r.Context(), deployment)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, http.StatusAccepted, map[string]string{"workflow_id": workflowID, "status": "started"})
}
