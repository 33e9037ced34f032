// Package studenttemplate implements the workflow that renders a course's
// student-template repository from the assignments repository: it selects
// deployments, filters each assigned example down to the student-visible
// files, pushes the result and reconciles the deployment records with the
// released commit.
package studenttemplate

// WorkflowName is the registered workflow type.
const WorkflowName = "student_template"

// CommitOverride pins one content to a specific assignments-repo commit.
type CommitOverride struct {
	CourseContentID   string `json:"course_content_id"`
	VersionIdentifier string `json:"version_identifier"`
}

// Release selects which contents to process. Exactly one of the selection
// forms is used; an empty Release selects pending and failed deployments
// (plus deployed ones under force redeploy).
type Release struct {
	CourseContentIDs   []string         `json:"course_content_ids,omitempty"`
	ParentID           string           `json:"parent_id,omitempty"`
	IncludeDescendants *bool            `json:"include_descendants,omitempty"`
	All                bool             `json:"all,omitempty"`
	GlobalCommit       string           `json:"global_commit,omitempty"`
	Overrides          []CommitOverride `json:"overrides,omitempty"`
}

// includeDescendants defaults to true.
func (r *Release) includeDescendants() bool {
	return r.IncludeDescendants == nil || *r.IncludeDescendants
}

// commitFor resolves the pinned commit for a content, or empty.
func (r *Release) commitFor(contentID string) string {
	for _, o := range r.Overrides {
		if o.CourseContentID == contentID {
			return o.VersionIdentifier
		}
	}
	return r.GlobalCommit
}

// Request starts a student-template release.
type Request struct {
	CourseID           string   `json:"course_id"`
	StudentTemplateURL string   `json:"student_template_url"`
	AssignmentsURL     string   `json:"assignments_url"`
	CommitMessage      string   `json:"commit_message,omitempty"`
	ForceRedeploy      bool     `json:"force_redeploy"`
	Release            *Release `json:"release,omitempty"`
}

// ContentFailure records why one content could not be released.
type ContentFailure struct {
	CourseContentID string `json:"course_content_id"`
	Message         string `json:"message"`
}

// BuildResult is returned by the build-and-push activity. CommitSHA is the
// pushed student-template commit; Commits maps each released content to the
// assignments-repo commit its files were taken from.
type BuildResult struct {
	CommitSHA string            `json:"commit_sha"`
	Released  []string          `json:"released"`
	Commits   map[string]string `json:"commits,omitempty"`
	Failures  []ContentFailure  `json:"failures,omitempty"`
	NoChanges bool              `json:"no_changes"`
}

// Result is the workflow outcome.
type Result struct {
	WorkflowID string           `json:"workflow_id"`
	CommitSHA  string           `json:"commit_sha,omitempty"`
	Succeeded  int              `json:"succeeded"`
	Failed     int              `json:"failed"`
	Failures   []ContentFailure `json:"failures,omitempty"`
}

// markInput is shared by the deployment-marking activities. Commits carries
// the per-content assignments commit recorded on successful releases.
type markInput struct {
	WorkflowID    string            `json:"workflow_id"`
	ContentIDs    []string          `json:"content_ids"`
	ForceRedeploy bool              `json:"force_redeploy,omitempty"`
	Commits       map[string]string `json:"commits,omitempty"`
	Message       string            `json:"message,omitempty"`
}

// buildInput feeds the build-and-push activity.
type buildInput struct {
	Request    Request  `json:"request"`
	WorkflowID string   `json:"workflow_id"`
	ContentIDs []string `json:"content_ids"`
}
