// Package hierarchy implements the workflow that reconciles a declarative
// deployment document against the database and the Git hosting instance:
// organizations, course families, courses with their remote groups and
// projects, content types, roles, execution backends, users and
// memberships. Every activity is idempotent and keyed by natural key, so
// re-running the workflow converges instead of duplicating.
package hierarchy

import (
	"github.com/computor-org/computor/pkg/api"
	"github.com/computor-org/computor/pkg/config"
)

// WorkflowName is the registered workflow type.
const WorkflowName = "deploy_hierarchy"

// Request carries the parsed deployment document.
type Request struct {
	Deployment config.Deployment `json:"deployment"`
}

// Result summarizes what one reconciliation run touched.
type Result struct {
	Organizations     int `json:"organizations"`
	CourseFamilies    int `json:"course_families"`
	Courses           int `json:"courses"`
	Users             int `json:"users"`
	ExecutionBackends int `json:"execution_backends"`
}

// orgInput reconciles one organization and its remote group.
type orgInput struct {
	Path        api.Path             `json:"path"`
	Title       string               `json:"title,omitempty"`
	Description string               `json:"description,omitempty"`
	GitLab      *config.GitLabConfig `json:"gitlab,omitempty"`
}

type orgOutput struct {
	OrganizationID string               `json:"organization_id"`
	Group          *api.GitlabGroupInfo `json:"group,omitempty"`
}

// familyInput reconciles one course family below an organization.
type familyInput struct {
	OrganizationID string               `json:"organization_id"`
	Parent         *api.GitlabGroupInfo `json:"parent,omitempty"`
	GitLab         *config.GitLabConfig `json:"gitlab,omitempty"`
	Path           api.Path             `json:"path"`
	Title          string               `json:"title,omitempty"`
}

type familyOutput struct {
	CourseFamilyID string               `json:"course_family_id"`
	Group          *api.GitlabGroupInfo `json:"group,omitempty"`
}

// courseInput reconciles one course, its remote group and the per-course
// projects.
type courseInput struct {
	OrganizationID string               `json:"organization_id"`
	CourseFamilyID string               `json:"course_family_id"`
	Parent         *api.GitlabGroupInfo `json:"parent,omitempty"`
	GitLab         *config.GitLabConfig `json:"gitlab,omitempty"`
	Path           api.Path             `json:"path"`
	Title          string               `json:"title,omitempty"`
}

type courseOutput struct {
	CourseID string                    `json:"course_id"`
	Projects *api.GitlabCourseProjects `json:"projects,omitempty"`
}

// catalogInput creates the course's content types and student groups.
type catalogInput struct {
	CourseID     string                     `json:"course_id"`
	ContentTypes []config.ContentTypeConfig `json:"content_types,omitempty"`
	Groups       []config.GroupConfig       `json:"groups,omitempty"`
}

// userInput reconciles one user, their accounts, global roles and course
// memberships. CourseIDs maps full course paths to database ids.
type userInput struct {
	User      config.UserConfig `json:"user"`
	CourseIDs map[string]string `json:"course_ids,omitempty"`
}
