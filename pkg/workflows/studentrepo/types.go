// Package studentrepo implements the workflow that provisions a student's
// working repository: it forks the course's student-template project into
// the students group under a deterministic path, unprotects the default
// branches, grants the student maintainer access and records the remote
// identifiers on the course member.
package studentrepo

import (
	"strings"

	"github.com/computor-org/computor/pkg/api"
)

// WorkflowName is the registered workflow type.
const WorkflowName = "student_repository"

// Request provisions the repository for one course member. When the member
// submits as part of a team, SubmissionGroupID links the repository to the
// team as well.
type Request struct {
	CourseMemberID    string  `json:"course_member_id"`
	SubmissionGroupID *string `json:"submission_group_id,omitempty"`
}

// Result is the workflow outcome.
type Result struct {
	Repository api.GitlabRepoInfo `json:"repository"`
	Reused     bool               `json:"reused"`
}

// Slug derives the repository path from a username or team name: lowercase,
// every run of non-alphanumeric characters collapsed to a single hyphen.
func Slug(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// target is resolved from the database before any hosting call.
type target struct {
	CourseMemberID    string              `json:"course_member_id"`
	Slug              string              `json:"slug"`
	StudentsGroupID   int                 `json:"students_group_id"`
	StudentsGroupPath string              `json:"students_group_path"`
	TemplateProjectID int                 `json:"template_project_id"`
	Email             string              `json:"email"`
	RemoteUserID      int                 `json:"remote_user_id,omitempty"`
	Existing          *api.GitlabRepoInfo `json:"existing,omitempty"`
}

type forkInput struct {
	StudentsGroupID   int    `json:"students_group_id"`
	StudentsGroupPath string `json:"students_group_path"`
	TemplateProjectID int    `json:"template_project_id"`
	Slug              string `json:"slug"`
}

type forkOutput struct {
	Repository api.GitlabRepoInfo `json:"repository"`
	Reused     bool               `json:"reused"`
}

type grantInput struct {
	ProjectID    int    `json:"project_id"`
	Email        string `json:"email"`
	RemoteUserID int    `json:"remote_user_id,omitempty"`
}

type persistInput struct {
	CourseMemberID    string             `json:"course_member_id"`
	SubmissionGroupID *string            `json:"submission_group_id,omitempty"`
	Repository        api.GitlabRepoInfo `json:"repository"`
}
