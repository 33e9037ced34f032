// Package testrun implements the workflow that executes an assignment's
// tests against a student submission: it clones the student and reference
// repositories pinned to their commits, dispatches to a backend-specific
// runner and commits the outcome onto the result record.
package testrun

import (
	"github.com/computor-org/computor/pkg/api"
)

// WorkflowName is the registered workflow type.
const WorkflowName = "test_run"

// RepoSpec points at one repository pinned to a commit. Token, when set, is
// injected into the clone URL.
type RepoSpec struct {
	URL    string `json:"url"`
	Commit string `json:"commit,omitempty"`
	Token  string `json:"token,omitempty"`
}

// TestJob is the workflow input. ResultID names the pending result record
// created by the API before submission.
type TestJob struct {
	ResultID          string          `json:"result_id"`
	BackendType       string          `json:"backend_type"`
	BackendProperties api.PropertyMap `json:"backend_properties,omitempty"`
	Student           RepoSpec        `json:"student"`
	Reference         RepoSpec        `json:"reference"`
	TestFile          string          `json:"test_file,omitempty"`
	SpecFile          string          `json:"spec_file,omitempty"`
	JobConfig         api.PropertyMap `json:"job_config,omitempty"`
}

// RunReport is what a backend runner returns.
type RunReport struct {
	Passed  int             `json:"passed"`
	Failed  int             `json:"failed"`
	Total   int             `json:"total"`
	Details api.PropertyMap `json:"details,omitempty"`
}

// Score maps the report onto the [0,1] result score.
func (r *RunReport) Score() float64 {
	if r == nil || r.Total == 0 {
		return 0
	}
	return float64(r.Passed) / float64(r.Total)
}

// Result is the workflow outcome.
type Result struct {
	ResultID string           `json:"result_id"`
	Status   api.ResultStatus `json:"status"`
	Score    float64          `json:"score"`
	Passed   int              `json:"passed"`
	Failed   int              `json:"failed"`
	Total    int              `json:"total"`
}

// commitInput feeds the result-commit activity. A nil Report marks the
// result failed with Message.
type commitInput struct {
	ResultID string     `json:"result_id"`
	Report   *RunReport `json:"report,omitempty"`
	Message  string     `json:"message,omitempty"`
}
