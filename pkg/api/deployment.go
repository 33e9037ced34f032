package api

import (
	"time"
)

// DeploymentStatus is the lifecycle state of a course content deployment.
type DeploymentStatus string

const (
	DeploymentPending    DeploymentStatus = "pending"
	DeploymentDeploying  DeploymentStatus = "deploying"
	DeploymentDeployed   DeploymentStatus = "deployed"
	DeploymentFailed     DeploymentStatus = "failed"
	DeploymentUnassigned DeploymentStatus = "unassigned"
)

// DeploymentAction names the history entry appended on each transition.
type DeploymentAction string

const (
	DeploymentActionAssigned   DeploymentAction = "assigned"
	DeploymentActionReassigned DeploymentAction = "reassigned"
	DeploymentActionDeploying  DeploymentAction = "deploying"
	DeploymentActionDeployed   DeploymentAction = "deployed"
	DeploymentActionFailed     DeploymentAction = "failed"
	DeploymentActionUnassigned DeploymentAction = "unassigned"
	DeploymentActionUpdated    DeploymentAction = "updated"
)

// CourseContentDeployment is the authoritative record of what example version
// is (or should be) materialized for one course content. It survives content
// deletion (the content reference is severed, never the record) and is
// mutated only by the deployment state machine.
type CourseContentDeployment struct {
	Base
	CourseContentID   *string          `json:"course_content_id,omitempty" db:"course_content_id"`
	ExampleVersionID  *string          `json:"example_version_id,omitempty" db:"example_version_id"`
	ExampleIdentifier *string          `json:"example_identifier,omitempty" db:"example_identifier"`
	VersionTag        *string          `json:"version_tag,omitempty" db:"version_tag"`
	VersionIdentifier *string          `json:"version_identifier,omitempty" db:"version_identifier"`
	DeploymentStatus  DeploymentStatus `json:"deployment_status" db:"deployment_status"`
	DeploymentPath    *Path            `json:"deployment_path,omitempty" db:"deployment_path"`
	DeploymentMessage *string          `json:"deployment_message,omitempty" db:"deployment_message"`
	AssignedAt        time.Time        `json:"assigned_at" db:"assigned_at"`
	DeployedAt        *time.Time       `json:"deployed_at,omitempty" db:"deployed_at"`
	LastAttemptAt     *time.Time       `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
	WorkflowID        *string          `json:"workflow_id,omitempty" db:"workflow_id"`
}

// IsDeployed reports whether the record is in the deployed state. The state
// machine maintains status='deployed' iff deployed_at is set.
func (d *CourseContentDeployment) IsDeployed() bool {
	return d.DeploymentStatus == DeploymentDeployed && d.DeployedAt != nil
}

// DeploymentHistory is the append-only log of deployment transitions.
type DeploymentHistory struct {
	ID                       string           `json:"id" db:"id"`
	DeploymentID             string           `json:"deployment_id" db:"deployment_id"`
	Action                   DeploymentAction `json:"action" db:"action"`
	ActionDetails            *string          `json:"action_details,omitempty" db:"action_details"`
	ExampleVersionID         *string          `json:"example_version_id,omitempty" db:"example_version_id"`
	PreviousExampleVersionID *string          `json:"previous_example_version_id,omitempty" db:"previous_example_version_id"`
	ExampleIdentifier        *string          `json:"example_identifier,omitempty" db:"example_identifier"`
	VersionTag               *string          `json:"version_tag,omitempty" db:"version_tag"`
	WorkflowID               *string          `json:"workflow_id,omitempty" db:"workflow_id"`
	Meta                     PropertyMap      `json:"meta,omitempty" db:"meta"`
	CreatedAt                time.Time        `json:"created_at" db:"created_at"`
	CreatedBy                *string          `json:"created_by,omitempty" db:"created_by"`
}
