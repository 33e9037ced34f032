// Package deployment implements the per-content deployment record
// lifecycle. Every status change goes through the Service, which locks the
// deployment row, validates the transition and appends the matching
// history entry in the same transaction.
package deployment

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/computor-org/computor/pkg/api"
	"github.com/computor-org/computor/pkg/store"
)

// MaxMessageLength bounds deployment_message; longer failure output is
// truncated, never rejected.
const MaxMessageLength = 500

var validTransitions = map[api.DeploymentStatus][]api.DeploymentStatus{
	api.DeploymentPending:    {api.DeploymentDeploying, api.DeploymentPending, api.DeploymentUnassigned, api.DeploymentFailed},
	api.DeploymentDeploying:  {api.DeploymentDeployed, api.DeploymentFailed, api.DeploymentPending},
	api.DeploymentDeployed:   {api.DeploymentDeploying, api.DeploymentUnassigned, api.DeploymentPending},
	api.DeploymentFailed:     {api.DeploymentDeploying, api.DeploymentPending, api.DeploymentUnassigned},
	api.DeploymentUnassigned: {api.DeploymentPending},
}

// CanTransition reports whether the state machine permits from → to.
// Reassignment (→ pending) is allowed from every state.
func CanTransition(from, to api.DeploymentStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionError reports a rejected state change.
type TransitionError struct {
	From api.DeploymentStatus
	To   api.DeploymentStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("deployment transition %s -> %s is not allowed", e.From, e.To)
}

// Service drives deployment records through their lifecycle.
type Service struct {
	store  *store.Store
	logger *logrus.Entry
	now    func() time.Time
}

// NewService wires the state machine to the entity store.
func NewService(s *store.Store, logger *logrus.Entry) *Service {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{store: s, logger: logger, now: time.Now}
}

// Assign binds an example version to a content, creating the deployment
// record or re-pointing an existing one. A fresh record gets an "assigned"
// history entry, an existing one "reassigned" with the previous version.
func (s *Service) Assign(ctx context.Context, contentID string, example *api.Example, version *api.ExampleVersion, actor *string) (*api.CourseContentDeployment, error) {
	submittable, err := s.store.IsSubmittable(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if !submittable {
		return nil, &store.ValidationError{Field: "course_content_id", Reason: "only submittable contents may carry a deployment"}
	}

	identifier := example.Identifier.String()
	return s.store.TransitionDeployment(ctx, contentID, true, func(d *api.CourseContentDeployment) (*api.DeploymentHistory, error) {
		action := api.DeploymentActionAssigned
		var previous *string
		if d.ExampleVersionID != nil {
			if *d.ExampleVersionID == version.ID && d.DeploymentStatus != api.DeploymentUnassigned {
				// Same version assigned again: nothing to record.
				return nil, nil
			}
			action = api.DeploymentActionReassigned
			previous = d.ExampleVersionID
		}
		if !CanTransition(d.DeploymentStatus, api.DeploymentPending) {
			return nil, &TransitionError{From: d.DeploymentStatus, To: api.DeploymentPending}
		}

		d.ExampleVersionID = &version.ID
		d.ExampleIdentifier = &identifier
		d.VersionTag = &version.VersionTag
		d.DeploymentStatus = api.DeploymentPending
		d.DeploymentMessage = nil
		d.DeployedAt = nil
		d.AssignedAt = s.now()
		d.UpdatedBy = actor

		return &api.DeploymentHistory{
			Action:                   action,
			ExampleVersionID:         &version.ID,
			PreviousExampleVersionID: previous,
			ExampleIdentifier:        &identifier,
			VersionTag:               &version.VersionTag,
			CreatedBy:                actor,
		}, nil
	})
}

// Unassign removes the example from the content. The record survives with
// status unassigned and keeps its history.
func (s *Service) Unassign(ctx context.Context, contentID string, actor *string) (*api.CourseContentDeployment, error) {
	return s.store.TransitionDeployment(ctx, contentID, false, func(d *api.CourseContentDeployment) (*api.DeploymentHistory, error) {
		if !CanTransition(d.DeploymentStatus, api.DeploymentUnassigned) {
			return nil, &TransitionError{From: d.DeploymentStatus, To: api.DeploymentUnassigned}
		}
		previous := d.ExampleVersionID
		identifier := d.ExampleIdentifier
		tag := d.VersionTag

		d.ExampleVersionID = nil
		d.DeploymentStatus = api.DeploymentUnassigned
		d.DeployedAt = nil
		d.UpdatedBy = actor

		return &api.DeploymentHistory{
			Action:                   api.DeploymentActionUnassigned,
			PreviousExampleVersionID: previous,
			ExampleIdentifier:        identifier,
			VersionTag:               tag,
			CreatedBy:                actor,
		}, nil
	})
}

// Begin moves a record into deploying on behalf of a workflow. Deployed
// records require forceRedeploy. Meta records force_redeploy when set.
func (s *Service) Begin(ctx context.Context, contentID, workflowID string, forceRedeploy bool) (*api.CourseContentDeployment, error) {
	return s.store.TransitionDeployment(ctx, contentID, false, func(d *api.CourseContentDeployment) (*api.DeploymentHistory, error) {
		if d.DeploymentStatus == api.DeploymentDeployed && !forceRedeploy {
			return nil, &TransitionError{From: d.DeploymentStatus, To: api.DeploymentDeploying}
		}
		if !CanTransition(d.DeploymentStatus, api.DeploymentDeploying) {
			return nil, &TransitionError{From: d.DeploymentStatus, To: api.DeploymentDeploying}
		}

		now := s.now()
		d.DeploymentStatus = api.DeploymentDeploying
		d.DeployedAt = nil
		d.LastAttemptAt = &now
		d.WorkflowID = &workflowID

		history := &api.DeploymentHistory{
			Action:            api.DeploymentActionDeploying,
			ExampleVersionID:  d.ExampleVersionID,
			ExampleIdentifier: d.ExampleIdentifier,
			VersionTag:        d.VersionTag,
			WorkflowID:        &workflowID,
		}
		if forceRedeploy {
			if err := history.Meta.Set("force_redeploy", true); err != nil {
				return nil, err
			}
		}
		return history, nil
	})
}

// MarkDeployed completes a deploying record: status deployed, deployed_at
// set, and version_identifier recording the assignments-repo commit the
// release was built from.
func (s *Service) MarkDeployed(ctx context.Context, contentID, workflowID, commitSHA string, deploymentPath api.Path) (*api.CourseContentDeployment, error) {
	return s.store.TransitionDeployment(ctx, contentID, false, func(d *api.CourseContentDeployment) (*api.DeploymentHistory, error) {
		if !CanTransition(d.DeploymentStatus, api.DeploymentDeployed) {
			return nil, &TransitionError{From: d.DeploymentStatus, To: api.DeploymentDeployed}
		}
		now := s.now()
		d.DeploymentStatus = api.DeploymentDeployed
		d.DeployedAt = &now
		d.VersionIdentifier = &commitSHA
		d.DeploymentPath = &deploymentPath
		d.DeploymentMessage = nil
		d.WorkflowID = &workflowID

		return &api.DeploymentHistory{
			Action:            api.DeploymentActionDeployed,
			ActionDetails:     &commitSHA,
			ExampleVersionID:  d.ExampleVersionID,
			ExampleIdentifier: d.ExampleIdentifier,
			VersionTag:        d.VersionTag,
			WorkflowID:        &workflowID,
		}, nil
	})
}

// MarkFailed records a failure with a truncated message.
func (s *Service) MarkFailed(ctx context.Context, contentID, workflowID, message string) (*api.CourseContentDeployment, error) {
	message = Truncate(message)
	return s.store.TransitionDeployment(ctx, contentID, false, func(d *api.CourseContentDeployment) (*api.DeploymentHistory, error) {
		if !CanTransition(d.DeploymentStatus, api.DeploymentFailed) {
			return nil, &TransitionError{From: d.DeploymentStatus, To: api.DeploymentFailed}
		}
		d.DeploymentStatus = api.DeploymentFailed
		d.DeployedAt = nil
		d.DeploymentMessage = &message
		d.WorkflowID = &workflowID

		return &api.DeploymentHistory{
			Action:            api.DeploymentActionFailed,
			ActionDetails:     &message,
			ExampleVersionID:  d.ExampleVersionID,
			ExampleIdentifier: d.ExampleIdentifier,
			VersionTag:        d.VersionTag,
			WorkflowID:        &workflowID,
		}, nil
	})
}

// SetDeploymentPath records the target path without a status change,
// appending an "updated" history entry.
func (s *Service) SetDeploymentPath(ctx context.Context, contentID string, path api.Path) (*api.CourseContentDeployment, error) {
	details := "deployment_path set to " + path.String()
	return s.store.TransitionDeployment(ctx, contentID, false, func(d *api.CourseContentDeployment) (*api.DeploymentHistory, error) {
		d.DeploymentPath = &path
		return &api.DeploymentHistory{
			Action:        api.DeploymentActionUpdated,
			ActionDetails: &details,
		}, nil
	})
}

// Truncate bounds a failure message to MaxMessageLength.
func Truncate(message string) string {
	if len(message) <= MaxMessageLength {
		return message
	}
	return message[:MaxMessageLength-3] + "..."
}
