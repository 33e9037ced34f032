package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/computor-org/computor/pkg/api"
)

const deploymentColumns = baseColumns + `, course_content_id, example_version_id, example_identifier,
	version_tag, version_identifier, deployment_status, deployment_path, deployment_message,
	assigned_at, deployed_at, last_attempt_at, workflow_id`

// GetDeployment loads a deployment record by id.
func (s *Store) GetDeployment(ctx context.Context, id string) (*api.CourseContentDeployment, error) {
	d := &api.CourseContentDeployment{}
	err := s.db.GetContext(ctx, d, `SELECT `+deploymentColumns+` FROM course_content_deployment WHERE id = $1`, id)
	if err != nil {
		return nil, getErr(err, "deployment", id)
	}
	return d, nil
}

// GetDeploymentForContent loads the (unique) deployment of a content.
func (s *Store) GetDeploymentForContent(ctx context.Context, contentID string) (*api.CourseContentDeployment, error) {
	d := &api.CourseContentDeployment{}
	err := s.db.GetContext(ctx, d, `SELECT `+deploymentColumns+` FROM course_content_deployment
		WHERE course_content_id = $1`, contentID)
	if err != nil {
		return nil, getErr(err, "deployment for content", contentID)
	}
	return d, nil
}

// DeploymentWithContent pairs a deployment row with its content's path and
// title for status reporting.
type DeploymentWithContent struct {
	api.CourseContentDeployment
	ContentPath  api.Path `db:"content_path"`
	ContentTitle string   `db:"content_title"`
}

// ListCourseDeployments returns every deployment of a course joined with
// its content, ordered by content path.
func (s *Store) ListCourseDeployments(ctx context.Context, courseID string) ([]DeploymentWithContent, error) {
	var out []DeploymentWithContent
	err := s.db.SelectContext(ctx, &out, `SELECT d.id, d.version, d.created_at, d.updated_at, d.created_by, d.updated_by, d.properties,
		d.course_content_id, d.example_version_id, d.example_identifier, d.version_tag, d.version_identifier,
		d.deployment_status, d.deployment_path, d.deployment_message, d.assigned_at, d.deployed_at, d.last_attempt_at, d.workflow_id,
		cc.path AS content_path, cc.title AS content_title
		FROM course_content_deployment d
		JOIN course_content cc ON cc.id = d.course_content_id
		WHERE cc.course_id = $1 ORDER BY cc.path`, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments of course %s: %w", courseID, err)
	}
	return out, nil
}

// TransitionDeployment runs mutate against the deployment row of the given
// content under a row lock, persists the mutated record and appends the
// returned history entry, all in one transaction. This is what serialises
// concurrent workflows per content: each status transition is a
// transactional read-modify-write keyed by course_content_id.
//
// When no record exists and createIfMissing is set, mutate receives a fresh
// record (status pending, assigned now) that is inserted afterwards.
func (s *Store) TransitionDeployment(ctx context.Context, contentID string, createIfMissing bool,
	mutate func(d *api.CourseContentDeployment) (*api.DeploymentHistory, error)) (*api.CourseContentDeployment, error) {

	var result *api.CourseContentDeployment
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		d := &api.CourseContentDeployment{}
		insert := false
		err := tx.GetContext(ctx, d, `SELECT `+deploymentColumns+` FROM course_content_deployment
			WHERE course_content_id = $1 FOR UPDATE`, contentID)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("failed to lock deployment for content %s: %w", contentID, err)
			}
			if !createIfMissing {
				return fmt.Errorf("deployment for content %s: %w", contentID, ErrNotFound)
			}
			insert = true
			now := s.now()
			d = &api.CourseContentDeployment{
				Base:             api.Base{ID: newID(), Version: 1, CreatedAt: now, UpdatedAt: now},
				CourseContentID:  &contentID,
				DeploymentStatus: api.DeploymentPending,
				AssignedAt:       now,
			}
		}

		history, err := mutate(d)
		if err != nil {
			return err
		}
		if d.DeploymentPath != nil {
			if pathErr := d.DeploymentPath.Validate(); pathErr != nil {
				return validationErr("deployment_path", pathErr.Error())
			}
		}

		d.UpdatedAt = s.now()
		if insert {
			_, err = tx.ExecContext(ctx, `INSERT INTO course_content_deployment
				(`+baseColumns+`, course_content_id, example_version_id, example_identifier, version_tag,
				 version_identifier, deployment_status, deployment_path, deployment_message,
				 assigned_at, deployed_at, last_attempt_at, workflow_id)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
				d.ID, d.Version, d.CreatedAt, d.UpdatedAt, d.CreatedBy, d.UpdatedBy, d.Properties,
				d.CourseContentID, d.ExampleVersionID, d.ExampleIdentifier, d.VersionTag,
				d.VersionIdentifier, d.DeploymentStatus, d.DeploymentPath, d.DeploymentMessage,
				d.AssignedAt, d.DeployedAt, d.LastAttemptAt, d.WorkflowID)
		} else {
			_, err = tx.ExecContext(ctx, `UPDATE course_content_deployment SET
				version = version + 1, updated_at = $2, updated_by = $3, properties = $4,
				example_version_id = $5, example_identifier = $6, version_tag = $7, version_identifier = $8,
				deployment_status = $9, deployment_path = $10, deployment_message = $11,
				assigned_at = $12, deployed_at = $13, last_attempt_at = $14, workflow_id = $15
				WHERE id = $1`,
				d.ID, d.UpdatedAt, d.UpdatedBy, d.Properties,
				d.ExampleVersionID, d.ExampleIdentifier, d.VersionTag, d.VersionIdentifier,
				d.DeploymentStatus, d.DeploymentPath, d.DeploymentMessage,
				d.AssignedAt, d.DeployedAt, d.LastAttemptAt, d.WorkflowID)
			d.Version++
		}
		if err != nil {
			return wrapWriteErr(err, "deployment")
		}

		if history != nil {
			history.ID = newID()
			history.DeploymentID = d.ID
			history.CreatedAt = s.now()
			_, err = tx.ExecContext(ctx, `INSERT INTO deployment_history
				(id, deployment_id, action, action_details, example_version_id, previous_example_version_id,
				 example_identifier, version_tag, workflow_id, meta, created_at, created_by)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
				history.ID, history.DeploymentID, history.Action, history.ActionDetails,
				history.ExampleVersionID, history.PreviousExampleVersionID, history.ExampleIdentifier,
				history.VersionTag, history.WorkflowID, history.Meta, history.CreatedAt, history.CreatedBy)
			if err != nil {
				return wrapWriteErr(err, "deployment history")
			}
		}

		result = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListDeploymentHistory returns the append-only history of a deployment in
// chronological order.
func (s *Store) ListDeploymentHistory(ctx context.Context, deploymentID string) ([]api.DeploymentHistory, error) {
	var entries []api.DeploymentHistory
	err := s.db.SelectContext(ctx, &entries, `SELECT id, deployment_id, action, action_details, example_version_id,
		previous_example_version_id, example_identifier, version_tag, workflow_id, meta, created_at, created_by
		FROM deployment_history WHERE deployment_id = $1 ORDER BY created_at, id`, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list history of deployment %s: %w", deploymentID, err)
	}
	return entries, nil
}
