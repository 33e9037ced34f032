package store

import (
	"context"
	"fmt"

	"github.com/computor-org/computor/pkg/api"
)

const resultColumns = baseColumns + `, course_member_id, course_content_id, course_submission_group_id,
	execution_backend_id, test_system_id, submit, result, result_json, version_identifier, status`

// CreateResult inserts a pending result record; the test execution workflow
// fills it in later.
func (s *Store) CreateResult(ctx context.Context, result *api.Result) error {
	if result.Status == "" {
		result.Status = api.ResultStatusPending
	}
	result.ID = newID()
	result.Version = 1
	result.CreatedAt = s.now()
	result.UpdatedAt = result.CreatedAt
	_, err := s.db.ExecContext(ctx, `INSERT INTO result
		(`+baseColumns+`, course_member_id, course_content_id, course_submission_group_id,
		 execution_backend_id, test_system_id, submit, result, result_json, version_identifier, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		result.ID, result.Version, result.CreatedAt, result.UpdatedAt, result.CreatedBy, result.UpdatedBy,
		result.Properties, result.CourseMemberID, result.CourseContentID, result.CourseSubmissionGroupID,
		result.ExecutionBackendID, result.TestSystemID, result.Submit, result.Result, result.ResultJSON,
		result.VersionIdentifier, result.Status)
	return wrapWriteErr(err, "result")
}

// GetResult loads a result by id.
func (s *Store) GetResult(ctx context.Context, id string) (*api.Result, error) {
	result := &api.Result{}
	err := s.db.GetContext(ctx, result, `SELECT `+resultColumns+` FROM result WHERE id = $1`, id)
	if err != nil {
		return nil, getErr(err, "result", id)
	}
	return result, nil
}

// CommitResult writes the evaluator's outcome under optimistic concurrency.
func (s *Store) CommitResult(ctx context.Context, result *api.Result) error {
	result.UpdatedAt = s.now()
	res, err := s.db.ExecContext(ctx, `UPDATE result SET
		version = version + 1, updated_at = $2, updated_by = $3,
		result = $4, result_json = $5, status = $6
		WHERE id = $1 AND version = $7`,
		result.ID, result.UpdatedAt, result.UpdatedBy,
		result.Result, result.ResultJSON, result.Status, result.Version)
	if err != nil {
		return wrapWriteErr(err, "result")
	}
	return s.checkVersioned(ctx, res, "result", result.ID)
}

// ListResultsForMember pages through a member's results.
func (s *Store) ListResultsForMember(ctx context.Context, memberID string, opts ListOptions) ([]api.Result, error) {
	var results []api.Result
	err := s.db.SelectContext(ctx, &results, `SELECT `+resultColumns+` FROM result
		WHERE course_member_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		memberID, opts.limit(), opts.skip())
	if err != nil {
		return nil, fmt.Errorf("failed to list results for member %s: %w", memberID, err)
	}
	return results, nil
}

// ListResultsForCourses pages through results of the given courses, the
// query form the authorization core produces for tutors.
func (s *Store) ListResultsForCourses(ctx context.Context, courseIDs []string, opts ListOptions) ([]api.Result, error) {
	var results []api.Result
	if len(courseIDs) == 0 {
		return results, nil
	}
	query, args, err := buildInQuery(`SELECT r.id, r.version, r.created_at, r.updated_at, r.created_by, r.updated_by, r.properties,
		r.course_member_id, r.course_content_id, r.course_submission_group_id,
		r.execution_backend_id, r.test_system_id, r.submit, r.result, r.result_json, r.version_identifier, r.status
		FROM result r JOIN course_member m ON m.id = r.course_member_id
		WHERE m.course_id IN (?) ORDER BY r.created_at DESC LIMIT ? OFFSET ?`,
		courseIDs, opts.limit(), opts.skip())
	if err != nil {
		return nil, err
	}
	if err := s.db.SelectContext(ctx, &results, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	return results, nil
}
