package store

import (
	"context"

	"github.com/computor-org/computor/pkg/api"
)

const submissionGroupColumns = baseColumns + `, course_id, course_content_id, max_group_size`

// CreateCourseSubmissionGroup inserts a submission team for a content.
func (s *Store) CreateCourseSubmissionGroup(ctx context.Context, group *api.CourseSubmissionGroup) error {
	if group.MaxGroupSize <= 0 {
		group.MaxGroupSize = 1
	}
	group.ID = newID()
	group.Version = 1
	group.CreatedAt = s.now()
	group.UpdatedAt = group.CreatedAt
	_, err := s.db.ExecContext(ctx, `INSERT INTO course_submission_group
		(`+baseColumns+`, course_id, course_content_id, max_group_size)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		group.ID, group.Version, group.CreatedAt, group.UpdatedAt, group.CreatedBy, group.UpdatedBy,
		group.Properties, group.CourseID, group.CourseContentID, group.MaxGroupSize)
	return wrapWriteErr(err, "course submission group")
}

// GetCourseSubmissionGroup loads a submission team by id.
func (s *Store) GetCourseSubmissionGroup(ctx context.Context, id string) (*api.CourseSubmissionGroup, error) {
	group := &api.CourseSubmissionGroup{}
	err := s.db.GetContext(ctx, group, `SELECT `+submissionGroupColumns+` FROM course_submission_group WHERE id = $1`, id)
	if err != nil {
		return nil, getErr(err, "course submission group", id)
	}
	return group, nil
}

// UpdateCourseSubmissionGroup writes mutable fields under optimistic
// concurrency.
func (s *Store) UpdateCourseSubmissionGroup(ctx context.Context, group *api.CourseSubmissionGroup) error {
	group.UpdatedAt = s.now()
	res, err := s.db.ExecContext(ctx, `UPDATE course_submission_group SET
		version = version + 1, updated_at = $2, updated_by = $3, properties = $4, max_group_size = $5
		WHERE id = $1 AND version = $6`,
		group.ID, group.UpdatedAt, group.UpdatedBy, group.Properties, group.MaxGroupSize, group.Version)
	if err != nil {
		return wrapWriteErr(err, "course submission group")
	}
	return s.checkVersioned(ctx, res, "course_submission_group", group.ID)
}
