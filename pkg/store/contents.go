package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/computor-org/computor/pkg/api"
)

const contentColumns = baseColumns + `, course_id, path, title, description, course_content_type_id,
	position, max_group_size, max_submissions, max_test_runs, execution_backend_id, archived_at`

// EnsureCourseContentKind inserts the kind if missing.
func (s *Store) EnsureCourseContentKind(ctx context.Context, kind *api.CourseContentKind) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO course_content_kind (id, title, has_ascendants, submittable)
		VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`,
		kind.ID, kind.Title, kind.HasAscendants, kind.Submittable)
	return wrapWriteErr(err, "course content kind")
}

// GetCourseContentKind loads a kind by id.
func (s *Store) GetCourseContentKind(ctx context.Context, id string) (*api.CourseContentKind, error) {
	kind := &api.CourseContentKind{}
	err := s.db.GetContext(ctx, kind, `SELECT id, title, has_ascendants, submittable FROM course_content_kind WHERE id = $1`, id)
	if err != nil {
		return nil, getErr(err, "course content kind", id)
	}
	return kind, nil
}

// ListCourseContentKinds returns all kinds.
func (s *Store) ListCourseContentKinds(ctx context.Context) ([]api.CourseContentKind, error) {
	var kinds []api.CourseContentKind
	if err := s.db.SelectContext(ctx, &kinds, `SELECT id, title, has_ascendants, submittable FROM course_content_kind ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list course content kinds: %w", err)
	}
	return kinds, nil
}

// EnsureCourseContentType finds a type by (course, slug) or creates it.
func (s *Store) EnsureCourseContentType(ctx context.Context, contentType *api.CourseContentType) (*api.CourseContentType, error) {
	existing := &api.CourseContentType{}
	err := s.db.GetContext(ctx, existing, `SELECT `+baseColumns+`, course_id, slug, title, color, course_content_kind_id
		FROM course_content_type WHERE course_id = $1 AND slug = $2`, contentType.CourseID, contentType.Slug)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up course content type: %w", err)
	}

	contentType.ID = newID()
	contentType.Version = 1
	contentType.CreatedAt = s.now()
	contentType.UpdatedAt = contentType.CreatedAt
	_, err = s.db.ExecContext(ctx, `INSERT INTO course_content_type
		(`+baseColumns+`, course_id, slug, title, color, course_content_kind_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		contentType.ID, contentType.Version, contentType.CreatedAt, contentType.UpdatedAt, contentType.CreatedBy,
		contentType.UpdatedBy, contentType.Properties, contentType.CourseID, contentType.Slug, contentType.Title,
		contentType.Color, contentType.CourseContentKindID)
	if err != nil {
		return nil, wrapWriteErr(err, "course content type")
	}
	return contentType, nil
}

// GetCourseContentType loads a content type by id.
func (s *Store) GetCourseContentType(ctx context.Context, id string) (*api.CourseContentType, error) {
	contentType := &api.CourseContentType{}
	err := s.db.GetContext(ctx, contentType, `SELECT `+baseColumns+`, course_id, slug, title, color, course_content_kind_id
		FROM course_content_type WHERE id = $1`, id)
	if err != nil {
		return nil, getErr(err, "course content type", id)
	}
	return contentType, nil
}

// CreateCourseContent inserts a content node; unique per (course, path).
func (s *Store) CreateCourseContent(ctx context.Context, content *api.CourseContent) error {
	if err := content.Path.Validate(); err != nil {
		return validationErr("path", err.Error())
	}
	if content.MaxGroupSize <= 0 {
		content.MaxGroupSize = 1
	}
	content.ID = newID()
	content.Version = 1
	content.CreatedAt = s.now()
	content.UpdatedAt = content.CreatedAt
	_, err := s.db.ExecContext(ctx, `INSERT INTO course_content
		(`+baseColumns+`, course_id, path, title, description, course_content_type_id,
		 position, max_group_size, max_submissions, max_test_runs, execution_backend_id, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		content.ID, content.Version, content.CreatedAt, content.UpdatedAt, content.CreatedBy, content.UpdatedBy,
		content.Properties, content.CourseID, content.Path, content.Title, content.Description,
		content.CourseContentTypeID, content.Position, content.MaxGroupSize, content.MaxSubmissions,
		content.MaxTestRuns, content.ExecutionBackendID, content.ArchivedAt)
	return wrapWriteErr(err, "course content")
}

// GetCourseContent loads a content node by id.
func (s *Store) GetCourseContent(ctx context.Context, id string) (*api.CourseContent, error) {
	content := &api.CourseContent{}
	err := s.db.GetContext(ctx, content, `SELECT `+contentColumns+` FROM course_content WHERE id = $1`, id)
	if err != nil {
		return nil, getErr(err, "course content", id)
	}
	return content, nil
}

// GetCourseContentByPath loads a content node by its natural key.
func (s *Store) GetCourseContentByPath(ctx context.Context, courseID string, path api.Path) (*api.CourseContent, error) {
	content := &api.CourseContent{}
	err := s.db.GetContext(ctx, content, `SELECT `+contentColumns+` FROM course_content
		WHERE course_id = $1 AND path = $2`, courseID, path)
	if err != nil {
		return nil, getErr(err, "course content", path.String())
	}
	return content, nil
}

// UpdateCourseContent writes mutable fields under optimistic concurrency.
func (s *Store) UpdateCourseContent(ctx context.Context, content *api.CourseContent) error {
	content.UpdatedAt = s.now()
	res, err := s.db.ExecContext(ctx, `UPDATE course_content SET
		version = version + 1, updated_at = $2, updated_by = $3, properties = $4,
		title = $5, description = $6, position = $7, max_group_size = $8, max_submissions = $9,
		max_test_runs = $10, execution_backend_id = $11, archived_at = $12
		WHERE id = $1 AND version = $13`,
		content.ID, content.UpdatedAt, content.UpdatedBy, content.Properties,
		content.Title, content.Description, content.Position, content.MaxGroupSize, content.MaxSubmissions,
		content.MaxTestRuns, content.ExecutionBackendID, content.ArchivedAt, content.Version)
	if err != nil {
		return wrapWriteErr(err, "course content")
	}
	return s.checkVersioned(ctx, res, "course_content", content.ID)
}

// ListCourseContents pages through the content tree of a course in path
// order.
func (s *Store) ListCourseContents(ctx context.Context, courseID string, opts ListOptions) ([]api.CourseContent, error) {
	var contents []api.CourseContent
	err := s.db.SelectContext(ctx, &contents, `SELECT `+contentColumns+` FROM course_content
		WHERE course_id = $1 ORDER BY path LIMIT $2 OFFSET $3`, courseID, opts.limit(), opts.skip())
	if err != nil {
		return nil, fmt.Errorf("failed to list course contents of %s: %w", courseID, err)
	}
	return contents, nil
}

// ListCourseContentsBelow returns the subtree rooted at the given path,
// including the root itself (ltree <@).
func (s *Store) ListCourseContentsBelow(ctx context.Context, courseID string, root api.Path) ([]api.CourseContent, error) {
	var contents []api.CourseContent
	err := s.db.SelectContext(ctx, &contents, `SELECT `+contentColumns+` FROM course_content
		WHERE course_id = $1 AND path <@ $2 ORDER BY path`, courseID, root)
	if err != nil {
		return nil, fmt.Errorf("failed to list course contents below %s: %w", root, err)
	}
	return contents, nil
}

// IsSubmittable reports whether the content's kind marks it as a
// submittable assignment. Only submittable contents may carry a deployment.
func (s *Store) IsSubmittable(ctx context.Context, contentID string) (bool, error) {
	var submittable bool
	err := s.db.GetContext(ctx, &submittable, `SELECT k.submittable
		FROM course_content cc
		JOIN course_content_type t ON t.id = cc.course_content_type_id
		JOIN course_content_kind k ON k.id = t.course_content_kind_id
		WHERE cc.id = $1`, contentID)
	if err != nil {
		return false, getErr(err, "course content", contentID)
	}
	return submittable, nil
}

// EnsureCourseRole inserts the course role if missing.
func (s *Store) EnsureCourseRole(ctx context.Context, role *api.CourseRole) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO course_role (id, title, builtin, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4) ON CONFLICT (id) DO NOTHING`,
		role.ID, role.Title, role.Builtin, s.now())
	return wrapWriteErr(err, "course role")
}

// ListCourseRoles returns all course roles.
func (s *Store) ListCourseRoles(ctx context.Context) ([]api.CourseRole, error) {
	var roles []api.CourseRole
	if err := s.db.SelectContext(ctx, &roles, `SELECT `+baseColumns+`, title, builtin FROM course_role ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list course roles: %w", err)
	}
	return roles, nil
}

// EnsureCourseGroup finds a group by (course, title) or creates it.
func (s *Store) EnsureCourseGroup(ctx context.Context, group *api.CourseGroup) (*api.CourseGroup, error) {
	existing := &api.CourseGroup{}
	err := s.db.GetContext(ctx, existing, `SELECT `+baseColumns+`, course_id, title FROM course_group
		WHERE course_id = $1 AND title = $2`, group.CourseID, group.Title)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up course group: %w", err)
	}

	group.ID = newID()
	group.Version = 1
	group.CreatedAt = s.now()
	group.UpdatedAt = group.CreatedAt
	_, err = s.db.ExecContext(ctx, `INSERT INTO course_group (`+baseColumns+`, course_id, title)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		group.ID, group.Version, group.CreatedAt, group.UpdatedAt, group.CreatedBy, group.UpdatedBy,
		group.Properties, group.CourseID, group.Title)
	if err != nil {
		return nil, wrapWriteErr(err, "course group")
	}
	return group, nil
}

// EnsureCourseMember finds the membership by (user, course) or creates it.
// A _student member without a group is rejected before the insert.
func (s *Store) EnsureCourseMember(ctx context.Context, member *api.CourseMember) (*api.CourseMember, error) {
	if member.CourseRoleID == api.CourseRoleStudent && member.CourseGroupID == nil {
		return nil, validationErr("course_group_id", "students must belong to a course group")
	}
	existing := &api.CourseMember{}
	err := s.db.GetContext(ctx, existing, `SELECT `+baseColumns+`, user_id, course_id, course_group_id, course_role_id
		FROM course_member WHERE user_id = $1 AND course_id = $2`, member.UserID, member.CourseID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up course member: %w", err)
	}

	member.ID = newID()
	member.Version = 1
	member.CreatedAt = s.now()
	member.UpdatedAt = member.CreatedAt
	_, err = s.db.ExecContext(ctx, `INSERT INTO course_member
		(`+baseColumns+`, user_id, course_id, course_group_id, course_role_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		member.ID, member.Version, member.CreatedAt, member.UpdatedAt, member.CreatedBy, member.UpdatedBy,
		member.Properties, member.UserID, member.CourseID, member.CourseGroupID, member.CourseRoleID)
	if err != nil {
		return nil, wrapWriteErr(err, "course member")
	}
	return member, nil
}

// GetCourseMember loads a membership by id.
func (s *Store) GetCourseMember(ctx context.Context, id string) (*api.CourseMember, error) {
	member := &api.CourseMember{}
	err := s.db.GetContext(ctx, member, `SELECT `+baseColumns+`, user_id, course_id, course_group_id, course_role_id
		FROM course_member WHERE id = $1`, id)
	if err != nil {
		return nil, getErr(err, "course member", id)
	}
	return member, nil
}

// UpdateCourseMember writes mutable fields under optimistic concurrency.
func (s *Store) UpdateCourseMember(ctx context.Context, member *api.CourseMember) error {
	member.UpdatedAt = s.now()
	res, err := s.db.ExecContext(ctx, `UPDATE course_member SET
		version = version + 1, updated_at = $2, updated_by = $3, properties = $4,
		course_group_id = $5, course_role_id = $6
		WHERE id = $1 AND version = $7`,
		member.ID, member.UpdatedAt, member.UpdatedBy, member.Properties,
		member.CourseGroupID, member.CourseRoleID, member.Version)
	if err != nil {
		return wrapWriteErr(err, "course member")
	}
	return s.checkVersioned(ctx, res, "course_member", member.ID)
}

// CourseMembersForUser returns every membership of the user; principal
// construction turns them into course-role claims.
func (s *Store) CourseMembersForUser(ctx context.Context, userID string) ([]api.CourseMember, error) {
	var members []api.CourseMember
	err := s.db.SelectContext(ctx, &members, `SELECT `+baseColumns+`, user_id, course_id, course_group_id, course_role_id
		FROM course_member WHERE user_id = $1 ORDER BY course_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load course memberships for user %s: %w", userID, err)
	}
	return members, nil
}

// ListCourseMembers pages through the members of a course.
func (s *Store) ListCourseMembers(ctx context.Context, courseID string, opts ListOptions) ([]api.CourseMember, error) {
	var members []api.CourseMember
	err := s.db.SelectContext(ctx, &members, `SELECT `+baseColumns+`, user_id, course_id, course_group_id, course_role_id
		FROM course_member WHERE course_id = $1 ORDER BY id LIMIT $2 OFFSET $3`, courseID, opts.limit(), opts.skip())
	if err != nil {
		return nil, fmt.Errorf("failed to list members of course %s: %w", courseID, err)
	}
	return members, nil
}

// EnsureExecutionBackend finds a backend by slug or creates it.
func (s *Store) EnsureExecutionBackend(ctx context.Context, backend *api.ExecutionBackend) (*api.ExecutionBackend, error) {
	existing := &api.ExecutionBackend{}
	err := s.db.GetContext(ctx, existing, `SELECT `+baseColumns+`, slug, type FROM execution_backend WHERE slug = $1`, backend.Slug)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up execution backend: %w", err)
	}

	backend.ID = newID()
	backend.Version = 1
	backend.CreatedAt = s.now()
	backend.UpdatedAt = backend.CreatedAt
	_, err = s.db.ExecContext(ctx, `INSERT INTO execution_backend (`+baseColumns+`, slug, type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		backend.ID, backend.Version, backend.CreatedAt, backend.UpdatedAt, backend.CreatedBy, backend.UpdatedBy,
		backend.Properties, backend.Slug, backend.Type)
	if err != nil {
		return nil, wrapWriteErr(err, "execution backend")
	}
	return backend, nil
}

// GetExecutionBackendBySlug resolves a backend slug.
func (s *Store) GetExecutionBackendBySlug(ctx context.Context, slug string) (*api.ExecutionBackend, error) {
	backend := &api.ExecutionBackend{}
	err := s.db.GetContext(ctx, backend, `SELECT `+baseColumns+`, slug, type FROM execution_backend WHERE slug = $1`, slug)
	if err != nil {
		return nil, getErr(err, "execution backend", slug)
	}
	return backend, nil
}
