package store

import (
	"context"
	"fmt"

	"github.com/computor-org/computor/pkg/api"
)

const baseColumns = `id, version, created_at, updated_at, created_by, updated_by, properties`

// CreateOrganization inserts a hierarchy root. The path must be valid and
// unique across organizations.
func (s *Store) CreateOrganization(ctx context.Context, org *api.Organization) error {
	if err := org.Path.Validate(); err != nil {
		return validationErr("path", err.Error())
	}
	org.ID = newID()
	org.Version = 1
	org.CreatedAt = s.now()
	org.UpdatedAt = org.CreatedAt
	_, err := s.db.ExecContext(ctx, `INSERT INTO organization
		(`+baseColumns+`, path, title, organization_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		org.ID, org.Version, org.CreatedAt, org.UpdatedAt, org.CreatedBy, org.UpdatedBy, org.Properties,
		org.Path, org.Title, org.OrganizationType)
	return wrapWriteErr(err, "organization")
}

// GetOrganization loads an organization by id.
func (s *Store) GetOrganization(ctx context.Context, id string) (*api.Organization, error) {
	org := &api.Organization{}
	err := s.db.GetContext(ctx, org, `SELECT `+baseColumns+`, path, title, organization_type
		FROM organization WHERE id = $1`, id)
	if err != nil {
		return nil, getErr(err, "organization", id)
	}
	return org, nil
}

// GetOrganizationByPath looks an organization up by its natural key.
func (s *Store) GetOrganizationByPath(ctx context.Context, path api.Path) (*api.Organization, error) {
	org := &api.Organization{}
	err := s.db.GetContext(ctx, org, `SELECT `+baseColumns+`, path, title, organization_type
		FROM organization WHERE path = $1`, path)
	if err != nil {
		return nil, getErr(err, "organization", path.String())
	}
	return org, nil
}

// UpdateOrganization writes mutable fields under optimistic concurrency.
func (s *Store) UpdateOrganization(ctx context.Context, org *api.Organization) error {
	org.UpdatedAt = s.now()
	res, err := s.db.ExecContext(ctx, `UPDATE organization SET
		version = version + 1, updated_at = $2, updated_by = $3, properties = $4, title = $5
		WHERE id = $1 AND version = $6`,
		org.ID, org.UpdatedAt, org.UpdatedBy, org.Properties, org.Title, org.Version)
	if err != nil {
		return wrapWriteErr(err, "organization")
	}
	return s.checkVersioned(ctx, res, "organization", org.ID)
}

// ListOrganizations pages through all organizations ordered by path.
func (s *Store) ListOrganizations(ctx context.Context, opts ListOptions) ([]api.Organization, error) {
	var orgs []api.Organization
	err := s.db.SelectContext(ctx, &orgs, `SELECT `+baseColumns+`, path, title, organization_type
		FROM organization ORDER BY path LIMIT $1 OFFSET $2`, opts.limit(), opts.skip())
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	return orgs, nil
}

// CreateCourseFamily inserts a family; unique per (organization, path).
func (s *Store) CreateCourseFamily(ctx context.Context, family *api.CourseFamily) error {
	if err := family.Path.Validate(); err != nil {
		return validationErr("path", err.Error())
	}
	family.ID = newID()
	family.Version = 1
	family.CreatedAt = s.now()
	family.UpdatedAt = family.CreatedAt
	_, err := s.db.ExecContext(ctx, `INSERT INTO course_family
		(`+baseColumns+`, organization_id, path, title)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		family.ID, family.Version, family.CreatedAt, family.UpdatedAt, family.CreatedBy, family.UpdatedBy, family.Properties,
		family.OrganizationID, family.Path, family.Title)
	return wrapWriteErr(err, "course family")
}

// GetCourseFamily loads a family by id.
func (s *Store) GetCourseFamily(ctx context.Context, id string) (*api.CourseFamily, error) {
	family := &api.CourseFamily{}
	err := s.db.GetContext(ctx, family, `SELECT `+baseColumns+`, organization_id, path, title
		FROM course_family WHERE id = $1`, id)
	if err != nil {
		return nil, getErr(err, "course family", id)
	}
	return family, nil
}

// GetCourseFamilyByPath looks a family up by its natural key.
func (s *Store) GetCourseFamilyByPath(ctx context.Context, organizationID string, path api.Path) (*api.CourseFamily, error) {
	family := &api.CourseFamily{}
	err := s.db.GetContext(ctx, family, `SELECT `+baseColumns+`, organization_id, path, title
		FROM course_family WHERE organization_id = $1 AND path = $2`, organizationID, path)
	if err != nil {
		return nil, getErr(err, "course family", path.String())
	}
	return family, nil
}

// UpdateCourseFamily writes mutable fields under optimistic concurrency.
func (s *Store) UpdateCourseFamily(ctx context.Context, family *api.CourseFamily) error {
	family.UpdatedAt = s.now()
	res, err := s.db.ExecContext(ctx, `UPDATE course_family SET
		version = version + 1, updated_at = $2, updated_by = $3, properties = $4, title = $5
		WHERE id = $1 AND version = $6`,
		family.ID, family.UpdatedAt, family.UpdatedBy, family.Properties, family.Title, family.Version)
	if err != nil {
		return wrapWriteErr(err, "course family")
	}
	return s.checkVersioned(ctx, res, "course_family", family.ID)
}

// CreateCourse inserts a course; unique per (family, path).
func (s *Store) CreateCourse(ctx context.Context, course *api.Course) error {
	if err := course.Path.Validate(); err != nil {
		return validationErr("path", err.Error())
	}
	course.ID = newID()
	course.Version = 1
	course.CreatedAt = s.now()
	course.UpdatedAt = course.CreatedAt
	_, err := s.db.ExecContext(ctx, `INSERT INTO course
		(`+baseColumns+`, course_family_id, organization_id, path, title)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		course.ID, course.Version, course.CreatedAt, course.UpdatedAt, course.CreatedBy, course.UpdatedBy, course.Properties,
		course.CourseFamilyID, course.OrganizationID, course.Path, course.Title)
	return wrapWriteErr(err, "course")
}

// GetCourse loads a course by id.
func (s *Store) GetCourse(ctx context.Context, id string) (*api.Course, error) {
	course := &api.Course{}
	err := s.db.GetContext(ctx, course, `SELECT `+baseColumns+`, course_family_id, organization_id, path, title
		FROM course WHERE id = $1`, id)
	if err != nil {
		return nil, getErr(err, "course", id)
	}
	return course, nil
}

// GetCourseByPath looks a course up by its natural key within a family.
func (s *Store) GetCourseByPath(ctx context.Context, familyID string, path api.Path) (*api.Course, error) {
	course := &api.Course{}
	err := s.db.GetContext(ctx, course, `SELECT `+baseColumns+`, course_family_id, organization_id, path, title
		FROM course WHERE course_family_id = $1 AND path = $2`, familyID, path)
	if err != nil {
		return nil, getErr(err, "course", path.String())
	}
	return course, nil
}

// UpdateCourse writes mutable fields under optimistic concurrency.
func (s *Store) UpdateCourse(ctx context.Context, course *api.Course) error {
	course.UpdatedAt = s.now()
	res, err := s.db.ExecContext(ctx, `UPDATE course SET
		version = version + 1, updated_at = $2, updated_by = $3, properties = $4, title = $5
		WHERE id = $1 AND version = $6`,
		course.ID, course.UpdatedAt, course.UpdatedBy, course.Properties, course.Title, course.Version)
	if err != nil {
		return wrapWriteErr(err, "course")
	}
	return s.checkVersioned(ctx, res, "course", course.ID)
}

// ListCourses pages through courses, optionally restricted to a set of ids
// (the authorization core passes the courses the principal may see).
func (s *Store) ListCourses(ctx context.Context, courseIDs []string, opts ListOptions) ([]api.Course, error) {
	var courses []api.Course
	var err error
	if courseIDs != nil && len(courseIDs) == 0 {
		return courses, nil
	}
	if courseIDs == nil {
		err = s.db.SelectContext(ctx, &courses, `SELECT `+baseColumns+`, course_family_id, organization_id, path, title
			FROM course ORDER BY path LIMIT $1 OFFSET $2`, opts.limit(), opts.skip())
	} else {
		query, args, qErr := buildInQuery(`SELECT `+baseColumns+`, course_family_id, organization_id, path, title
			FROM course WHERE id IN (?) ORDER BY path LIMIT ? OFFSET ?`, courseIDs, opts.limit(), opts.skip())
		if qErr != nil {
			return nil, qErr
		}
		err = s.db.SelectContext(ctx, &courses, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	return courses, nil
}
