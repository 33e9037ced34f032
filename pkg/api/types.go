package api

import (
	"time"
)

// Base carries the columns shared by every persisted entity. Version is a
// monotonic counter used for optimistic concurrency: updates must carry the
// version they read, and the store rejects the write when it moved.
type Base struct {
	ID         string      `json:"id" db:"id"`
	Version    int64       `json:"version" db:"version"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at" db:"updated_at"`
	CreatedBy  *string     `json:"created_by,omitempty" db:"created_by"`
	UpdatedBy  *string     `json:"updated_by,omitempty" db:"updated_by"`
	Properties PropertyMap `json:"properties,omitempty" db:"properties"`
}

// OrganizationType distinguishes the kinds of hierarchy roots.
type OrganizationType string

const (
	OrganizationTypeUser         OrganizationType = "user"
	OrganizationTypeCommunity    OrganizationType = "community"
	OrganizationTypeOrganization OrganizationType = "organization"
)

// Organization is a root of the Organization → CourseFamily → Course
// hierarchy.
type Organization struct {
	Base
	Path             Path             `json:"path" db:"path"`
	Title            string           `json:"title" db:"title"`
	OrganizationType OrganizationType `json:"organization_type" db:"organization_type"`
}

// CourseFamily groups courses below an organization; unique per
// (organization, path).
type CourseFamily struct {
	Base
	OrganizationID string `json:"organization_id" db:"organization_id"`
	Path           Path   `json:"path" db:"path"`
	Title          string `json:"title" db:"title"`
}

// Course is the unit students enroll into; unique per (family, path). Its
// properties carry the per-course GitLab identifiers (students group,
// student-template project, assignments project).
type Course struct {
	Base
	CourseFamilyID string `json:"course_family_id" db:"course_family_id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`
	Path           Path   `json:"path" db:"path"`
	Title          string `json:"title" db:"title"`
}

// Built-in course role identifiers. Identifiers of built-ins start with '_'.
const (
	CourseRoleOwner      = "_owner"
	CourseRoleMaintainer = "_maintainer"
	CourseRoleLecturer   = "_lecturer"
	CourseRoleTutor      = "_tutor"
	CourseRoleStudent    = "_student"
)

// CourseRole identifies a role a member can hold within a course.
type CourseRole struct {
	Base
	Title   string `json:"title" db:"title"`
	Builtin bool   `json:"builtin" db:"builtin"`
}

// CourseGroup is a named group of students within a course.
type CourseGroup struct {
	Base
	CourseID string `json:"course_id" db:"course_id"`
	Title    string `json:"title" db:"title"`
}

// CourseMember links a user to a course with a role; unique per
// (user, course). Members with the _student role must belong to a group.
type CourseMember struct {
	Base
	UserID        string  `json:"user_id" db:"user_id"`
	CourseID      string  `json:"course_id" db:"course_id"`
	CourseGroupID *string `json:"course_group_id,omitempty" db:"course_group_id"`
	CourseRoleID  string  `json:"course_role_id" db:"course_role_id"`
}

// CourseContentKind determines whether contents of a type are submittable
// assignments or structural units.
type CourseContentKind struct {
	ID            string `json:"id" db:"id"`
	Title         string `json:"title" db:"title"`
	HasAscendants bool   `json:"has_ascendants" db:"has_ascendants"`
	Submittable   bool   `json:"submittable" db:"submittable"`
}

// CourseContentType names a content type within a course and binds it to a
// kind.
type CourseContentType struct {
	Base
	CourseID            string `json:"course_id" db:"course_id"`
	Slug                string `json:"slug" db:"slug"`
	Title               string `json:"title" db:"title"`
	Color               string `json:"color,omitempty" db:"color"`
	CourseContentKindID string `json:"course_content_kind_id" db:"course_content_kind_id"`
}

// CourseContent is a node of the per-course content tree. The tree structure
// is encoded in Path; submittability is derived from the content type's kind.
type CourseContent struct {
	Base
	CourseID            string     `json:"course_id" db:"course_id"`
	Path                Path       `json:"path" db:"path"`
	Title               string     `json:"title" db:"title"`
	Description         string     `json:"description,omitempty" db:"description"`
	CourseContentTypeID string     `json:"course_content_type_id" db:"course_content_type_id"`
	Position            float64    `json:"position" db:"position"`
	MaxGroupSize        int        `json:"max_group_size" db:"max_group_size"`
	MaxSubmissions      *int       `json:"max_submissions,omitempty" db:"max_submissions"`
	MaxTestRuns         *int       `json:"max_test_runs,omitempty" db:"max_test_runs"`
	ExecutionBackendID  *string    `json:"execution_backend_id,omitempty" db:"execution_backend_id"`
	ArchivedAt          *time.Time `json:"archived_at,omitempty" db:"archived_at"`
}

// ExecutionBackend identifies one testing backend (python, matlab, ...).
type ExecutionBackend struct {
	Base
	Slug string `json:"slug" db:"slug"`
	Type string `json:"type" db:"type"`
}

// ExampleRepositorySourceType enumerates where example content lives.
type ExampleRepositorySourceType string

const (
	ExampleSourceGit    ExampleRepositorySourceType = "git"
	ExampleSourceMinio  ExampleRepositorySourceType = "minio"
	ExampleSourceGithub ExampleRepositorySourceType = "github"
	ExampleSourceS3     ExampleRepositorySourceType = "s3"
	ExampleSourceGitlab ExampleRepositorySourceType = "gitlab"
)

// ExampleRepository is a source of versioned examples.
type ExampleRepository struct {
	Base
	Name              string                      `json:"name" db:"name"`
	SourceType        ExampleRepositorySourceType `json:"source_type" db:"source_type"`
	SourceURL         string                      `json:"source_url" db:"source_url"`
	AccessCredentials *string                     `json:"access_credentials,omitempty" db:"access_credentials"`
	OrganizationID    *string                     `json:"organization_id,omitempty" db:"organization_id"`
}

// Example is a reusable assignment; unique per (repository, directory) and
// per (repository, identifier). Identifier is an ltree label independent of
// the filesystem layout.
type Example struct {
	Base
	ExampleRepositoryID string `json:"example_repository_id" db:"example_repository_id"`
	Directory           string `json:"directory" db:"directory"`
	Identifier          Path   `json:"identifier" db:"identifier"`
	Title               string `json:"title" db:"title"`
	Subject             string `json:"subject,omitempty" db:"subject"`
	Category            string `json:"category,omitempty" db:"category"`
	VersionIdentifier   string `json:"version_identifier,omitempty" db:"version_identifier"`
}

// ExampleVersion is one immutable snapshot of an example stored under
// StoragePath in the object store. VersionNumber is the authoritative
// ordering; the latest version is the one with the maximum number.
type ExampleVersion struct {
	Base
	ExampleID     string  `json:"example_id" db:"example_id"`
	VersionTag    string  `json:"version_tag" db:"version_tag"`
	VersionNumber int64   `json:"version_number" db:"version_number"`
	StoragePath   string  `json:"storage_path" db:"storage_path"`
	MetaYaml      string  `json:"meta_yaml" db:"meta_yaml"`
	TestYaml      *string `json:"test_yaml,omitempty" db:"test_yaml"`
}

// ExampleDependency is a directed edge between examples; the graph must stay
// acyclic. VersionConstraint is recorded as metadata only.
type ExampleDependency struct {
	Base
	ExampleID         string  `json:"example_id" db:"example_id"`
	DependsID         string  `json:"depends_id" db:"depends_id"`
	VersionConstraint *string `json:"version_constraint,omitempty" db:"version_constraint"`
}

// UserType distinguishes interactive users from token principals.
type UserType string

const (
	UserTypeUser  UserType = "user"
	UserTypeToken UserType = "token"
)

// User is an account holder or token principal.
type User struct {
	Base
	GivenName       string     `json:"given_name,omitempty" db:"given_name"`
	FamilyName      string     `json:"family_name,omitempty" db:"family_name"`
	Email           *string    `json:"email,omitempty" db:"email"`
	Username        *string    `json:"username,omitempty" db:"username"`
	UserType        UserType   `json:"user_type" db:"user_type"`
	TokenExpiration *time.Time `json:"token_expiration,omitempty" db:"token_expiration"`
	Archived        bool       `json:"archived" db:"archived"`
}

// Account links a user to an external identity provider.
type Account struct {
	Base
	UserID            string `json:"user_id" db:"user_id"`
	Provider          string `json:"provider" db:"provider"`
	Type              string `json:"type" db:"type"`
	ProviderAccountID string `json:"provider_account_id" db:"provider_account_id"`
}

// Role is a global (non-course) role.
type Role struct {
	Base
	Title   string `json:"title" db:"title"`
	Builtin bool   `json:"builtin" db:"builtin"`
}

// RoleClaim attaches one claim to a role.
type RoleClaim struct {
	RoleID     string `json:"role_id" db:"role_id"`
	ClaimType  string `json:"claim_type" db:"claim_type"`
	ClaimValue string `json:"claim_value" db:"claim_value"`
}

// UserRole assigns a global role to a user.
type UserRole struct {
	UserID string `json:"user_id" db:"user_id"`
	RoleID string `json:"role_id" db:"role_id"`
}

// ResultStatus enumerates the lifecycle of a test run result.
type ResultStatus string

const (
	ResultStatusPending  ResultStatus = "pending"
	ResultStatusRunning  ResultStatus = "running"
	ResultStatusFinished ResultStatus = "finished"
	ResultStatusFailed   ResultStatus = "failed"
)

// Result records the outcome of one test execution, supplied by an external
// evaluator.
type Result struct {
	Base
	CourseMemberID          string       `json:"course_member_id" db:"course_member_id"`
	CourseContentID         string       `json:"course_content_id" db:"course_content_id"`
	CourseSubmissionGroupID *string      `json:"course_submission_group_id,omitempty" db:"course_submission_group_id"`
	ExecutionBackendID      string       `json:"execution_backend_id" db:"execution_backend_id"`
	TestSystemID            string       `json:"test_system_id" db:"test_system_id"`
	Submit                  bool         `json:"submit" db:"submit"`
	Result                  float64      `json:"result" db:"result"`
	ResultJSON              PropertyMap  `json:"result_json,omitempty" db:"result_json"`
	VersionIdentifier       string       `json:"version_identifier" db:"version_identifier"`
	Status                  ResultStatus `json:"status" db:"status"`
}

// CourseSubmissionGroup is the team a submission belongs to.
type CourseSubmissionGroup struct {
	Base
	CourseID        string `json:"course_id" db:"course_id"`
	CourseContentID string `json:"course_content_id" db:"course_content_id"`
	MaxGroupSize    int    `json:"max_group_size" db:"max_group_size"`
}
