// Package config models the declarative deployment document describing the
// organization hierarchy, courses, users and execution backends to
// reconcile.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"sigs.k8s.io/yaml"

	"github.com/computor-org/computor/pkg/api"
)

// GitLabConfig points an organization at its GitLab instance.
type GitLabConfig struct {
	URL      string `json:"url" validate:"required,url"`
	Token    string `json:"token,omitempty"`
	ParentID int    `json:"parent_id,omitempty"`
}

// ContentTypeConfig declares a course content type.
type ContentTypeConfig struct {
	Slug        string `json:"slug" validate:"required"`
	Kind        string `json:"kind" validate:"required"`
	Title       string `json:"title,omitempty"`
	Color       string `json:"color,omitempty"`
	Description string `json:"description,omitempty"`
}

// GroupConfig declares a student group.
type GroupConfig struct {
	Title string `json:"title" validate:"required"`
}

// CourseConfig declares one course inside a family.
type CourseConfig struct {
	Path         api.Path            `json:"path" validate:"required"`
	Title        string              `json:"title,omitempty"`
	Description  string              `json:"description,omitempty"`
	ContentTypes []ContentTypeConfig `json:"content_types,omitempty" validate:"dive"`
	Groups       []GroupConfig       `json:"groups,omitempty" validate:"dive"`
}

// CourseFamilyConfig declares a family and its courses.
type CourseFamilyConfig struct {
	Path        api.Path       `json:"path" validate:"required"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Courses     []CourseConfig `json:"courses,omitempty" validate:"dive"`
}

// OrganizationConfig declares an organization, its GitLab binding and the
// families below it.
type OrganizationConfig struct {
	Path           api.Path             `json:"path" validate:"required"`
	Title          string               `json:"title,omitempty"`
	Description    string               `json:"description,omitempty"`
	GitLab         *GitLabConfig        `json:"gitlab,omitempty"`
	CourseFamilies []CourseFamilyConfig `json:"course_families,omitempty" validate:"dive"`
}

// AccountConfig binds a user to an external identity provider.
type AccountConfig struct {
	Provider          string `json:"provider" validate:"required"`
	Type              string `json:"type,omitempty"`
	ProviderAccountID string `json:"provider_account_id" validate:"required"`
}

// CourseMemberConfig enrols a user into a course. Course is the full ltree
// path organization.family.course.
type CourseMemberConfig struct {
	Course api.Path `json:"course" validate:"required"`
	Role   string   `json:"role" validate:"required"`
	Group  string   `json:"group,omitempty"`
}

// UserConfig declares a platform user with accounts and memberships.
type UserConfig struct {
	Username      string               `json:"username" validate:"required"`
	Email         string               `json:"email" validate:"required,email"`
	GivenName     string               `json:"given_name,omitempty"`
	FamilyName    string               `json:"family_name,omitempty"`
	Password      string               `json:"password,omitempty"`
	Roles         []string             `json:"roles,omitempty"`
	Accounts      []AccountConfig      `json:"accounts,omitempty" validate:"dive"`
	CourseMembers []CourseMemberConfig `json:"course_members,omitempty" validate:"dive"`
}

// ExecutionBackendConfig declares a test execution backend.
type ExecutionBackendConfig struct {
	Slug       string          `json:"slug" validate:"required"`
	Type       string          `json:"type" validate:"required"`
	Properties api.PropertyMap `json:"properties,omitempty"`
}

// Deployment is the root of the declarative document.
type Deployment struct {
	Organizations     []OrganizationConfig     `json:"organizations" validate:"required,min=1,dive"`
	Users             []UserConfig             `json:"users,omitempty" validate:"dive"`
	ExecutionBackends []ExecutionBackendConfig `json:"execution_backends,omitempty" validate:"dive"`
}

var validate = validator.New()

// Parse decodes and validates a deployment document.
func Parse(data []byte) (*Deployment, error) {
	d := &Deployment{}
	if err := yaml.UnmarshalStrict(data, d); err != nil {
		return nil, fmt.Errorf("failed to parse deployment config: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Load reads and parses a deployment document from disk.
func Load(path string) (*Deployment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Validate checks structural constraints and path validity.
func (d *Deployment) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("deployment config is invalid: %w", err)
	}
	for _, org := range d.Organizations {
		if err := org.Path.Validate(); err != nil {
			return fmt.Errorf("organization %s: %w", org.Path, err)
		}
		for _, family := range org.CourseFamilies {
			if err := family.Path.Validate(); err != nil {
				return fmt.Errorf("course family %s: %w", family.Path, err)
			}
			for _, course := range family.Courses {
				if err := course.Path.Validate(); err != nil {
					return fmt.Errorf("course %s: %w", course.Path, err)
				}
			}
		}
	}
	for _, user := range d.Users {
		for _, member := range user.CourseMembers {
			if err := member.Course.Validate(); err != nil {
				return fmt.Errorf("user %s membership %s: %w", user.Username, member.Course, err)
			}
			if member.Course.NLevel() != 3 {
				return fmt.Errorf("user %s membership %s: course paths have the form organization.family.course", user.Username, member.Course)
			}
		}
	}
	return nil
}

// FindCourse resolves a full course path to its organization, family and
// course sections.
func (d *Deployment) FindCourse(coursePath api.Path) (*OrganizationConfig, *CourseFamilyConfig, *CourseConfig, error) {
	for i := range d.Organizations {
		org := &d.Organizations[i]
		for j := range org.CourseFamilies {
			family := &org.CourseFamilies[j]
			for k := range family.Courses {
				course := &family.Courses[k]
				full := api.Path(string(org.Path) + "." + string(family.Path) + "." + string(course.Path))
				if full == coursePath {
					return org, family, course, nil
				}
			}
		}
	}
	return nil, nil, nil, fmt.Errorf("course %s is not declared in the deployment config", coursePath)
}
