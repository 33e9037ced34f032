package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/computor-org/computor/pkg/api"
	"github.com/computor-org/computor/pkg/config"
	hosting "github.com/computor-org/computor/pkg/gitlab"
	"github.com/computor-org/computor/pkg/store"
)

// courseProjectNames are the repositories every course gets. The
// student-template project is the one students fork; assignments holds the
// full examples and is never exposed to them.
var courseProjectNames = []string{"tests", "student-template", "reference", "examples", "documents", "assignments"}

// Host is the slice of the hosting client the hierarchy activities use.
type Host interface {
	EnsureGroup(ctx context.Context, name, path, fullPath string, parentID *int) (*gitlab.Group, error)
	EnsureProject(ctx context.Context, name, path, fullPath string, namespaceID int) (*gitlab.Project, error)
	UnprotectDefaultBranches(ctx context.Context, projectID int) error
}

// Activities carries the dependencies of the hierarchy workflow.
type Activities struct {
	Store  *store.Store
	Logger *logrus.Entry
	// NewHost connects to one organization's Git hosting instance.
	// Defaults to the real client; tests substitute a fake.
	NewHost func(url, token string, logger *logrus.Entry) (Host, error)
}

func (a *Activities) logger() *logrus.Entry {
	if a.Logger == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return a.Logger
}

func (a *Activities) host(cfg *config.GitLabConfig) (Host, error) {
	newHost := a.NewHost
	if newHost == nil {
		newHost = func(url, token string, logger *logrus.Entry) (Host, error) {
			return hosting.NewClient(url, token, logger)
		}
	}
	return newHost(cfg.URL, cfg.Token, a.logger())
}

func titleOrPath(title string, path api.Path) string {
	if title != "" {
		return title
	}
	return path.String()
}

// ReconcileOrganization finds or creates the organization and its remote
// group. The remote identifiers are persisted into properties so later runs
// skip the hosting API entirely.
func (a *Activities) ReconcileOrganization(ctx context.Context, in orgInput) (*orgOutput, error) {
	org, err := a.Store.GetOrganizationByPath(ctx, in.Path)
	if errors.Is(err, store.ErrNotFound) {
		org = &api.Organization{
			Path:             in.Path,
			Title:            titleOrPath(in.Title, in.Path),
			OrganizationType: api.OrganizationTypeOrganization,
		}
		if err := a.Store.CreateOrganization(ctx, org); err != nil {
			return nil, err
		}
		a.logger().WithField("organization", in.Path).Info("Created organization")
	} else if err != nil {
		return nil, err
	}

	if in.GitLab == nil {
		return &orgOutput{OrganizationID: org.ID}, nil
	}
	if info, err := org.Properties.GitlabInfo(); err != nil {
		return nil, err
	} else if info != nil && info.GroupID > 0 {
		return &orgOutput{OrganizationID: org.ID, Group: info}, nil
	}

	host, err := a.host(in.GitLab)
	if err != nil {
		return nil, err
	}
	var parentID *int
	if in.GitLab.ParentID > 0 {
		parentID = &in.GitLab.ParentID
	}
	group, err := host.EnsureGroup(ctx, titleOrPath(in.Title, in.Path), in.Path.String(), in.Path.String(), parentID)
	if err != nil {
		return nil, err
	}
	info := &api.GitlabGroupInfo{GroupID: group.ID, NamespacePath: group.FullPath, WebURL: group.WebURL}
	if err := org.Properties.SetGitlabInfo(info); err != nil {
		return nil, err
	}
	if err := a.Store.UpdateOrganization(ctx, org); err != nil {
		return nil, err
	}
	return &orgOutput{OrganizationID: org.ID, Group: info}, nil
}

// ReconcileCourseFamily finds or creates the family and its remote group
// below the organization's group.
func (a *Activities) ReconcileCourseFamily(ctx context.Context, in familyInput) (*familyOutput, error) {
	family, err := a.Store.GetCourseFamilyByPath(ctx, in.OrganizationID, in.Path)
	if errors.Is(err, store.ErrNotFound) {
		family = &api.CourseFamily{
			OrganizationID: in.OrganizationID,
			Path:           in.Path,
			Title:          titleOrPath(in.Title, in.Path),
		}
		if err := a.Store.CreateCourseFamily(ctx, family); err != nil {
			return nil, err
		}
		a.logger().WithField("family", in.Path).Info("Created course family")
	} else if err != nil {
		return nil, err
	}

	if in.GitLab == nil || in.Parent == nil {
		return &familyOutput{CourseFamilyID: family.ID}, nil
	}
	if info, err := family.Properties.GitlabInfo(); err != nil {
		return nil, err
	} else if info != nil && info.GroupID > 0 {
		return &familyOutput{CourseFamilyID: family.ID, Group: info}, nil
	}

	host, err := a.host(in.GitLab)
	if err != nil {
		return nil, err
	}
	fullPath := in.Parent.NamespacePath + "/" + in.Path.String()
	group, err := host.EnsureGroup(ctx, titleOrPath(in.Title, in.Path), in.Path.String(), fullPath, &in.Parent.GroupID)
	if err != nil {
		return nil, err
	}
	info := &api.GitlabGroupInfo{GroupID: group.ID, NamespacePath: group.FullPath, WebURL: group.WebURL}
	if err := family.Properties.SetGitlabInfo(info); err != nil {
		return nil, err
	}
	if err := a.Store.UpdateCourseFamily(ctx, family); err != nil {
		return nil, err
	}
	return &familyOutput{CourseFamilyID: family.ID, Group: info}, nil
}

// ReconcileCourse finds or creates the course, its remote group, the
// students subgroup and the per-course projects. Project default branches
// are unprotected so generated content can be pushed.
func (a *Activities) ReconcileCourse(ctx context.Context, in courseInput) (*courseOutput, error) {
	course, err := a.Store.GetCourseByPath(ctx, in.CourseFamilyID, in.Path)
	if errors.Is(err, store.ErrNotFound) {
		course = &api.Course{
			CourseFamilyID: in.CourseFamilyID,
			OrganizationID: in.OrganizationID,
			Path:           in.Path,
			Title:          titleOrPath(in.Title, in.Path),
		}
		if err := a.Store.CreateCourse(ctx, course); err != nil {
			return nil, err
		}
		a.logger().WithField("course", in.Path).Info("Created course")
	} else if err != nil {
		return nil, err
	}

	if in.GitLab == nil || in.Parent == nil {
		return &courseOutput{CourseID: course.ID}, nil
	}
	if projects, err := course.Properties.GitlabCourse(); err != nil {
		return nil, err
	} else if projects != nil && projects.GroupID > 0 && len(projects.Projects) == len(courseProjectNames) {
		return &courseOutput{CourseID: course.ID, Projects: projects}, nil
	}

	host, err := a.host(in.GitLab)
	if err != nil {
		return nil, err
	}
	fullPath := in.Parent.NamespacePath + "/" + in.Path.String()
	group, err := host.EnsureGroup(ctx, titleOrPath(in.Title, in.Path), in.Path.String(), fullPath, &in.Parent.GroupID)
	if err != nil {
		return nil, err
	}
	students, err := host.EnsureGroup(ctx, "students", "students", group.FullPath+"/students", &group.ID)
	if err != nil {
		return nil, err
	}

	projects := &api.GitlabCourseProjects{
		GroupID:         group.ID,
		NamespacePath:   group.FullPath,
		WebURL:          group.WebURL,
		StudentsGroupID: students.ID,
		Projects:        make(map[string]api.RepoID, len(courseProjectNames)),
	}
	for _, name := range courseProjectNames {
		project, err := host.EnsureProject(ctx, name, name, group.FullPath+"/"+name, group.ID)
		if err != nil {
			return nil, err
		}
		if err := host.UnprotectDefaultBranches(ctx, project.ID); err != nil {
			return nil, err
		}
		projects.Projects[name] = api.RepoID{
			ProjectID: project.ID,
			FullPath:  project.PathWithNamespace,
			WebURL:    project.WebURL,
		}
	}

	if err := course.Properties.SetGitlabCourse(projects); err != nil {
		return nil, err
	}
	if err := a.Store.UpdateCourse(ctx, course); err != nil {
		return nil, err
	}
	return &courseOutput{CourseID: course.ID, Projects: projects}, nil
}

// contentKind derives the kind record backing a configured content type.
// Only the assignment kind is submittable.
func contentKind(kind string) api.CourseContentKind {
	return api.CourseContentKind{
		ID:            kind,
		Title:         kind,
		HasAscendants: true,
		Submittable:   kind == "assignment",
	}
}

// EnsureCourseCatalog creates the course's content types and student
// groups.
func (a *Activities) EnsureCourseCatalog(ctx context.Context, in catalogInput) error {
	for _, ct := range in.ContentTypes {
		kind := contentKind(ct.Kind)
		if err := a.Store.EnsureCourseContentKind(ctx, &kind); err != nil {
			return err
		}
		contentType := &api.CourseContentType{
			CourseID:            in.CourseID,
			Slug:                ct.Slug,
			Title:               titleOrPath(ct.Title, api.Path(ct.Slug)),
			Color:               ct.Color,
			CourseContentKindID: ct.Kind,
		}
		if _, err := a.Store.EnsureCourseContentType(ctx, contentType); err != nil {
			return err
		}
	}
	for _, g := range in.Groups {
		if _, err := a.Store.EnsureCourseGroup(ctx, &api.CourseGroup{CourseID: in.CourseID, Title: g.Title}); err != nil {
			return err
		}
	}
	return nil
}

// EnsureCourseRoles inserts the built-in course roles.
func (a *Activities) EnsureCourseRoles(ctx context.Context) error {
	for _, id := range []string{
		api.CourseRoleOwner, api.CourseRoleMaintainer, api.CourseRoleLecturer,
		api.CourseRoleTutor, api.CourseRoleStudent,
	} {
		role := &api.CourseRole{Title: strings.TrimPrefix(id, "_"), Builtin: true}
		role.ID = id
		if err := a.Store.EnsureCourseRole(ctx, role); err != nil {
			return err
		}
	}
	return nil
}

// EnsureExecutionBackends registers the configured backends by slug.
func (a *Activities) EnsureExecutionBackends(ctx context.Context, backends []config.ExecutionBackendConfig) error {
	for _, b := range backends {
		backend := &api.ExecutionBackend{Slug: b.Slug, Type: b.Type}
		backend.Properties = b.Properties
		if _, err := a.Store.EnsureExecutionBackend(ctx, backend); err != nil {
			return err
		}
	}
	return nil
}

// ReconcileUser finds or creates the user, their provider accounts, global
// roles and course memberships. Students are placed into their group before
// the membership is created.
func (a *Activities) ReconcileUser(ctx context.Context, in userInput) error {
	user, err := a.Store.GetUserByUsername(ctx, in.User.Username)
	if errors.Is(err, store.ErrNotFound) {
		username := in.User.Username
		email := in.User.Email
		user = &api.User{
			GivenName:  in.User.GivenName,
			FamilyName: in.User.FamilyName,
			Email:      &email,
			Username:   &username,
		}
		if err := a.Store.CreateUser(ctx, user); err != nil {
			return err
		}
		a.logger().WithField("username", username).Info("Created user")
	} else if err != nil {
		return err
	}

	for _, roleID := range in.User.Roles {
		role := &api.Role{Title: strings.TrimPrefix(roleID, "_"), Builtin: strings.HasPrefix(roleID, "_")}
		role.ID = roleID
		if err := a.Store.EnsureRole(ctx, role); err != nil {
			return err
		}
		if err := a.Store.AssignUserRole(ctx, user.ID, roleID); err != nil {
			return err
		}
	}

	for _, acct := range in.User.Accounts {
		accountType := acct.Type
		if accountType == "" {
			accountType = "oauth"
		}
		if _, err := a.Store.EnsureAccount(ctx, &api.Account{
			UserID:            user.ID,
			Provider:          acct.Provider,
			Type:              accountType,
			ProviderAccountID: acct.ProviderAccountID,
		}); err != nil {
			return err
		}
	}

	for _, m := range in.User.CourseMembers {
		courseID, ok := in.CourseIDs[string(m.Course)]
		if !ok {
			return fmt.Errorf("membership of %s references course %s which this deployment does not declare", in.User.Username, m.Course)
		}
		var groupID *string
		if m.Group != "" {
			group, err := a.Store.EnsureCourseGroup(ctx, &api.CourseGroup{CourseID: courseID, Title: m.Group})
			if err != nil {
				return err
			}
			groupID = &group.ID
		}
		member, err := a.Store.EnsureCourseMember(ctx, &api.CourseMember{
			UserID:        user.ID,
			CourseID:      courseID,
			CourseGroupID: groupID,
			CourseRoleID:  m.Role,
		})
		if err != nil {
			return err
		}
		if member.CourseRoleID != m.Role || !equalGroup(member.CourseGroupID, groupID) {
			member.CourseRoleID = m.Role
			member.CourseGroupID = groupID
			if err := a.Store.UpdateCourseMember(ctx, member); err != nil {
				return err
			}
		}
	}
	return nil
}

func equalGroup(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
