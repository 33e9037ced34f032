package studentrepo

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/computor-org/computor/pkg/api"
	"github.com/computor-org/computor/pkg/store"
)

// Host is the slice of the hosting client the fork workflow uses.
type Host interface {
	GetProject(ctx context.Context, pid interface{}) (*gitlab.Project, error)
	ForkProject(ctx context.Context, sourceID, targetNamespaceID int, name, path string) (*gitlab.Project, error)
	UnprotectDefaultBranches(ctx context.Context, projectID int) error
	AddMaintainer(ctx context.Context, projectID, userID int) error
	UserByEmail(ctx context.Context, email string) (*gitlab.User, error)
}

// Activities carries the dependencies of the fork workflow.
type Activities struct {
	Store  *store.Store
	Host   Host
	Logger *logrus.Entry
}

func (a *Activities) logger() *logrus.Entry {
	if a.Logger == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return a.Logger
}

// ResolveTarget loads the member, their user and the course's hosting
// identifiers, and short-circuits when a repository was already recorded.
func (a *Activities) ResolveTarget(ctx context.Context, req Request) (*target, error) {
	member, err := a.Store.GetCourseMember(ctx, req.CourseMemberID)
	if err != nil {
		return nil, err
	}
	if existing, err := member.Properties.GitlabRepository(); err != nil {
		return nil, err
	} else if existing != nil && existing.ProjectID > 0 {
		return &target{CourseMemberID: member.ID, Existing: existing, RemoteUserID: existing.RemoteUserID}, nil
	}

	user, err := a.Store.GetUser(ctx, member.UserID)
	if err != nil {
		return nil, err
	}
	if user.Username == nil || *user.Username == "" {
		return nil, fmt.Errorf("member %s has no username to derive a repository path from", member.ID)
	}
	if user.Email == nil || *user.Email == "" {
		return nil, fmt.Errorf("member %s has no email to resolve the remote user", member.ID)
	}

	course, err := a.Store.GetCourse(ctx, member.CourseID)
	if err != nil {
		return nil, err
	}
	projects, err := course.Properties.GitlabCourse()
	if err != nil {
		return nil, err
	}
	if projects == nil || projects.StudentsGroupID == 0 {
		return nil, fmt.Errorf("course %s has no provisioned hosting projects", course.ID)
	}
	templateRepo, ok := projects.Projects["student-template"]
	if !ok {
		return nil, fmt.Errorf("course %s has no student-template project", course.ID)
	}

	return &target{
		CourseMemberID:    member.ID,
		Slug:              Slug(*user.Username),
		StudentsGroupID:   projects.StudentsGroupID,
		StudentsGroupPath: projects.NamespacePath + "/students",
		TemplateProjectID: templateRepo.ProjectID,
		Email:             *user.Email,
	}, nil
}

// EnsureFork looks the target project up by path and forks the template
// when it does not exist yet. Unprotecting the default branches runs in
// both cases so a half-finished earlier run converges.
func (a *Activities) EnsureFork(ctx context.Context, in forkInput) (*forkOutput, error) {
	path := in.StudentsGroupPath + "/" + in.Slug

	project, err := a.Host.GetProject(ctx, path)
	if err != nil {
		return nil, err
	}
	reused := project != nil
	if !reused {
		a.logger().WithField("path", path).Info("Forking student repository")
		project, err = a.Host.ForkProject(ctx, in.TemplateProjectID, in.StudentsGroupID, in.Slug, in.Slug)
		if err != nil {
			return nil, err
		}
	}
	if err := a.Host.UnprotectDefaultBranches(ctx, project.ID); err != nil {
		return nil, err
	}

	namespaceID := in.StudentsGroupID
	if project.Namespace != nil {
		namespaceID = project.Namespace.ID
	}
	return &forkOutput{
		Repository: api.GitlabRepoInfo{
			ProjectID:   project.ID,
			FullPath:    project.PathWithNamespace,
			WebURL:      project.WebURL,
			GroupID:     in.StudentsGroupID,
			NamespaceID: namespaceID,
		},
		Reused: reused,
	}, nil
}

// GrantAccess adds the student as maintainer, resolving the remote user by
// email unless an id is already cached on the member.
func (a *Activities) GrantAccess(ctx context.Context, in grantInput) (int, error) {
	userID := in.RemoteUserID
	if userID == 0 {
		user, err := a.Host.UserByEmail(ctx, in.Email)
		if err != nil {
			return 0, err
		}
		if user == nil {
			return 0, fmt.Errorf("no remote user with email %s", in.Email)
		}
		userID = user.ID
	}
	if err := a.Host.AddMaintainer(ctx, in.ProjectID, userID); err != nil {
		return 0, err
	}
	return userID, nil
}

// PersistRepository records the remote identifiers on the member and, when
// the member submits in a team, on the submission group.
func (a *Activities) PersistRepository(ctx context.Context, in persistInput) error {
	member, err := a.Store.GetCourseMember(ctx, in.CourseMemberID)
	if err != nil {
		return err
	}
	if err := member.Properties.SetGitlabRepository(&in.Repository); err != nil {
		return err
	}
	if err := a.Store.UpdateCourseMember(ctx, member); err != nil {
		return err
	}

	if in.SubmissionGroupID == nil {
		return nil
	}
	group, err := a.Store.GetCourseSubmissionGroup(ctx, *in.SubmissionGroupID)
	if err != nil {
		return err
	}
	if err := group.Properties.Set("gitlab", &in.Repository); err != nil {
		return err
	}
	return a.Store.UpdateCourseSubmissionGroup(ctx, group)
}
