// Package gitlab wraps the GitLab API for the operations course
// provisioning needs: groups, projects, forks, branch protection and
// membership. The wrapper is deliberately narrow so tests can fake the
// service interfaces.
package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	gitlab "gitlab.com/gitlab-org/api/client-go"
)

// ErrForkTimeout is returned when a forked project does not become
// readable within the polling budget.
var ErrForkTimeout = fmt.Errorf("forked project did not become ready in time")

type groupsService interface {
	GetGroup(gid interface{}, opt *gitlab.GetGroupOptions, options ...gitlab.RequestOptionFunc) (*gitlab.Group, *gitlab.Response, error)
	CreateGroup(opt *gitlab.CreateGroupOptions, options ...gitlab.RequestOptionFunc) (*gitlab.Group, *gitlab.Response, error)
}

type projectsService interface {
	GetProject(pid interface{}, opt *gitlab.GetProjectOptions, options ...gitlab.RequestOptionFunc) (*gitlab.Project, *gitlab.Response, error)
	CreateProject(opt *gitlab.CreateProjectOptions, options ...gitlab.RequestOptionFunc) (*gitlab.Project, *gitlab.Response, error)
	ForkProject(pid interface{}, opt *gitlab.ForkProjectOptions, options ...gitlab.RequestOptionFunc) (*gitlab.Project, *gitlab.Response, error)
	ListProjects(opt *gitlab.ListProjectsOptions, options ...gitlab.RequestOptionFunc) ([]*gitlab.Project, *gitlab.Response, error)
}

type protectedBranchesService interface {
	UnprotectRepositoryBranches(pid interface{}, branch string, options ...gitlab.RequestOptionFunc) (*gitlab.Response, error)
}

type projectMembersService interface {
	AddProjectMember(pid interface{}, opt *gitlab.AddProjectMemberOptions, options ...gitlab.RequestOptionFunc) (*gitlab.ProjectMember, *gitlab.Response, error)
}

type usersService interface {
	ListUsers(opt *gitlab.ListUsersOptions, options ...gitlab.RequestOptionFunc) ([]*gitlab.User, *gitlab.Response, error)
}

// Client is the course-provisioning view of a GitLab instance.
type Client struct {
	groups            groupsService
	projects          projectsService
	protectedBranches protectedBranchesService
	members           projectMembersService
	users             usersService
	logger            *logrus.Entry

	// Fork polling: one short initial wait, then fixed intervals.
	forkInitialDelay time.Duration
	forkPollInterval time.Duration
	forkPollAttempts int
}

// NewClient connects to a GitLab instance with a personal or group access
// token. Transient API errors are retried with backoff.
func NewClient(baseURL, token string, logger *logrus.Entry) (*Client, error) {
	retry := retryablehttp.NewClient()
	retry.RetryMax = 4
	retry.Logger = nil
	c, err := gitlab.NewClient(token, gitlab.WithBaseURL(baseURL), gitlab.WithHTTPClient(retry.StandardClient()))
	if err != nil {
		return nil, fmt.Errorf("failed to construct gitlab client for %s: %w", baseURL, err)
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{
		groups:            c.Groups,
		projects:          c.Projects,
		protectedBranches: c.ProtectedBranches,
		members:           c.ProjectMembers,
		users:             c.Users,
		logger:            logger.WithField("client", "gitlab"),
		forkInitialDelay:  2 * time.Second,
		forkPollInterval:  5 * time.Second,
		forkPollAttempts:  56, // with the initial delay this covers ~5 minutes
	}, nil
}

func isNotFound(resp *gitlab.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusNotFound
}

// EnsureGroup returns the group at fullPath, creating it under parentID
// when missing. Creation is idempotent per path.
func (c *Client) EnsureGroup(ctx context.Context, name, path, fullPath string, parentID *int) (*gitlab.Group, error) {
	group, resp, err := c.groups.GetGroup(fullPath, &gitlab.GetGroupOptions{}, gitlab.WithContext(ctx))
	if err == nil {
		return group, nil
	}
	if !isNotFound(resp) {
		return nil, fmt.Errorf("failed to look up group %s: %w", fullPath, err)
	}

	c.logger.WithField("path", fullPath).Info("Creating GitLab group")
	group, _, err = c.groups.CreateGroup(&gitlab.CreateGroupOptions{
		Name:     gitlab.Ptr(name),
		Path:     gitlab.Ptr(path),
		ParentID: parentID,
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to create group %s: %w", fullPath, err)
	}
	return group, nil
}

// EnsureProject returns the project at fullPath, creating it inside
// namespaceID when missing.
func (c *Client) EnsureProject(ctx context.Context, name, path, fullPath string, namespaceID int) (*gitlab.Project, error) {
	project, resp, err := c.projects.GetProject(fullPath, &gitlab.GetProjectOptions{}, gitlab.WithContext(ctx))
	if err == nil {
		return project, nil
	}
	if !isNotFound(resp) {
		return nil, fmt.Errorf("failed to look up project %s: %w", fullPath, err)
	}

	c.logger.WithField("path", fullPath).Info("Creating GitLab project")
	project, _, err = c.projects.CreateProject(&gitlab.CreateProjectOptions{
		Name:                 gitlab.Ptr(name),
		Path:                 gitlab.Ptr(path),
		NamespaceID:          gitlab.Ptr(namespaceID),
		InitializeWithReadme: gitlab.Ptr(false),
		Visibility:           gitlab.Ptr(gitlab.PrivateVisibility),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to create project %s: %w", fullPath, err)
	}
	return project, nil
}

// GetProject resolves a project by numeric id or full path.
func (c *Client) GetProject(ctx context.Context, pid interface{}) (*gitlab.Project, error) {
	project, resp, err := c.projects.GetProject(pid, &gitlab.GetProjectOptions{}, gitlab.WithContext(ctx))
	if err != nil {
		if isNotFound(resp) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get project %v: %w", pid, err)
	}
	return project, nil
}

// ForkProject forks sourceID into the target namespace and waits until the
// fork is readable. GitLab creates forks asynchronously, so the fork call
// returning is not enough; the project must be polled.
func (c *Client) ForkProject(ctx context.Context, sourceID int, targetNamespaceID int, name, path string) (*gitlab.Project, error) {
	fork, _, err := c.projects.ForkProject(sourceID, &gitlab.ForkProjectOptions{
		NamespaceID: gitlab.Ptr(targetNamespaceID),
		Name:        gitlab.Ptr(name),
		Path:        gitlab.Ptr(path),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to fork project %d: %w", sourceID, err)
	}
	return c.waitForProject(ctx, fork.ID)
}

func (c *Client) waitForProject(ctx context.Context, projectID int) (*gitlab.Project, error) {
	delay := c.forkInitialDelay
	for attempt := 0; attempt < c.forkPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = c.forkPollInterval

		project, resp, err := c.projects.GetProject(projectID, &gitlab.GetProjectOptions{}, gitlab.WithContext(ctx))
		if err != nil {
			if isNotFound(resp) {
				continue
			}
			return nil, fmt.Errorf("failed to poll forked project %d: %w", projectID, err)
		}
		if project.ImportStatus == "finished" || project.ImportStatus == "none" || project.ImportStatus == "" {
			return project, nil
		}
		if project.ImportStatus == "failed" {
			return nil, fmt.Errorf("fork of project %d failed: %s", projectID, project.ImportError)
		}
		c.logger.WithFields(logrus.Fields{"project": projectID, "status": project.ImportStatus}).Debug("Waiting for fork")
	}
	return nil, ErrForkTimeout
}

// UnprotectDefaultBranches removes protection from main and master so the
// control plane can force-push generated content. Missing branches are not
// an error.
func (c *Client) UnprotectDefaultBranches(ctx context.Context, projectID int) error {
	for _, branch := range []string{"main", "master"} {
		resp, err := c.protectedBranches.UnprotectRepositoryBranches(projectID, branch, gitlab.WithContext(ctx))
		if err != nil && !isNotFound(resp) {
			return fmt.Errorf("failed to unprotect branch %s of project %d: %w", branch, projectID, err)
		}
	}
	return nil
}

// AddMaintainer grants a user maintainer access on a project. An existing
// membership is not an error.
func (c *Client) AddMaintainer(ctx context.Context, projectID, userID int) error {
	_, resp, err := c.members.AddProjectMember(projectID, &gitlab.AddProjectMemberOptions{
		UserID:      userID,
		AccessLevel: gitlab.Ptr(gitlab.MaintainerPermissions),
	}, gitlab.WithContext(ctx))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusConflict {
			return nil
		}
		return fmt.Errorf("failed to add user %d to project %d: %w", userID, projectID, err)
	}
	return nil
}

// UserByEmail resolves a GitLab user by their primary email.
func (c *Client) UserByEmail(ctx context.Context, email string) (*gitlab.User, error) {
	users, _, err := c.users.ListUsers(&gitlab.ListUsersOptions{
		Search: gitlab.Ptr(email),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to search for user %s: %w", email, err)
	}
	for _, u := range users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, nil
}
