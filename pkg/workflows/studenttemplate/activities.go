package studenttemplate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/computor-org/computor/pkg/api"
	"github.com/computor-org/computor/pkg/deployment"
	"github.com/computor-org/computor/pkg/gitrepo"
	"github.com/computor-org/computor/pkg/meta"
	"github.com/computor-org/computor/pkg/store"
	"github.com/computor-org/computor/pkg/template"
)

// ContentLibrary fetches an example version's file tree from the object
// store; satisfied by objstore.Client.
type ContentLibrary interface {
	DownloadTree(ctx context.Context, prefix string) (map[string][]byte, error)
}

// Activities carries the dependencies of the release workflow.
type Activities struct {
	Store       *store.Store
	Deployments *deployment.Service
	Logger      *logrus.Entry
	// WorkRoot is where per-workflow clones live; each run gets its own
	// subdirectory, removed on exit.
	WorkRoot string
	Author   gitrepo.Identity
	// ForcePush pushes with --force. Off by default; the release history
	// of the student template is append-only unless operators opt in.
	ForcePush bool
	// Library serves example versions whose files are not tracked in the
	// assignments repository.
	Library ContentLibrary
}

func (a *Activities) logger() *logrus.Entry {
	if a.Logger == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return a.Logger
}

// SelectContents resolves the release selection to content ids. Only
// contents with an assigned example version qualify.
func (a *Activities) SelectContents(ctx context.Context, req Request) ([]string, error) {
	deployments, err := a.Store.ListCourseDeployments(ctx, req.CourseID)
	if err != nil {
		return nil, err
	}

	release := req.Release
	var parentPath api.Path
	if release != nil && release.ParentID != "" {
		parent, err := a.Store.GetCourseContent(ctx, release.ParentID)
		if err != nil {
			return nil, err
		}
		parentPath = parent.Path
	}

	var selected []string
	for _, d := range deployments {
		if d.ExampleVersionID == nil || d.CourseContentID == nil {
			continue
		}
		contentID := *d.CourseContentID
		switch {
		case release != nil && len(release.CourseContentIDs) > 0:
			if containsString(release.CourseContentIDs, contentID) {
				selected = append(selected, contentID)
			}
		case release != nil && release.ParentID != "":
			if contentID == release.ParentID ||
				(release.includeDescendants() && d.ContentPath.IsDescendantOf(parentPath)) {
				selected = append(selected, contentID)
			}
		case release != nil && release.All:
			selected = append(selected, contentID)
		default:
			switch d.DeploymentStatus {
			case api.DeploymentPending, api.DeploymentFailed:
				selected = append(selected, contentID)
			case api.DeploymentDeployed:
				if req.ForceRedeploy {
					selected = append(selected, contentID)
				}
			}
		}
	}
	return selected, nil
}

// MarkDeploying moves the selected deployments into deploying and returns
// the ids that actually transitioned. Records that refuse the transition
// (e.g. deployed without force) are skipped, not failed.
func (a *Activities) MarkDeploying(ctx context.Context, in markInput) ([]string, error) {
	var marked []string
	for _, contentID := range in.ContentIDs {
		if _, err := a.Deployments.Begin(ctx, contentID, in.WorkflowID, in.ForceRedeploy); err != nil {
			var transitionErr *deployment.TransitionError
			if errors.As(err, &transitionErr) {
				a.logger().WithField("content", contentID).WithError(err).Info("Skipping content")
				continue
			}
			return nil, err
		}
		marked = append(marked, contentID)
	}
	return marked, nil
}

// BuildAndPush clones both repositories, renders every marked content into
// the student template and pushes. Per-content failures are recorded and do
// not abort the run; clone and push failures do.
func (a *Activities) BuildAndPush(ctx context.Context, in buildInput) (*BuildResult, error) {
	logger := a.logger().WithField("workflow", in.WorkflowID)
	workdir := filepath.Join(a.WorkRoot, in.WorkflowID)
	defer os.RemoveAll(workdir)

	templateRepo, err := gitrepo.CloneOrInit(ctx, in.Request.StudentTemplateURL, filepath.Join(workdir, "student-template"), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare student template repository: %w", err)
	}
	if err := templateRepo.SetIdentity(ctx, a.Author); err != nil {
		return nil, err
	}

	assignments, err := gitrepo.Clone(ctx, in.Request.AssignmentsURL, filepath.Join(workdir, "assignments"), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to clone assignments repository: %w", err)
	}
	assignmentsHead, err := assignments.HeadSHA(ctx)
	if err != nil {
		return nil, err
	}

	result := &BuildResult{Commits: map[string]string{}}
	var released []template.ReleasedContent
	for _, contentID := range in.ContentIDs {
		entry, commit, err := a.releaseContent(ctx, in, contentID, assignments, assignmentsHead, templateRepo)
		if err != nil {
			result.Failures = append(result.Failures, ContentFailure{CourseContentID: contentID, Message: err.Error()})
			if _, markErr := a.Deployments.MarkFailed(ctx, contentID, in.WorkflowID, err.Error()); markErr != nil {
				logger.WithField("content", contentID).WithError(markErr).Error("Failed to record content failure")
			}
			continue
		}
		released = append(released, *entry)
		result.Released = append(result.Released, contentID)
		result.Commits[contentID] = commit
	}

	if err := a.writeRootReadme(ctx, in.Request.CourseID, released, templateRepo); err != nil {
		return nil, err
	}

	message := in.Request.CommitMessage
	if message == "" {
		message = fmt.Sprintf("Release %d assignment(s), %d failed", len(result.Released), len(result.Failures))
	}
	committed, err := templateRepo.CommitAll(ctx, message)
	if err != nil {
		return nil, err
	}
	if !committed {
		sha, shaErr := templateRepo.HeadSHA(ctx)
		if shaErr != nil {
			// Empty repository and nothing to release.
			return result, nil
		}
		result.CommitSHA = sha
		result.NoChanges = true
		return result, nil
	}

	if err := templateRepo.Push(ctx, "main", a.ForcePush); err != nil {
		return nil, fmt.Errorf("Git push failed: %w", err)
	}
	sha, err := templateRepo.HeadSHA(ctx)
	if err != nil {
		return nil, err
	}
	result.CommitSHA = sha
	return result, nil
}

// releaseContent renders one content into the template working tree and
// returns the assignments-repo commit the files were taken from.
func (a *Activities) releaseContent(ctx context.Context, in buildInput, contentID string, assignments *gitrepo.Repo, assignmentsHead string, templateRepo *gitrepo.Repo) (*template.ReleasedContent, string, error) {
	d, err := a.Store.GetDeploymentForContent(ctx, contentID)
	if err != nil {
		return nil, "", err
	}
	content, err := a.Store.GetCourseContent(ctx, contentID)
	if err != nil {
		return nil, "", err
	}
	if d.ExampleVersionID == nil {
		return nil, "", fmt.Errorf("no example assigned")
	}
	if _, err := a.Store.GetExampleVersion(ctx, *d.ExampleVersionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", fmt.Errorf("example version removed")
		}
		return nil, "", err
	}

	deploymentPath, err := a.ensureDeploymentPath(ctx, contentID, d)
	if err != nil {
		return nil, "", err
	}

	pinned := assignmentsHead
	if d.VersionIdentifier != nil && *d.VersionIdentifier != "" {
		pinned = *d.VersionIdentifier
	}
	if in.Request.Release != nil {
		if override := in.Request.Release.commitFor(contentID); override != "" {
			pinned = override
		}
	}
	commit, err := assignments.ResolveCommit(ctx, pinned)
	if err != nil {
		return nil, "", fmt.Errorf("cannot resolve commit %s in assignments repository", pinned)
	}

	directory := strings.ReplaceAll(deploymentPath.String(), ".", "/")
	tree, err := assignments.TreeAt(ctx, commit, directory)
	if err != nil {
		return nil, "", err
	}
	if len(tree) == 0 {
		tree, err = a.storedTree(ctx, d)
		if err != nil {
			return nil, "", err
		}
	}
	if len(tree) == 0 {
		return nil, "", fmt.Errorf("no files under %s at %s", directory, commit)
	}

	var descriptor *meta.Meta
	if raw, ok := tree[meta.Filename]; ok {
		descriptor, err = meta.Parse(raw)
		if err != nil {
			return nil, "", err
		}
		if err := a.linkExecutionBackend(ctx, content, descriptor); err != nil {
			return nil, "", err
		}
	}

	studentTree, err := template.BuildStudentTree(template.Tree(tree), descriptor)
	if err != nil {
		return nil, "", err
	}

	if err := templateRepo.RemoveFromTree(directory); err != nil {
		return nil, "", err
	}
	prefixed := make(map[string][]byte, len(studentTree))
	for file, data := range studentTree {
		prefixed[directory+"/"+file] = data
	}
	if err := templateRepo.WriteTree(prefixed); err != nil {
		return nil, "", err
	}

	versionTag := ""
	if d.VersionTag != nil {
		versionTag = *d.VersionTag
	}
	return &template.ReleasedContent{
		Path:           content.Path,
		DeploymentPath: api.Path(directory),
		Title:          content.Title,
		VersionTag:     versionTag,
	}, commit, nil
}

// storedTree loads the assigned version's files from the object store when
// the assignments repository does not track them.
func (a *Activities) storedTree(ctx context.Context, d *api.CourseContentDeployment) (map[string][]byte, error) {
	if a.Library == nil || d.ExampleVersionID == nil {
		return nil, nil
	}
	version, err := a.Store.GetExampleVersion(ctx, *d.ExampleVersionID)
	if err != nil {
		return nil, err
	}
	if version.StoragePath == "" {
		return nil, nil
	}
	return a.Library.DownloadTree(ctx, version.StoragePath)
}

// ensureDeploymentPath returns the content's deployment path, deriving it
// from the example identifier snapshot when unset.
func (a *Activities) ensureDeploymentPath(ctx context.Context, contentID string, d *api.CourseContentDeployment) (api.Path, error) {
	if d.DeploymentPath != nil && *d.DeploymentPath != "" {
		return *d.DeploymentPath, nil
	}
	if d.ExampleIdentifier == nil || *d.ExampleIdentifier == "" {
		return "", fmt.Errorf("deployment has neither a path nor an example identifier")
	}
	derived := api.Path(*d.ExampleIdentifier)
	if err := derived.Validate(); err != nil {
		return "", fmt.Errorf("derived deployment path is invalid: %w", err)
	}
	if _, err := a.Deployments.SetDeploymentPath(ctx, contentID, derived); err != nil {
		return "", err
	}
	return derived, nil
}

// linkExecutionBackend persists the backend referenced by meta.yaml onto
// the content when none is set yet. An unknown slug is not an error.
func (a *Activities) linkExecutionBackend(ctx context.Context, content *api.CourseContent, descriptor *meta.Meta) error {
	if content.ExecutionBackendID != nil || descriptor.BackendSlug() == "" {
		return nil
	}
	backend, err := a.Store.GetExecutionBackendBySlug(ctx, descriptor.BackendSlug())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.logger().WithField("slug", descriptor.BackendSlug()).Warn("meta.yaml references an unknown execution backend")
			return nil
		}
		return err
	}
	content.ExecutionBackendID = &backend.ID
	return a.Store.UpdateCourseContent(ctx, content)
}

func (a *Activities) writeRootReadme(ctx context.Context, courseID string, released []template.ReleasedContent, templateRepo *gitrepo.Repo) error {
	course, err := a.Store.GetCourse(ctx, courseID)
	if err != nil {
		return err
	}
	contents, err := a.Store.ListCourseContents(ctx, courseID, store.ListOptions{Limit: 10000})
	if err != nil {
		return err
	}
	titles := make(map[string]string, len(contents))
	for _, c := range contents {
		titles[c.Path.String()] = c.Title
	}
	return templateRepo.WriteTree(map[string][]byte{
		"README.md": template.RenderRootReadme(course.Title, released, titles),
	})
}

// FinalizeDeployments moves records still owned by this workflow from
// deploying to deployed, recording the assignments-repo commit each content
// was built from.
func (a *Activities) FinalizeDeployments(ctx context.Context, in markInput) error {
	for _, contentID := range in.ContentIDs {
		commit, ok := in.Commits[contentID]
		if !ok {
			return fmt.Errorf("no assignments commit recorded for content %s", contentID)
		}
		d, err := a.Store.GetDeploymentForContent(ctx, contentID)
		if err != nil {
			return err
		}
		if d.DeploymentStatus != api.DeploymentDeploying || d.WorkflowID == nil || *d.WorkflowID != in.WorkflowID {
			// A concurrent workflow took over this record; its push wins.
			continue
		}
		path := api.Path("")
		if d.DeploymentPath != nil {
			path = *d.DeploymentPath
		}
		if _, err := a.Deployments.MarkDeployed(ctx, contentID, in.WorkflowID, commit, path); err != nil {
			return err
		}
	}
	return nil
}

// FailDeployments marks every record this workflow still owns as failed.
func (a *Activities) FailDeployments(ctx context.Context, in markInput) error {
	for _, contentID := range in.ContentIDs {
		d, err := a.Store.GetDeploymentForContent(ctx, contentID)
		if err != nil {
			return err
		}
		if d.DeploymentStatus != api.DeploymentDeploying || d.WorkflowID == nil || *d.WorkflowID != in.WorkflowID {
			continue
		}
		if _, err := a.Deployments.MarkFailed(ctx, contentID, in.WorkflowID, in.Message); err != nil {
			return err
		}
	}
	return nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
