// Package gitrepo runs git operations against local working trees by
// shelling out to the git binary. Every workflow activity clones into its
// own directory; working trees are never shared.
package gitrepo

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Identity is the commit author the control plane writes as.
type Identity struct {
	Name  string
	Email string
}

// Repo is a local working tree with an origin remote.
type Repo struct {
	dir    string
	git    string
	logger *logrus.Entry
}

// Clone clones url into dir, creating missing parent directories.
func Clone(ctx context.Context, url, dir string, logger *logrus.Entry) (*Repo, error) {
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", filepath.Dir(dir), err)
	}
	r := newRepo(dir, logger)
	if out, err := r.runIn(ctx, filepath.Dir(dir), "clone", url, dir); err != nil {
		return nil, fmt.Errorf("failed to clone %s: %w: %s", redactURL(url), err, out)
	}
	return r, nil
}

// InitWithRemote initializes an empty repository on branch main with url as
// origin. Used when the remote exists but has no commits yet.
func InitWithRemote(ctx context.Context, url, dir string, logger *logrus.Entry) (*Repo, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	r := newRepo(dir, logger)
	if out, err := r.run(ctx, "init", "-b", "main"); err != nil {
		return nil, fmt.Errorf("failed to init repository in %s: %w: %s", dir, err, out)
	}
	if out, err := r.run(ctx, "remote", "add", "origin", url); err != nil {
		return nil, fmt.Errorf("failed to add remote: %w: %s", err, out)
	}
	return r, nil
}

// CloneOrInit clones url, falling back to an empty local repository with
// the remote attached when the clone fails (empty or unborn remote).
func CloneOrInit(ctx context.Context, url, dir string, logger *logrus.Entry) (*Repo, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	repo, err := Clone(ctx, url, dir, logger)
	if err == nil {
		return repo, nil
	}
	logger.WithField("dir", dir).WithError(err).Info("Clone failed, initializing empty repository")
	if rmErr := os.RemoveAll(dir); rmErr != nil {
		return nil, fmt.Errorf("failed to clean %s after clone failure: %w", dir, rmErr)
	}
	return InitWithRemote(ctx, url, dir, logger)
}

func newRepo(dir string, logger *logrus.Entry) *Repo {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Repo{dir: dir, git: "git", logger: logger.WithField("dir", dir)}
}

// Dir returns the working tree location.
func (r *Repo) Dir() string {
	return r.dir
}

// SetIdentity configures the commit author for this working tree only.
func (r *Repo) SetIdentity(ctx context.Context, id Identity) error {
	if out, err := r.run(ctx, "config", "user.name", id.Name); err != nil {
		return fmt.Errorf("failed to set user.name: %w: %s", err, out)
	}
	if out, err := r.run(ctx, "config", "user.email", id.Email); err != nil {
		return fmt.Errorf("failed to set user.email: %w: %s", err, out)
	}
	return nil
}

// HasChanges reports whether the working tree differs from HEAD.
func (r *Repo) HasChanges(ctx context.Context) (bool, error) {
	out, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("failed to get status: %w: %s", err, out)
	}
	return strings.TrimSpace(out) != "", nil
}

// CommitAll stages everything and commits. Returns false without error
// when there is nothing to commit.
func (r *Repo) CommitAll(ctx context.Context, message string) (bool, error) {
	if out, err := r.run(ctx, "add", "--all"); err != nil {
		return false, fmt.Errorf("failed to stage changes: %w: %s", err, out)
	}
	changed, err := r.hasStagedChanges(ctx)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}
	if out, err := r.run(ctx, "commit", "-m", message); err != nil {
		return false, fmt.Errorf("failed to commit: %w: %s", err, out)
	}
	return true, nil
}

func (r *Repo) hasStagedChanges(ctx context.Context) (bool, error) {
	// diff --cached --quiet exits 1 when there are staged changes. On an
	// unborn branch HEAD does not resolve, which also means a first commit
	// is pending.
	cmd := exec.CommandContext(ctx, r.git, "-C", r.dir, "diff", "--cached", "--quiet", "HEAD")
	if err := cmd.Run(); err != nil {
		return true, nil
	}
	return false, nil
}

// Push updates the branch on origin. Force pushes are opt-in.
func (r *Repo) Push(ctx context.Context, branch string, force bool) error {
	args := []string{"push", "origin", "HEAD:" + branch}
	if force {
		args = append(args, "--force")
	}
	if out, err := r.run(ctx, args...); err != nil {
		return fmt.Errorf("failed to push to %s: %w: %s", branch, err, out)
	}
	return nil
}

// HeadSHA returns the commit the working tree is at.
func (r *Repo) HeadSHA(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w: %s", err, out)
	}
	return strings.TrimSpace(out), nil
}

// ResolveCommit verifies that ref names a commit in this clone and returns
// its full sha.
func (r *Repo) ResolveCommit(ctx context.Context, ref string) (string, error) {
	out, err := r.run(ctx, "rev-parse", "--verify", ref+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("commit %s not found: %w: %s", ref, err, out)
	}
	return strings.TrimSpace(out), nil
}

// Checkout moves the working tree to the given commit (detached).
func (r *Repo) Checkout(ctx context.Context, ref string) error {
	if out, err := r.run(ctx, "checkout", "--detach", ref); err != nil {
		return fmt.Errorf("failed to check out %s: %w: %s", ref, err, out)
	}
	return nil
}

// TreeAt loads the file tree under subdir at the given commit into memory.
// Keys are relative to subdir. An empty subdir loads the whole tree.
func (r *Repo) TreeAt(ctx context.Context, commit, subdir string) (map[string][]byte, error) {
	args := []string{"ls-tree", "-r", "--name-only", commit}
	if subdir != "" {
		args = append(args, "--", subdir)
	}
	out, err := r.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tree at %s: %w: %s", commit, err, out)
	}

	tree := map[string][]byte{}
	files := strings.Split(strings.TrimSpace(out), "\n")
	sort.Strings(files)
	for _, file := range files {
		if file == "" {
			continue
		}
		data, err := r.ShowFile(ctx, commit, file)
		if err != nil {
			return nil, err
		}
		key := file
		if subdir != "" {
			key = strings.TrimPrefix(file, strings.TrimSuffix(subdir, "/")+"/")
		}
		tree[key] = data
	}
	return tree, nil
}

// ShowFile returns a file's contents at a commit.
func (r *Repo) ShowFile(ctx context.Context, commit, file string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.git, "-C", r.dir, "show", commit+":"+file)
	data, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s at %s: %w", file, commit, err)
	}
	return data, nil
}

// WriteTree materializes files into the working tree, creating parent
// directories as needed.
func (r *Repo) WriteTree(files map[string][]byte) error {
	for file, data := range files {
		target := filepath.Join(r.dir, filepath.FromSlash(file))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", file, err)
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", file, err)
		}
	}
	return nil
}

// RemoveFromTree deletes a directory inside the working tree.
func (r *Repo) RemoveFromTree(subdir string) error {
	if subdir == "" || subdir == "." {
		return fmt.Errorf("refusing to remove the repository root")
	}
	return os.RemoveAll(filepath.Join(r.dir, filepath.FromSlash(subdir)))
}

func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	return r.runIn(ctx, r.dir, args...)
}

func (r *Repo) runIn(ctx context.Context, dir string, args ...string) (string, error) {
	r.logger.WithField("args", strings.Join(args, " ")).Debug("Running git")
	cmd := exec.CommandContext(ctx, r.git, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// redactURL strips userinfo from a remote URL for logging.
func redactURL(url string) string {
	at := strings.LastIndex(url, "@")
	scheme := strings.Index(url, "://")
	if at == -1 || scheme == -1 || at < scheme {
		return url
	}
	return url[:scheme+3] + "***" + url[at:]
}
