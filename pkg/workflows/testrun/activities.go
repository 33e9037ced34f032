package testrun

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/computor-org/computor/pkg/api"
	"github.com/computor-org/computor/pkg/gitrepo"
	"github.com/computor-org/computor/pkg/store"
)

// Activities carries the dependencies of the test execution workflow.
type Activities struct {
	Store  *store.Store
	Logger *logrus.Entry
	// WorkRoot hosts the per-run clones; every run gets its own directory
	// which is wiped before and after use so retries start clean.
	WorkRoot string
	// Runners maps backend types (python, matlab, ...) to their evaluator.
	Runners map[string]Runner
}

func (a *Activities) logger() *logrus.Entry {
	if a.Logger == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return a.Logger
}

// authenticatedURL injects an access token into a clone URL.
func authenticatedURL(raw, token string) (string, error) {
	if token == "" {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid repository url: %w", err)
	}
	u.User = url.UserPassword("oauth2", token)
	return u.String(), nil
}

// RunTests clones both repositories pinned to their commits and dispatches
// to the backend runner.
func (a *Activities) RunTests(ctx context.Context, job TestJob) (*RunReport, error) {
	runner, ok := a.Runners[job.BackendType]
	if !ok {
		return nil, fmt.Errorf("no runner registered for backend type %q", job.BackendType)
	}

	workdir := filepath.Join(a.WorkRoot, "testrun-"+job.ResultID)
	if err := os.RemoveAll(workdir); err != nil {
		return nil, fmt.Errorf("failed to clean workspace: %w", err)
	}
	defer os.RemoveAll(workdir)

	studentDir, err := a.cloneAt(ctx, job.Student, filepath.Join(workdir, "student"))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare student repository: %w", err)
	}
	referenceDir, err := a.cloneAt(ctx, job.Reference, filepath.Join(workdir, "reference"))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare reference repository: %w", err)
	}

	in := RunInput{
		StudentPath:   studentDir,
		ReferencePath: referenceDir,
		TestFile:      job.TestFile,
		SpecFile:      job.SpecFile,
	}
	if job.JobConfig != nil {
		if in.JobConfig, err = json.Marshal(job.JobConfig); err != nil {
			return nil, err
		}
	}
	if job.BackendProperties != nil {
		if in.BackendProperties, err = json.Marshal(job.BackendProperties); err != nil {
			return nil, err
		}
	}

	report, err := runner.Run(ctx, in)
	if err != nil {
		return nil, err
	}
	a.logger().WithFields(logrus.Fields{
		"result": job.ResultID, "passed": report.Passed, "failed": report.Failed, "total": report.Total,
	}).Info("Test run finished")
	return report, nil
}

func (a *Activities) cloneAt(ctx context.Context, spec RepoSpec, dir string) (string, error) {
	cloneURL, err := authenticatedURL(spec.URL, spec.Token)
	if err != nil {
		return "", err
	}
	repo, err := gitrepo.Clone(ctx, cloneURL, dir, a.logger())
	if err != nil {
		return "", err
	}
	if spec.Commit != "" {
		if err := repo.Checkout(ctx, spec.Commit); err != nil {
			return "", err
		}
	}
	return repo.Dir(), nil
}

// CommitResult writes the outcome onto the pending result record. A nil
// report marks it failed with the message recorded in result_json.
func (a *Activities) CommitResult(ctx context.Context, in commitInput) error {
	result, err := a.Store.GetResult(ctx, in.ResultID)
	if err != nil {
		return err
	}

	if in.Report == nil {
		result.Status = api.ResultStatusFailed
		result.Result = 0
		if err := result.ResultJSON.Set("error", in.Message); err != nil {
			return err
		}
		return a.Store.CommitResult(ctx, result)
	}

	result.Status = api.ResultStatusFinished
	result.Result = in.Report.Score()
	for key, value := range map[string]interface{}{
		"passed": in.Report.Passed,
		"failed": in.Report.Failed,
		"total":  in.Report.Total,
	} {
		if err := result.ResultJSON.Set(key, value); err != nil {
			return err
		}
	}
	if in.Report.Details != nil {
		if err := result.ResultJSON.Set("details", in.Report.Details); err != nil {
			return err
		}
	}
	return a.Store.CommitResult(ctx, result)
}
