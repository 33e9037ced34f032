// The computor-worker command runs the Temporal workers that execute the
// hierarchy, release, fork and test workflows.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/computor-org/computor/pkg/deployment"
	"github.com/computor-org/computor/pkg/executor"
	"github.com/computor-org/computor/pkg/gitrepo"
	hosting "github.com/computor-org/computor/pkg/gitlab"
	"github.com/computor-org/computor/pkg/objstore"
	"github.com/computor-org/computor/pkg/store"
	"github.com/computor-org/computor/pkg/workflows/hierarchy"
	"github.com/computor-org/computor/pkg/workflows/studentrepo"
	"github.com/computor-org/computor/pkg/workflows/studenttemplate"
	"github.com/computor-org/computor/pkg/workflows/testrun"
)

// runnerFlags collects repeatable backend=command pairs.
type runnerFlags map[string][]string

func (r runnerFlags) String() string {
	parts := make([]string, 0, len(r))
	for backend, command := range r {
		parts = append(parts, backend+"="+strings.Join(command, " "))
	}
	return strings.Join(parts, ",")
}

func (r runnerFlags) Set(value string) error {
	backend, command, found := strings.Cut(value, "=")
	if !found || backend == "" || command == "" {
		return fmt.Errorf("runners have the form backend=command")
	}
	r[backend] = strings.Fields(command)
	return nil
}

type options struct {
	databaseDSN  string
	temporalHost string
	temporalNS   string

	gitlabURL   string
	gitlabToken string

	s3Endpoint  string
	s3Region    string
	s3AccessKey string
	s3SecretKey string
	s3Bucket    string
	s3PathStyle bool

	workRoot    string
	authorName  string
	authorEmail string
	forcePush   bool

	runners  runnerFlags
	logLevel string
}

func gatherOptions() *options {
	o := &options{runners: runnerFlags{}}
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&o.databaseDSN, "database-dsn", "", "PostgreSQL connection string.")
	fs.StringVar(&o.temporalHost, "temporal-host", "127.0.0.1:7233", "Temporal frontend address.")
	fs.StringVar(&o.temporalNS, "temporal-namespace", "default", "Temporal namespace.")
	fs.StringVar(&o.gitlabURL, "gitlab-url", "", "Base URL of the GitLab instance student repositories live on.")
	fs.StringVar(&o.gitlabToken, "gitlab-token", "", "Token used for forking and member management.")
	fs.StringVar(&o.s3Endpoint, "s3-endpoint", "", "Object store endpoint holding example versions. Optional.")
	fs.StringVar(&o.s3Region, "s3-region", "", "Object store region.")
	fs.StringVar(&o.s3AccessKey, "s3-access-key", "", "Object store access key.")
	fs.StringVar(&o.s3SecretKey, "s3-secret-key", "", "Object store secret key.")
	fs.StringVar(&o.s3Bucket, "s3-bucket", "", "Bucket holding example versions.")
	fs.BoolVar(&o.s3PathStyle, "s3-path-style", true, "Use path-style object addressing (required for MinIO).")
	fs.StringVar(&o.workRoot, "work-root", os.TempDir(), "Directory for per-workflow git clones and test runs.")
	fs.StringVar(&o.authorName, "git-author-name", "computor", "Author of release commits.")
	fs.StringVar(&o.authorEmail, "git-author-email", "computor@localhost", "Author email of release commits.")
	fs.BoolVar(&o.forcePush, "force-push", false, "Force-push student template releases.")
	fs.Var(o.runners, "runner", "Test runner as backend=command, repeatable, e.g. python=/usr/bin/run-python-tests.")
	fs.StringVar(&o.logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error).")
	fs.Parse(os.Args[1:])
	return o
}

func (o *options) validate() error {
	var errs []error
	if o.databaseDSN == "" {
		errs = append(errs, errors.New("--database-dsn is required"))
	}
	if o.temporalHost == "" {
		errs = append(errs, errors.New("--temporal-host is required"))
	}
	if (o.gitlabURL == "") != (o.gitlabToken == "") {
		errs = append(errs, errors.New("--gitlab-url and --gitlab-token must be set together"))
	}
	if o.s3Endpoint != "" && o.s3Bucket == "" {
		errs = append(errs, errors.New("--s3-bucket is required when --s3-endpoint is set"))
	}
	if _, err := logrus.ParseLevel(o.logLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid --log-level: %w", err))
	}
	return errors.Join(errs...)
}

func main() {
	o := gatherOptions()
	if err := o.validate(); err != nil {
		logrus.WithError(err).Error("Invalid options")
		os.Exit(2)
	}
	level, _ := logrus.ParseLevel(o.logLevel)
	logrus.SetLevel(level)
	logger := logrus.NewEntry(logrus.StandardLogger())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, o.databaseDSN, logger)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to the database")
	}
	defer st.Close()

	var library studenttemplate.ContentLibrary
	if o.s3Endpoint != "" {
		objClient, err := objstore.NewClient(ctx, objstore.Options{
			Endpoint:     o.s3Endpoint,
			Region:       o.s3Region,
			AccessKey:    o.s3AccessKey,
			SecretKey:    o.s3SecretKey,
			Bucket:       o.s3Bucket,
			UsePathStyle: o.s3PathStyle,
		}, logger)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to connect to the object store")
		}
		library = objClient
	}

	var host studentrepo.Host
	if o.gitlabURL != "" {
		host, err = hosting.NewClient(o.gitlabURL, o.gitlabToken, logger)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to build the GitLab client")
		}
	}

	temporalClient, err := client.Dial(client.Options{HostPort: o.temporalHost, Namespace: o.temporalNS})
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to the workflow engine")
	}
	defer temporalClient.Close()

	runners := map[string]testrun.Runner{}
	for backend, command := range o.runners {
		runners[backend] = &testrun.ExecRunner{Command: command}
	}

	deployments := deployment.NewService(st, logger)
	hierarchyActivities := &hierarchy.Activities{Store: st, Logger: logger}
	templateActivities := &studenttemplate.Activities{
		Store:       st,
		Deployments: deployments,
		Logger:      logger,
		WorkRoot:    o.workRoot,
		Author:      gitrepo.Identity{Name: o.authorName, Email: o.authorEmail},
		ForcePush:   o.forcePush,
		Library:     library,
	}
	repoActivities := &studentrepo.Activities{Store: st, Host: host, Logger: logger}
	testActivities := &testrun.Activities{Store: st, Logger: logger, WorkRoot: o.workRoot, Runners: runners}

	workers := make([]worker.Worker, 0, 3)
	for _, queue := range []string{executor.QueueHigh, executor.QueueDefault, executor.QueueLow} {
		w := worker.New(temporalClient, queue, worker.Options{})
		w.RegisterWorkflowWithOptions(hierarchy.Workflow, workflow.RegisterOptions{Name: hierarchy.WorkflowName})
		w.RegisterWorkflowWithOptions(studenttemplate.Workflow, workflow.RegisterOptions{Name: studenttemplate.WorkflowName})
		w.RegisterWorkflowWithOptions(studentrepo.Workflow, workflow.RegisterOptions{Name: studentrepo.WorkflowName})
		w.RegisterWorkflowWithOptions(testrun.Workflow, workflow.RegisterOptions{Name: testrun.WorkflowName})
		w.RegisterActivity(hierarchyActivities)
		w.RegisterActivity(templateActivities)
		w.RegisterActivity(repoActivities)
		w.RegisterActivity(testActivities)
		if err := w.Start(); err != nil {
			logrus.WithError(err).Fatal("Failed to start worker")
		}
		workers = append(workers, w)
	}
	logger.Info("Workers running")

	<-ctx.Done()
	for _, w := range workers {
		w.Stop()
	}
}
