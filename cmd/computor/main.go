// The computor command serves the control plane API. With --apply-deployment
// it instead submits a declarative deployment document to the hierarchy
// workflow and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.temporal.io/sdk/client"
	"sigs.k8s.io/yaml"

	"github.com/computor-org/computor/pkg/auth"
	"github.com/computor-org/computor/pkg/authz"
	"github.com/computor-org/computor/pkg/config"
	"github.com/computor-org/computor/pkg/deployment"
	"github.com/computor-org/computor/pkg/executor"
	"github.com/computor-org/computor/pkg/server"
	"github.com/computor-org/computor/pkg/store"
	"github.com/computor-org/computor/pkg/workflows/hierarchy"
)

type options struct {
	listenAddr      string
	databaseDSN     string
	skipMigrations  bool
	redisAddr       string
	redisPassword   string
	sessionPrefix   string
	basicCredsFile  string
	temporalHost    string
	temporalNS      string
	credentialTTL   time.Duration
	sessionTTL      time.Duration
	applyDeployment string
	logLevel        string
}

func gatherOptions() *options {
	o := &options{}
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&o.listenAddr, "listen-addr", "127.0.0.1:8080", "The address to listen on.")
	fs.StringVar(&o.databaseDSN, "database-dsn", "", "PostgreSQL connection string.")
	fs.BoolVar(&o.skipMigrations, "skip-migrations", false, "Do not apply schema migrations at startup.")
	fs.StringVar(&o.redisAddr, "redis-addr", "", "Redis address for the principal cache and session store. Optional.")
	fs.StringVar(&o.redisPassword, "redis-password", "", "Redis password.")
	fs.StringVar(&o.sessionPrefix, "session-prefix", "computor:session:", "Key prefix of session tokens in redis.")
	fs.StringVar(&o.basicCredsFile, "basic-credentials-file", "", "YAML file mapping usernames to passwords for basic auth. Optional.")
	fs.StringVar(&o.temporalHost, "temporal-host", "127.0.0.1:7233", "Temporal frontend address.")
	fs.StringVar(&o.temporalNS, "temporal-namespace", "default", "Temporal namespace.")
	fs.DurationVar(&o.credentialTTL, "credential-cache-ttl", 10*time.Second, "How long principals authenticated via basic or GitLab credentials stay cached.")
	fs.DurationVar(&o.sessionTTL, "session-cache-ttl", time.Hour, "How long principals authenticated via session tokens stay cached.")
	fs.StringVar(&o.applyDeployment, "apply-deployment", "", "Submit this deployment document and exit instead of serving.")
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
	if _, err := logrus.ParseLevel(o.logLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid --log-level: %w", err))
	}
	return errors.Join(errs...)
}

func loadBasicCredentials(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	creds := map[string]string{}
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return creds, nil
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

	basicCreds, err := loadBasicCredentials(o.basicCredsFile)
	if err != nil {
		logrus.WithError(err).Error("Invalid basic auth configuration")
		os.Exit(2)
	}

	var doc *config.Deployment
	if o.applyDeployment != "" {
		if doc, err = config.Load(o.applyDeployment); err != nil {
			logrus.WithError(err).Error("Invalid deployment document")
			os.Exit(2)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	temporalClient, err := client.Dial(client.Options{HostPort: o.temporalHost, Namespace: o.temporalNS})
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to the workflow engine")
	}
	defer temporalClient.Close()
	exec := executor.New(temporalClient, logger)

	if doc != nil {
		workflowID, err := exec.Submit(ctx, executor.Submission{
			Name:             hierarchy.WorkflowName,
			ExecutionTimeout: time.Hour,
			Args:             []interface{}{hierarchy.Request{Deployment: *doc}},
		})
		if err != nil {
			logrus.WithError(err).Fatal("Failed to submit the deployment")
		}
		logger.WithField("workflow", workflowID).Info("Deployment submitted")
		return
	}

	st, err := store.Open(ctx, o.databaseDSN, logger)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to the database")
	}
	defer st.Close()
	if !o.skipMigrations {
		if err := st.Migrate(ctx); err != nil {
			logrus.WithError(err).Fatal("Failed to apply schema migrations")
		}
	}

	var redisClient *redis.Client
	authenticator := &server.Authenticator{
		Store:   st,
		Builder: auth.NewBuilder(st, nil, logger),
		Gitlab:  server.RemoteGitlabVerifier{},
		Logger:  logger,
	}
	if o.redisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: o.redisAddr, Password: o.redisPassword})
		authenticator.Sessions = &server.RedisSessions{Client: redisClient, Prefix: o.sessionPrefix}
	}
	authenticator.Cache = auth.NewPrincipalCache(o.credentialTTL, nil, redisClient, logger)
	authenticator.CredentialCacheTTL = o.credentialTTL
	authenticator.SessionCacheTTL = o.sessionTTL
	if len(basicCreds) > 0 {
		authenticator.Basic = &server.StaticBasicVerifier{Store: st, Passwords: basicCreds}
	}

	metrics := server.NewMetrics(prometheus.DefaultRegisterer)
	authenticator.Metrics = metrics

	srv, err := server.New(server.Options{
		Store:         st,
		Deployments:   deployment.NewService(st, logger),
		Executor:      exec,
		Authenticator: authenticator,
		Authz:         authz.DefaultRegistry(st),
		Metrics:       metrics,
		Logger:        logger,
	})
	if err != nil {
		logrus.WithError(err).Fatal("Failed to assemble the server")
	}

	httpServer := &http.Server{Addr: o.listenAddr, Handler: srv.Routes()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Failed to shut down cleanly")
		}
	}()

	logger.WithField("addr", o.listenAddr).Info("Serving")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logrus.WithError(err).Fatal("Server failed")
	}
}
