// Package server exposes the control plane over HTTP: example assignment,
// release and deployment inspection, and declarative hierarchy deployment.
// Handlers stay thin; all domain logic lives in the store, the deployment
// state machine and the workflows.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/computor-org/computor/pkg/authz"
	"github.com/computor-org/computor/pkg/deployment"
	"github.com/computor-org/computor/pkg/executor"
	"github.com/computor-org/computor/pkg/store"
)

// Submitter starts workflows; satisfied by executor.Executor.
type Submitter interface {
	Submit(ctx context.Context, sub executor.Submission) (string, error)
}

// Options configures the server.
type Options struct {
	Store         *store.Store
	Deployments   *deployment.Service
	Executor      Submitter
	Authenticator *Authenticator
	Authz         *authz.Registry
	Metrics       *Metrics
	Logger        *logrus.Entry
}

// Validate checks that every required dependency is wired.
func (o *Options) Validate() error {
	if o.Store == nil {
		return fmt.Errorf("store is required")
	}
	if o.Deployments == nil {
		return fmt.Errorf("deployment service is required")
	}
	if o.Executor == nil {
		return fmt.Errorf("workflow executor is required")
	}
	if o.Authenticator == nil {
		return fmt.Errorf("authenticator is required")
	}
	if o.Authz == nil {
		return fmt.Errorf("authorization registry is required")
	}
	return nil
}

// Server routes HTTP requests onto the control plane.
type Server struct {
	store       *store.Store
	deployments *deployment.Service
	executor    Submitter
	auth        *Authenticator
	authz       *authz.Registry
	metrics     *Metrics
	logger      *logrus.Entry
}

// New builds a server from validated options.
func New(opts Options) (*Server, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Server{
		store:       opts.Store,
		deployments: opts.Deployments,
		executor:    opts.Executor,
		auth:        opts.Authenticator,
		authz:       opts.Authz,
		metrics:     metrics,
		logger:      logger.WithField("component", "server"),
	}, nil
}

// Routes assembles the router. Health and metrics are unauthenticated;
// everything else requires a principal.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Post("/course-contents/{contentID}/assign-example", s.handleAssignExample)
		r.Delete("/course-contents/{contentID}/example", s.handleRemoveAssignment)
		r.Post("/courses/{courseID}/assign-examples", s.handleBulkAssign)
		r.Get("/courses/{courseID}/pending-changes", s.handlePendingChanges)
		r.Post("/courses/{courseID}/generate-student-template", s.handleGenerateTemplate)
		r.Get("/courses/{courseID}/examples/deployment-status", s.handleDeploymentStatus)
		r.Post("/deploy/from-config", s.handleDeployFromConfig)
		r.Post("/deploy/from-yaml", s.handleDeployFromYAML)
	})
	return r
}

func (s *Server) respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			s.logger.WithError(err).Error("Failed to encode response")
		}
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).Error("Request failed")
	}
	s.respond(w, status, map[string]string{"error": err.Error()})
}
