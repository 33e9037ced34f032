package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts the control plane's externally visible actions.
type Metrics struct {
	WorkflowSubmissions   *prometheus.CounterVec
	DeploymentTransitions *prometheus.CounterVec
	AuthFailures          prometheus.Counter
}

// NewMetrics builds and registers the server metrics. A nil registerer
// leaves the collectors unregistered, which the tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WorkflowSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "computor_workflow_submissions_total",
			Help: "Workflows started through the API, by workflow type.",
		}, []string{"workflow"}),
		DeploymentTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "computor_deployment_transitions_total",
			Help: "Deployment state changes requested through the API.",
		}, []string{"action"}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "computor_auth_failures_total",
			Help: "Requests rejected during authentication.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.WorkflowSubmissions, m.DeploymentTransitions, m.AuthFailures)
	}
	return m
}
