// Package executor adapts the Temporal workflow engine to the control
// plane's submission model: priority-based task queues, stable workflow
// identifiers and a normalized status vocabulary.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
)

// Task queues by priority band.
const (
	QueueHigh    = "computor-high"
	QueueDefault = "computor-default"
	QueueLow     = "computor-low"
)

// QueueForPriority maps a submission priority to a task queue: above 5 is
// high, below 0 is low, everything else default.
func QueueForPriority(priority int) string {
	switch {
	case priority > 5:
		return QueueHigh
	case priority < 0:
		return QueueLow
	default:
		return QueueDefault
	}
}

// Status is the engine-independent workflow state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusStarted   Status = "started"
	StatusFinished  Status = "finished"
	StatusFailed    Status = "failed"
	StatusDeferred  Status = "deferred"
	StatusCancelled Status = "cancelled"
)

// MapStatus normalizes a Temporal execution status.
func MapStatus(s enumspb.WorkflowExecutionStatus) Status {
	switch s {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING:
		return StatusStarted
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return StatusFinished
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED, enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return StatusFailed
	case enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED, enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED:
		return StatusCancelled
	case enumspb.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW:
		return StatusDeferred
	default:
		return StatusQueued
	}
}

// DefaultRetryPolicy is the activity retry baseline: 1s initial, doubled
// per attempt, capped at 100s, three attempts.
func DefaultRetryPolicy() *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2,
		MaximumInterval:    100 * time.Second,
		MaximumAttempts:    3,
	}
}

// temporalClient is the slice of client.Client the executor uses.
type temporalClient interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	DescribeWorkflowExecution(ctx context.Context, workflowID, runID string) (*workflowservice.DescribeWorkflowExecutionResponse, error)
	CancelWorkflow(ctx context.Context, workflowID, runID string) error
	GetWorkflow(ctx context.Context, workflowID, runID string) client.WorkflowRun
}

// Executor submits workflows and tracks their state.
type Executor struct {
	client temporalClient
	logger *logrus.Entry
	newID  func() string
}

// New wraps a connected Temporal client.
func New(c client.Client, logger *logrus.Entry) *Executor {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Executor{
		client: c,
		logger: logger.WithField("client", "executor"),
		newID:  uuid.NewString,
	}
}

// Submission describes a workflow start request.
type Submission struct {
	// Name is the registered workflow type.
	Name string
	// Priority selects the task queue, see QueueForPriority.
	Priority int
	// ExecutionTimeout bounds the whole workflow run; zero means the
	// engine default.
	ExecutionTimeout time.Duration
	// ID overrides the generated workflow id. Callers set it when the id
	// must deduplicate work, e.g. one deployment per course at a time.
	ID string
	// Args are handed to the workflow as-is.
	Args []interface{}
}

// Submit starts a workflow and returns its id. Generated ids have the form
// <name>-<uuid>; duplicate ids are rejected by the engine, which is what
// serializes per-course deployments.
func (e *Executor) Submit(ctx context.Context, sub Submission) (string, error) {
	id := sub.ID
	if id == "" {
		id = fmt.Sprintf("%s-%s", sub.Name, e.newID())
	}
	options := client.StartWorkflowOptions{
		ID:                       id,
		TaskQueue:                QueueForPriority(sub.Priority),
		WorkflowExecutionTimeout: sub.ExecutionTimeout,
		WorkflowIDReusePolicy:    enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}
	e.logger.WithFields(logrus.Fields{"workflow": sub.Name, "id": id, "queue": options.TaskQueue}).Info("Submitting workflow")
	if _, err := e.client.ExecuteWorkflow(ctx, options, sub.Name, sub.Args...); err != nil {
		return "", fmt.Errorf("failed to start workflow %s: %w", sub.Name, err)
	}
	return id, nil
}

// Status reports the normalized state of a workflow.
func (e *Executor) Status(ctx context.Context, workflowID string) (Status, error) {
	desc, err := e.client.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		return "", fmt.Errorf("failed to describe workflow %s: %w", workflowID, err)
	}
	info := desc.GetWorkflowExecutionInfo()
	if info == nil {
		return StatusQueued, nil
	}
	return MapStatus(info.GetStatus()), nil
}

// Cancel requests cooperative cancellation.
func (e *Executor) Cancel(ctx context.Context, workflowID string) error {
	if err := e.client.CancelWorkflow(ctx, workflowID, ""); err != nil {
		return fmt.Errorf("failed to cancel workflow %s: %w", workflowID, err)
	}
	return nil
}

// AwaitResult blocks until the workflow completes and decodes its result
// into valuePtr.
func (e *Executor) AwaitResult(ctx context.Context, workflowID string, valuePtr interface{}) error {
	run := e.client.GetWorkflow(ctx, workflowID, "")
	if err := run.Get(ctx, valuePtr); err != nil {
		return fmt.Errorf("workflow %s did not complete successfully: %w", workflowID, err)
	}
	return nil
}
