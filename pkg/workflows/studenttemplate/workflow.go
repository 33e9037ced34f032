package studenttemplate

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/computor-org/computor/pkg/executor"
)

// Workflow orchestrates one template release. All I/O happens in
// activities; the workflow only sequences them and owns the failure
// reconciliation.
func Workflow(ctx workflow.Context, req Request) (*Result, error) {
	workflowID := workflow.GetInfo(ctx).WorkflowExecution.ID
	logger := workflow.GetLogger(ctx)

	dbCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy:         executor.DefaultRetryPolicy(),
	})
	buildCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 20 * time.Minute,
		HeartbeatTimeout:    2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			// The build activity is not safe to blind-retry: it pushes.
			MaximumAttempts: 1,
		},
	})

	var a *Activities

	var selected []string
	if err := workflow.ExecuteActivity(dbCtx, a.SelectContents, req).Get(ctx, &selected); err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		logger.Info("No contents selected for release", "course", req.CourseID)
		return &Result{WorkflowID: workflowID}, nil
	}

	var marked []string
	if err := workflow.ExecuteActivity(dbCtx, a.MarkDeploying, markInput{
		WorkflowID:    workflowID,
		ContentIDs:    selected,
		ForceRedeploy: req.ForceRedeploy,
	}).Get(ctx, &marked); err != nil {
		return nil, err
	}
	if len(marked) == 0 {
		return &Result{WorkflowID: workflowID}, nil
	}

	var build BuildResult
	err := workflow.ExecuteActivity(buildCtx, a.BuildAndPush, buildInput{
		Request:    req,
		WorkflowID: workflowID,
		ContentIDs: marked,
	}).Get(ctx, &build)
	if err != nil {
		// Workflow-level failure (clone, push, cancellation): every record
		// this workflow moved to deploying must not stay there. Use a
		// disconnected context so cleanup survives cancellation.
		message := "workflow failed: " + err.Error()
		if ctx.Err() != nil {
			message = "cancelled"
		}
		cleanupCtx, cancel := workflow.NewDisconnectedContext(ctx)
		defer cancel()
		cleanupCtx = workflow.WithActivityOptions(cleanupCtx, workflow.ActivityOptions{
			StartToCloseTimeout: 2 * time.Minute,
			RetryPolicy:         executor.DefaultRetryPolicy(),
		})
		if failErr := workflow.ExecuteActivity(cleanupCtx, a.FailDeployments, markInput{
			WorkflowID: workflowID,
			ContentIDs: marked,
			Message:    message,
		}).Get(cleanupCtx, nil); failErr != nil {
			logger.Error("Failed to reconcile deployments after build failure", "error", failErr)
		}
		return nil, err
	}

	if len(build.Released) > 0 && build.CommitSHA != "" {
		if err := workflow.ExecuteActivity(dbCtx, a.FinalizeDeployments, markInput{
			WorkflowID: workflowID,
			ContentIDs: build.Released,
			Commits:    build.Commits,
		}).Get(ctx, nil); err != nil {
			return nil, err
		}
	}

	return &Result{
		WorkflowID: workflowID,
		CommitSHA:  build.CommitSHA,
		Succeeded:  len(build.Released),
		Failed:     len(build.Failures),
		Failures:   build.Failures,
	}, nil
}
