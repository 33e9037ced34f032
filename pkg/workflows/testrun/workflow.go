package testrun

import (
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/computor-org/computor/pkg/api"
	"github.com/computor-org/computor/pkg/executor"
)

// Workflow runs one test job. A failing run still commits the result record
// so the submission never stays pending.
func Workflow(ctx workflow.Context, job TestJob) (*Result, error) {
	dbCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy:         executor.DefaultRetryPolicy(),
	})
	runCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		HeartbeatTimeout:    5 * time.Minute,
		RetryPolicy:         executor.DefaultRetryPolicy(),
	})

	var a *Activities

	var report RunReport
	err := workflow.ExecuteActivity(runCtx, a.RunTests, job).Get(ctx, &report)
	if err != nil {
		message := err.Error()
		if ctx.Err() != nil {
			message = "cancelled"
		}
		cleanupCtx, cancel := workflow.NewDisconnectedContext(ctx)
		defer cancel()
		cleanupCtx = workflow.WithActivityOptions(cleanupCtx, workflow.ActivityOptions{
			StartToCloseTimeout: 2 * time.Minute,
			RetryPolicy:         executor.DefaultRetryPolicy(),
		})
		if commitErr := workflow.ExecuteActivity(cleanupCtx, a.CommitResult, commitInput{
			ResultID: job.ResultID,
			Message:  message,
		}).Get(cleanupCtx, nil); commitErr != nil {
			workflow.GetLogger(ctx).Error("Failed to record test failure", "error", commitErr)
		}
		return &Result{ResultID: job.ResultID, Status: api.ResultStatusFailed}, nil
	}

	if err := workflow.ExecuteActivity(dbCtx, a.CommitResult, commitInput{
		ResultID: job.ResultID,
		Report:   &report,
	}).Get(ctx, nil); err != nil {
		return nil, err
	}

	return &Result{
		ResultID: job.ResultID,
		Status:   api.ResultStatusFinished,
		Score:    report.Score(),
		Passed:   report.Passed,
		Failed:   report.Failed,
		Total:    report.Total,
	}, nil
}
