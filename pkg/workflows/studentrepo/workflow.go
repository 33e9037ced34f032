package studentrepo

import (
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/computor-org/computor/pkg/executor"
)

// Workflow forks the student-template for one course member. Fork creation
// is asynchronous on the hosting side; the activity's timeout covers the
// polling budget.
func Workflow(ctx workflow.Context, req Request) (*Result, error) {
	dbCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy:         executor.DefaultRetryPolicy(),
	})
	forkCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy:         executor.DefaultRetryPolicy(),
	})

	var a *Activities

	var tgt target
	if err := workflow.ExecuteActivity(dbCtx, a.ResolveTarget, req).Get(ctx, &tgt); err != nil {
		return nil, err
	}
	if tgt.Existing != nil {
		return &Result{Repository: *tgt.Existing, Reused: true}, nil
	}

	var fork forkOutput
	if err := workflow.ExecuteActivity(forkCtx, a.EnsureFork, forkInput{
		StudentsGroupID:   tgt.StudentsGroupID,
		StudentsGroupPath: tgt.StudentsGroupPath,
		TemplateProjectID: tgt.TemplateProjectID,
		Slug:              tgt.Slug,
	}).Get(ctx, &fork); err != nil {
		return nil, err
	}

	var remoteUserID int
	if err := workflow.ExecuteActivity(forkCtx, a.GrantAccess, grantInput{
		ProjectID:    fork.Repository.ProjectID,
		Email:        tgt.Email,
		RemoteUserID: tgt.RemoteUserID,
	}).Get(ctx, &remoteUserID); err != nil {
		return nil, err
	}
	fork.Repository.RemoteUserID = remoteUserID

	if err := workflow.ExecuteActivity(dbCtx, a.PersistRepository, persistInput{
		CourseMemberID:    tgt.CourseMemberID,
		SubmissionGroupID: req.SubmissionGroupID,
		Repository:        fork.Repository,
	}).Get(ctx, nil); err != nil {
		return nil, err
	}

	return &Result{Repository: fork.Repository, Reused: fork.Reused}, nil
}
