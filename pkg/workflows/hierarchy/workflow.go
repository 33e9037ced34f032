package hierarchy

import (
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/computor-org/computor/pkg/executor"
)

// Workflow walks the deployment document top-down: roles and backends
// first, then each organization with its families and courses, finally the
// users. Courses must exist before memberships reference them, which fixes
// the ordering.
func Workflow(ctx workflow.Context, req Request) (*Result, error) {
	logger := workflow.GetLogger(ctx)

	dbCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy:         executor.DefaultRetryPolicy(),
	})
	// Remote activities talk to the Git hosting API; group and project
	// creation is idempotent there, so retries are safe.
	remoteCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy:         executor.DefaultRetryPolicy(),
	})

	var a *Activities
	result := &Result{}

	if err := workflow.ExecuteActivity(dbCtx, a.EnsureCourseRoles).Get(ctx, nil); err != nil {
		return nil, err
	}
	if len(req.Deployment.ExecutionBackends) > 0 {
		if err := workflow.ExecuteActivity(dbCtx, a.EnsureExecutionBackends, req.Deployment.ExecutionBackends).Get(ctx, nil); err != nil {
			return nil, err
		}
		result.ExecutionBackends = len(req.Deployment.ExecutionBackends)
	}

	courseIDs := map[string]string{}
	for _, org := range req.Deployment.Organizations {
		var orgOut orgOutput
		if err := workflow.ExecuteActivity(remoteCtx, a.ReconcileOrganization, orgInput{
			Path:        org.Path,
			Title:       org.Title,
			Description: org.Description,
			GitLab:      org.GitLab,
		}).Get(ctx, &orgOut); err != nil {
			return nil, err
		}
		result.Organizations++

		for _, family := range org.CourseFamilies {
			var familyOut familyOutput
			if err := workflow.ExecuteActivity(remoteCtx, a.ReconcileCourseFamily, familyInput{
				OrganizationID: orgOut.OrganizationID,
				Parent:         orgOut.Group,
				GitLab:         org.GitLab,
				Path:           family.Path,
				Title:          family.Title,
			}).Get(ctx, &familyOut); err != nil {
				return nil, err
			}
			result.CourseFamilies++

			for _, course := range family.Courses {
				var courseOut courseOutput
				if err := workflow.ExecuteActivity(remoteCtx, a.ReconcileCourse, courseInput{
					OrganizationID: orgOut.OrganizationID,
					CourseFamilyID: familyOut.CourseFamilyID,
					Parent:         familyOut.Group,
					GitLab:         org.GitLab,
					Path:           course.Path,
					Title:          course.Title,
				}).Get(ctx, &courseOut); err != nil {
					return nil, err
				}
				fullPath := string(org.Path) + "." + string(family.Path) + "." + string(course.Path)
				courseIDs[fullPath] = courseOut.CourseID
				result.Courses++

				if len(course.ContentTypes) > 0 || len(course.Groups) > 0 {
					if err := workflow.ExecuteActivity(dbCtx, a.EnsureCourseCatalog, catalogInput{
						CourseID:     courseOut.CourseID,
						ContentTypes: course.ContentTypes,
						Groups:       course.Groups,
					}).Get(ctx, nil); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	for _, user := range req.Deployment.Users {
		if err := workflow.ExecuteActivity(dbCtx, a.ReconcileUser, userInput{
			User:      user,
			CourseIDs: courseIDs,
		}).Get(ctx, nil); err != nil {
			return nil, err
		}
		result.Users++
	}

	logger.Info("Hierarchy reconciled",
		"organizations", result.Organizations, "courses", result.Courses, "users", result.Users)
	return result, nil
}
