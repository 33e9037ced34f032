package auth

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/computor-org/computor/pkg/api"
)

// PrincipalSource is the slice of the entity store the builder needs: the
// user's global roles with their claims, plus the per-course memberships.
type PrincipalSource interface {
	RolesForUser(ctx context.Context, userID string) ([]api.Role, error)
	ClaimsForUser(ctx context.Context, userID string) ([]api.RoleClaim, error)
	CourseMembersForUser(ctx context.Context, userID string) ([]api.CourseMember, error)
}

// Builder constructs principals by joining UserRole → Role → RoleClaim and
// the user's course memberships.
type Builder struct {
	source    PrincipalSource
	hierarchy RoleHierarchy
	logger    *logrus.Entry
}

// NewBuilder returns a Builder over the given source. A nil hierarchy means
// the default one.
func NewBuilder(source PrincipalSource, hierarchy RoleHierarchy, logger *logrus.Entry) *Builder {
	if hierarchy == nil {
		hierarchy = DefaultRoleHierarchy()
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Builder{source: source, hierarchy: hierarchy, logger: logger}
}

// Build produces the principal for an authenticated user.
func (b *Builder) Build(ctx context.Context, userID string) (*Principal, error) {
	roles, err := b.source.RolesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load roles for user %s: %w", userID, err)
	}
	roleClaims, err := b.source.ClaimsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load role claims for user %s: %w", userID, err)
	}
	members, err := b.source.CourseMembersForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load course memberships for user %s: %w", userID, err)
	}

	claims := NewClaims()
	for _, rc := range roleClaims {
		if rc.ClaimType != ClaimTypePermissions {
			continue
		}
		if err := claims.Parse(rc.ClaimValue); err != nil {
			// A malformed stored claim must not lock the user out of
			// everything else they hold.
			b.logger.WithError(err).WithField("role", rc.RoleID).Warn("Skipping malformed role claim.")
		}
	}
	for _, m := range members {
		claims.AddCourseRole(m.CourseID, m.CourseRoleID)
	}

	addDefaultClaims(&claims)

	roleIDs := make([]string, 0, len(roles))
	for _, r := range roles {
		roleIDs = append(roleIDs, r.ID)
	}
	principal := NewPrincipal(&userID, roleIDs, claims, b.hierarchy)
	addAuthoringClaims(principal)
	return principal, nil
}

// addDefaultClaims grants the read-only claims every authenticated principal
// holds unconditionally.
func addDefaultClaims(claims *Claims) {
	for _, resource := range []string{"course_content_kind", "course_role"} {
		claims.AddGeneral(resource, "get")
		claims.AddGeneral(resource, "list")
	}
}

// addAuthoringClaims grants the implicit general claims of principals that
// hold a lecturer-or-above role in any course: authoring assignments and
// moving example content in and out of the example library.
func addAuthoringClaims(p *Principal) {
	if !p.HasAnyCourseRole(api.CourseRoleLecturer) {
		return
	}
	for _, resource := range []string{"example", "example_repository", "example_version"} {
		p.Claims.AddGeneral(resource, "get")
		p.Claims.AddGeneral(resource, "list")
	}
	p.Claims.AddGeneral("example", "upload")
	p.Claims.AddGeneral("example", "download")
	p.Claims.AddGeneral("course_content", "create")
	p.Claims.AddGeneral("course_content", "update")
}
