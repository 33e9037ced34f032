// Package authz evaluates whether a principal may perform an action on an
// entity class and narrows list queries to the rows the principal may see.
// Each protected entity registers a Handler; CheckPermissions dispatches by
// entity name.
package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/computor-org/computor/pkg/auth"
)

// ErrForbidden is returned for every denied permission check.
var ErrForbidden = errors.New("forbidden")

// Actions understood by the permission handlers.
const (
	ActionGet    = "get"
	ActionList   = "list"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionUse    = "use"
	ActionLink   = "link"
	ActionAssign = "assign"
)

// parentRefActions are the actions a parent reference may be satisfied by.
var parentRefActions = []string{ActionCreate, ActionUpdate, ActionUse, ActionLink, ActionAssign, ActionGet}

// Query is the narrowing a handler attaches to a list operation. A nil
// CourseIDs with Unrestricted set means no filter at all; an empty
// non-unrestricted query matches nothing.
type Query struct {
	// Unrestricted disables all filtering (admin, or read-only entities).
	Unrestricted bool
	// CourseIDs restricts rows to the given courses.
	CourseIDs []string
	// SelfUserID additionally admits rows owned by this user, independent
	// of CourseIDs.
	SelfUserID *string
}

// Empty reports whether the query can never match a row.
func (q *Query) Empty() bool {
	return !q.Unrestricted && len(q.CourseIDs) == 0 && q.SelfUserID == nil
}

// RequestContext carries the entity surroundings a handler may need to
// decide: the course a row belongs to, its owning user, and references to
// parent entities named in a write payload.
type RequestContext struct {
	CourseID    string
	OwnerUserID string
	// ParentRefs maps a resource name to the referenced instance id, e.g.
	// "execution_backend" -> backend id on a content write.
	ParentRefs map[string]string
}

// Handler decides permissions for one entity class.
type Handler interface {
	// CanPerform reports whether the action on the given instance is
	// admissible. resourceID may be empty for class-level actions.
	CanPerform(ctx context.Context, principal *auth.Principal, action, resourceID string, rc *RequestContext) (bool, error)
	// BuildQuery narrows a list of the entity to the principal's view.
	BuildQuery(principal *auth.Principal, action string) (*Query, error)
}

// Registry maps entity names to their handlers.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// Register binds a handler to an entity name, replacing any previous one.
func (r *Registry) Register(entity string, handler Handler) {
	r.handlers[entity] = handler
}

// Handler returns the handler for an entity, or nil.
func (r *Registry) Handler(entity string) Handler {
	return r.handlers[entity]
}

// CheckPermissions dispatches to the entity's handler and returns the
// narrowed query. Admins always get an unrestricted query; everyone else is
// rejected when no handler is registered.
func (r *Registry) CheckPermissions(principal *auth.Principal, entity, action string) (*Query, error) {
	if principal.IsAdmin {
		return &Query{Unrestricted: true}, nil
	}
	handler, ok := r.handlers[entity]
	if !ok {
		return nil, fmt.Errorf("no permission handler for %s: %w", entity, ErrForbidden)
	}
	return handler.BuildQuery(principal, action)
}

// CanPerform dispatches an instance-level admissibility check.
func (r *Registry) CanPerform(ctx context.Context, principal *auth.Principal, entity, action, resourceID string, rc *RequestContext) error {
	if principal.IsAdmin {
		return nil
	}
	handler, ok := r.handlers[entity]
	if !ok {
		return fmt.Errorf("no permission handler for %s: %w", entity, ErrForbidden)
	}
	allowed, err := handler.CanPerform(ctx, principal, action, resourceID, rc)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("%s %s: %w", action, entity, ErrForbidden)
	}
	if rc != nil && len(rc.ParentRefs) > 0 {
		return CheckParentRefs(principal, rc.ParentRefs)
	}
	return nil
}

// CheckParentRefs validates parent references of a write payload. A parent
// key whose resource the principal holds claims about must be permitted by
// one of the linking actions, either generally or dependent on the
// referenced id. Resources the principal has no claims about are outside
// its claim universe and pass through to the handler's own decision.
func CheckParentRefs(principal *auth.Principal, refs map[string]string) error {
	if principal.IsAdmin {
		return nil
	}
	for resource, id := range refs {
		if !principal.Claims.MentionsResource(resource) {
			continue
		}
		permitted := false
		for _, action := range parentRefActions {
			if principal.HasDependentPermission(resource, action, id) {
				permitted = true
				break
			}
		}
		if !permitted {
			return fmt.Errorf("reference to %s %s: %w", resource, id, ErrForbidden)
		}
	}
	return nil
}
