package server

import (
	"errors"
	"net/http"

	"github.com/computor-org/computor/pkg/authz"
	"github.com/computor-org/computor/pkg/deployment"
	"github.com/computor-org/computor/pkg/store"
)

// ErrUpstream marks failures of a remote system the request depends on.
var ErrUpstream = errors.New("upstream failure")

// errBadRequest wraps malformed request input.
type errBadRequest struct{ err error }

func (e *errBadRequest) Error() string { return e.err.Error() }
func (e *errBadRequest) Unwrap() error { return e.err }

func badRequest(err error) error { return &errBadRequest{err: err} }

// statusFor maps a domain error onto an HTTP status code.
func statusFor(err error) int {
	var bad *errBadRequest
	var transition *deployment.TransitionError
	switch {
	case errors.As(err, &bad) || store.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, authz.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &transition),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
