// ABOUTME: Error taxonomy shared by the realtime core and the HTTP API
// ABOUTME: Sentinel kinds wrapped with context via %w and mapped to wire codes

package chaterr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel error kinds. Callers wrap these with fmt.Errorf("...: %w", ...)
// and classify with errors.Is or KindOf.
var (
	ErrAuth       = errors.New("authentication failed")
	ErrAccess     = errors.New("access denied")
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrStore      = errors.New("store failure")
)

// Kind is the wire-level error code sent to clients.
type Kind string

const (
	KindAuth       Kind = "auth_error"
	KindAccess     Kind = "access_error"
	KindNotFound   Kind = "not_found"
	KindValidation Kind = "validation_error"
	KindStore      Kind = "store_error"
)

// KindOf classifies err. Anything outside the taxonomy is reported as a
// store error so internal failures never leak a more specific code.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrAccess):
		return KindAccess
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrValidation):
		return KindValidation
	default:
		return KindStore
	}
}

// HTTPStatus maps an error kind to the status code used by the JSON API.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindAuth:
		return http.StatusUnauthorized
	case KindAccess:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Accessf returns an ErrAccess wrapped with a formatted reason.
func Accessf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAccess, fmt.Sprintf(format, args...))
}

// NotFoundf returns an ErrNotFound wrapped with a formatted reason.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Validationf returns an ErrValidation wrapped with a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Store wraps an underlying persistence failure as ErrStore, keeping the
// cause reachable through errors.Is / errors.As.
func Store(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}
