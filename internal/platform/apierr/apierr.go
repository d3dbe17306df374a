package apierr

import (
	"errors"
	"fmt"
	"net/http"

	apperr "github.com/yungbote/podscribe-backend/internal/pkg/errors"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// From maps a service error onto its HTTP status and code. Errors that are
// already an *Error pass through unchanged.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return New(http.StatusNotFound, "not_found", err)
	case apperr.IsConflict(err):
		return New(http.StatusConflict, "conflict", err)
	case apperr.IsValidation(err), errors.Is(err, apperr.ErrInvalidArgument):
		return New(http.StatusBadRequest, "validation", err)
	case apperr.IsCircuitOpen(err):
		return New(http.StatusServiceUnavailable, "circuit_open", err)
	default:
		return New(http.StatusInternalServerError, "internal", err)
	}
}
