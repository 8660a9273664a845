package api

import (
	"fmt"
	"net/http"

	"github.com/and161185/signflow/internal/errs"
)

// Error is a non-2xx answer from the platform.
type Error struct {
	Status  int
	Code    string
	Message string
	kind    error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("platform: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("platform: %d: %s", e.Status, e.Message)
}

// NewError builds the error the client returns for an HTTP status.
func NewError(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message, kind: kindOf(status)}
}

// Unwrap exposes the taxonomy sentinel for errors.Is.
func (e *Error) Unwrap() error { return e.kind }

// Definitive reports whether the platform answered with a client error, i.e. the
// request was received and rejected.
func (e *Error) Definitive() bool { return e.Status >= 400 && e.Status < 500 && e.kind != errs.ErrTransient }

func kindOf(status int) error {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusRequestEntityTooLarge:
		return errs.ErrValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return errs.ErrAuth
	case http.StatusNotFound:
		return errs.ErrNotFound
	case http.StatusConflict:
		return errs.ErrConflict
	case http.StatusPreconditionFailed:
		return errs.ErrPrecondition
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return errs.ErrTransient
	}
	if status >= 500 {
		return errs.ErrTransient
	}
	return nil
}
