package app

import (
	"errors"
	"fmt"
	"net/http"

	"workboard/api/internal/board"
)

// Error codes returned in the "code" field of every failed response.
const (
	CodeUnknownAction      = "unknown_action"
	CodeInvalidBody        = "invalid_body"
	CodeValidation         = "validation_error"
	CodeCapacityExceeded   = "capacity_exceeded"
	CodeNotFound           = "not_found"
	CodeMethodNotAllowed   = "method_not_allowed"
	CodeRateLimited        = "rate_limited"
	CodeArchiveUnavailable = "archive_unavailable"
	CodeServerError        = "server_error"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	cause   error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.cause
}

func (e *DomainError) withCause(err error) *DomainError {
	e.cause = err
	return e
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(err error) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeValidation, err.Error(), nil).withCause(err)
}

// mapError translates service and domain errors into an HTTP status and
// error code. Unrecognised errors are reported as server_error with the
// error text as a diagnostic.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var unknown *board.UnknownActionError
	switch {
	case errors.As(err, &unknown):
		return http.StatusBadRequest, CodeUnknownAction, err.Error(), map[string]any{"action": unknown.Action}
	case errors.Is(err, board.ErrMalformedCommand):
		return http.StatusBadRequest, CodeInvalidBody, err.Error(), nil
	case errors.Is(err, board.ErrInvalidCommand),
		errors.Is(err, board.ErrInvalidDate),
		errors.Is(err, board.ErrEndBeforeStart),
		errors.Is(err, board.ErrPeriodMismatch),
		errors.Is(err, board.ErrEmptyName):
		return http.StatusUnprocessableEntity, CodeValidation, err.Error(), nil
	case errors.Is(err, board.ErrCapacityExceeded):
		return http.StatusConflict, CodeCapacityExceeded, err.Error(), nil
	case errors.Is(err, board.ErrMemberNotFound), errors.Is(err, board.ErrTaskNotFound):
		return http.StatusNotFound, CodeNotFound, err.Error(), nil
	}
	return http.StatusInternalServerError, CodeServerError, err.Error(), nil
}

// errorCode is the metrics outcome label for err.
func errorCode(err error) string {
	if err == nil {
		return "ok"
	}
	_, code, _, _ := mapError(err)
	return code
}
