package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error by how it must be surfaced.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindAcquisition Kind = "acquisition"
	KindService     Kind = "service"
	KindConsistency Kind = "consistency"
	KindNotFound    Kind = "not_found"
	KindInternal    Kind = "internal"
)

// Error is an error carrying a kind, a stable machine-readable code and a
// message safe to show to callers.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Code: "not_found", Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindConsistency, Code: "forbidden", Message: message}
}

func Acquisition(message string, err error) *Error {
	return &Error{Kind: KindAcquisition, Code: "acquisition_failed", Message: message, Err: err}
}

func Service(code, message string, err error) *Error {
	return &Error{Kind: KindService, Code: code, Message: message, Err: err}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: "internal", Message: "internal error", Err: err}
}

// As returns the *Error in err's chain, or wraps err as an internal error.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// HTTPStatus maps err to the response status used by the API.
func HTTPStatus(err error) int {
	switch As(err).Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAcquisition:
		return http.StatusUnprocessableEntity
	case KindService:
		return http.StatusBadGateway
	case KindNotFound:
		return http.StatusNotFound
	case KindConsistency:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
