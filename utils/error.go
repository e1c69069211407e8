package utils

import (
	"errors"
	"net/http"
)

var ErrorRecordNotFound = errors.New("record not found")

type ErrorKind string

const (
	KindUnauthenticated ErrorKind = "UNAUTHENTICATED"
	KindUnauthorized    ErrorKind = "UNAUTHORIZED"
	KindNotFound        ErrorKind = "NOT_FOUND"
	KindValidation      ErrorKind = "VALIDATION"
	KindExternalSystem  ErrorKind = "EXTERNAL_SYSTEM"
	KindInternal        ErrorKind = "INTERNAL"
)

// AppError carries a kind the HTTP layer maps to a status code.
type AppError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func Unauthenticated(msg string) error {
	return &AppError{Kind: KindUnauthenticated, Message: msg}
}

func Unauthorized(msg string) error {
	return &AppError{Kind: KindUnauthorized, Message: msg}
}

func NotFound(msg string) error {
	return &AppError{Kind: KindNotFound, Message: msg, Err: ErrorRecordNotFound}
}

func Validation(msg string) error {
	return &AppError{Kind: KindValidation, Message: msg}
}

func ExternalSystem(msg string, err error) error {
	return &AppError{Kind: KindExternalSystem, Message: msg, Err: err}
}

func Internal(msg string, err error) error {
	return &AppError{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf returns the kind of the first AppError in err's chain.
// A bare ErrorRecordNotFound is NotFound; anything else is Internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, ErrorRecordNotFound) {
		return KindNotFound
	}
	return KindInternal
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// PublicMessage is the message safe to return to a caller.
func PublicMessage(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		if ae.Kind == KindInternal {
			return "internal error"
		}
		if ae.Message != "" {
			return ae.Message
		}
	}
	if errors.Is(err, ErrorRecordNotFound) {
		return ErrorRecordNotFound.Error()
	}
	return "internal error"
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindUnauthorized:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindExternalSystem:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
