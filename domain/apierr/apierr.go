// Package apierr defines the typed error vocabulary of the write pipeline.
// This package has NO dependencies on I/O or external packages.
package apierr

import (
	"errors"
	"fmt"
)

// Code identifies a category of API error.
type Code int

// Error codes surfaced to API callers.
const (
	CodeOtherCause           Code = -1
	CodeInternalServerError  Code = 1
	CodeObjectNotFound       Code = 101
	CodeInvalidQuery         Code = 102
	CodeInvalidClassName     Code = 103
	CodeMissingObjectID      Code = 104
	CodeInvalidKeyName       Code = 105
	CodeOperationForbidden   Code = 119
	CodeInvalidACL           Code = 123
	CodeInvalidEmailAddress  Code = 125
	CodeDuplicateValue       Code = 137
	CodeValidationError      Code = 142
	CodeUsernameMissing      Code = 200
	CodePasswordMissing      Code = 201
	CodeUsernameTaken        Code = 202
	CodeEmailTaken           Code = 203
	CodeEmailMissing         Code = 204
	CodeSessionMissing       Code = 206
	CodeAccountAlreadyLinked Code = 208
	CodeInvalidSessionToken  Code = 209
	CodeUnsupportedService   Code = 252
)

// Error is an API-visible error (value type).
type Error struct {
	Code    Code
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("code %d: %s", e.Code, e.Message)
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the error code from err, or CodeInternalServerError
// when err is not an apierr.Error.
func CodeOf(err error) Code {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return CodeInternalServerError
}

// Is reports whether err is an apierr.Error carrying the given code.
func Is(err error, code Code) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// HTTPStatus maps an error code to the HTTP status used by the REST surface.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInternalServerError:
		return 500
	case CodeObjectNotFound:
		return 404
	case CodeOperationForbidden, CodeInvalidSessionToken:
		return 403
	case CodeSessionMissing:
		return 401
	default:
		return 400
	}
}

// Common error values returned by multiple stages.
var (
	ErrMissingObjectID = New(CodeMissingObjectID, "objectId is required")
	ErrUsernameTaken   = New(CodeUsernameTaken, "Account already exists for this username.")
	ErrEmailTaken      = New(CodeEmailTaken, "Account already exists for this email address.")
	ErrAccountLinked   = New(CodeAccountAlreadyLinked, "this auth is already used")
	ErrObjectNotFound  = New(CodeObjectNotFound, "Object not found.")
)
