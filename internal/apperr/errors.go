// Package apperr classifies resolver failures and shapes them into the
// {message, status, data} envelope returned to clients.
package apperr

import (
	"net/http"

	"github.com/samber/oops"
)

// Error codes attached to classified errors.
const (
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeValidation      = "VALIDATION_FAILED"
	CodeConflict        = "CONFLICT"
	CodeInconsistent    = "INCONSISTENT_STATE"
)

// dataKey is the oops context key carrying client-visible detail.
const dataKey = "data"

// genericMessage replaces the message of unclassified errors.
const genericMessage = "An error occurred."

// Violation is one failed input rule.
type Violation struct {
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// Unauthenticated creates an error for a missing or rejected identity.
func Unauthenticated(message string) error {
	return oops.Code(CodeUnauthenticated).New(message)
}

// Forbidden creates an error for an authenticated caller acting on something it does not own.
func Forbidden(message string) error {
	return oops.Code(CodeForbidden).New(message)
}

// NotFound creates an error for a referenced entity that does not exist.
func NotFound(message string) error {
	return oops.Code(CodeNotFound).New(message)
}

// Conflict creates an error for a uniqueness clash, such as a duplicate registration.
func Conflict(message string) error {
	return oops.Code(CodeConflict).New(message)
}

// Inconsistent creates an error for a multi-document write that would leave
// the store in a state it cannot explain.
func Inconsistent(message string) error {
	return oops.Code(CodeInconsistent).New(message)
}

// Invalid creates a validation error carrying every violation at once.
func Invalid(violations []Violation) error {
	return oops.Code(CodeValidation).
		With(dataKey, violations).
		New("Invalid input.")
}

// Code returns the classification code of err, or "" if it has none.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := any(oopsErr.Code()).(string)
	return code
}

// Status maps err to the numeric status reported in the envelope.
func Status(err error) int {
	switch Code(err) {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeValidation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Classified reports whether err carries one of this package's codes.
func Classified(err error) bool {
	switch Code(err) {
	case CodeUnauthenticated, CodeForbidden, CodeNotFound, CodeValidation, CodeConflict, CodeInconsistent:
		return true
	}
	return false
}

// Data returns the client-visible detail attached to err, if any.
func Data(err error) any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()[dataKey]
}

// Envelope is the wire shape of a failed operation.
type Envelope struct {
	Message   string     `json:"message"`
	Status    int        `json:"status"`
	Data      any        `json:"data,omitempty"`
	Path      []any      `json:"path,omitempty"`
	Locations []Location `json:"locations,omitempty"`
}

type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// NewEnvelope shapes err for a client. Unclassified errors keep their status
// of 500 but lose their message, which may describe internals.
func NewEnvelope(err error) Envelope {
	if !Classified(err) {
		return Envelope{Message: genericMessage, Status: http.StatusInternalServerError}
	}
	return Envelope{
		Message: err.Error(),
		Status:  Status(err),
		Data:    Data(err),
	}
}
