package errorutil

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// Error codes exposed to API clients.
const (
	CodeNotFound               = "NOT_FOUND"
	CodeInvalidTransition      = "INVALID_TRANSITION"
	CodeInvalidState           = "INVALID_STATE"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeForbidden              = "FORBIDDEN"
	CodeValidation             = "VALIDATION_FAILED"
	CodeAlreadyAssigned        = "ALREADY_ASSIGNED"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeDuplicateNumber        = "DUPLICATE_NUMBER"
	CodeInternal               = "INTERNAL_ERROR"
)

// Sentinels for errors.Is; a DomainError matches any sentinel with the same code.
var (
	ErrNotFound               = &DomainError{Code: CodeNotFound}
	ErrInvalidTransition      = &DomainError{Code: CodeInvalidTransition}
	ErrInvalidState           = &DomainError{Code: CodeInvalidState}
	ErrUnauthorized           = &DomainError{Code: CodeUnauthorized}
	ErrForbidden              = &DomainError{Code: CodeForbidden}
	ErrValidation             = &DomainError{Code: CodeValidation}
	ErrAlreadyAssigned        = &DomainError{Code: CodeAlreadyAssigned}
	ErrConcurrentModification = &DomainError{Code: CodeConcurrentModification}
	ErrDuplicateNumber        = &DomainError{Code: CodeDuplicateNumber}
	ErrInternal               = &DomainError{Code: CodeInternal}
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Message == "" {
		return e.Code
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a DomainError carrying the same code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewInvalidTransition(from, to string) error {
	return NewDomainError(CodeInvalidTransition,
		fmt.Sprintf("invalid status transition from %s to %s", from, to),
		http.StatusConflict,
		map[string]any{"from": from, "to": to})
}

func NewInvalidState(message string, details map[string]any) error {
	return NewDomainError(CodeInvalidState, message, http.StatusConflict, details)
}

// NewUnauthorized is used when the caller is not the participant an operation requires.
func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusForbidden, nil)
}

// NewUnauthenticated is used by the HTTP boundary when no valid credentials were presented.
func NewUnauthenticated(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewAlreadyAssigned(workOrderID, assigneeID string) error {
	return NewDomainError(CodeAlreadyAssigned,
		"work order already has an assignee; use reassignment",
		http.StatusConflict,
		map[string]any{"work_order_id": workOrderID, "assignee_id": assigneeID})
}

func NewConcurrentModification(workOrderID string, expected int64) error {
	return NewDomainError(CodeConcurrentModification,
		"work order was modified concurrently; reload and retry",
		http.StatusConflict,
		map[string]any{"work_order_id": workOrderID, "expected_version": expected})
}

// NewDuplicateNumber reports a generator invariant violation. It is never retried.
func NewDuplicateNumber(number string, err error) error {
	return &DomainError{
		Code:       CodeDuplicateNumber,
		Message:    fmt.Sprintf("generated work order number %s already exists", number),
		HTTPStatus: http.StatusInternalServerError,
		Details:    map[string]any{"number": number},
		Err:        err,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) {
		return NewNotFound("resource", nil).(*DomainError)
	}
	return NewInternalError(err).(*DomainError)
}

// MapError converts generic errors to DomainError.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	return ToDomainError(err)
}

// Code returns the taxonomy code of err, or CodeInternal for foreign errors.
func Code(err error) string {
	if err == nil {
		return ""
	}
	return ToDomainError(err).Code
}
