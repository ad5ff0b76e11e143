package domain

import (
	"errors"
	"fmt"
)

// Code is a stable machine readable error identifier.
type Code string

const (
	CodeApplicationNotFound Code = "APPLICATION_NOT_FOUND"
	CodeQueryNotFound       Code = "QUERY_NOT_FOUND"
	CodeDataFormat          Code = "DATA_FORMAT_ERROR"
	CodeInvalidState        Code = "INVALID_STATE"
	CodeConflict            Code = "CONFLICT"
	CodeValidation          Code = "VALIDATION_FAILED"
	CodeInternal            Code = "INTERNAL_ERROR"
)

// NotFoundError represents a missing resource.
type NotFoundError struct {
	Resource string
	ID       string
	Code     Code
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// Is enables errors.Is matching on NotFoundError.
func (e NotFoundError) Is(target error) bool {
	_, ok := target.(NotFoundError)
	if ok {
		return true
	}
	_, ok = target.(*NotFoundError)
	return ok
}

// ErrNotFound is the sentinel error for missing resources.
var ErrNotFound = NotFoundError{}

// DataFormatError reports a DSL field that is present but cannot be converted.
// Index is -1 when the field itself, not one of its elements, is malformed.
type DataFormatError struct {
	Field  string
	Index  int
	Reason string
}

func (e DataFormatError) Error() string {
	if e.Field == "" {
		return "malformed document"
	}
	if e.Index < 0 {
		return fmt.Sprintf("malformed %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed %s[%d]: %s", e.Field, e.Index, e.Reason)
}

func (e DataFormatError) Is(target error) bool {
	_, ok := target.(DataFormatError)
	if ok {
		return true
	}
	_, ok = target.(*DataFormatError)
	return ok
}

var ErrDataFormat = DataFormatError{}

// StateError rejects an operation that the current status does not allow.
type StateError struct {
	Op     string
	Status ApplicationStatus
}

func (e StateError) Error() string {
	if e.Op == "" {
		return "invalid state"
	}
	return fmt.Sprintf("cannot %s application in status %s", e.Op, e.Status)
}

func (e StateError) Is(target error) bool {
	_, ok := target.(StateError)
	if ok {
		return true
	}
	_, ok = target.(*StateError)
	return ok
}

var ErrInvalidState = StateError{}

// ConflictError reports a duplicate id, or a write based on a stale copy
// when Reason is set.
type ConflictError struct {
	Resource string
	ID       string
	Reason   string
}

func (e ConflictError) Error() string {
	if e.Resource == "" {
		return "conflict"
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s %s: %s", e.Resource, e.ID, e.Reason)
	}
	return fmt.Sprintf("%s %s already exists", e.Resource, e.ID)
}

func (e ConflictError) Is(target error) bool {
	_, ok := target.(ConflictError)
	if ok {
		return true
	}
	_, ok = target.(*ConflictError)
	return ok
}

var ErrConflict = ConflictError{}

// ValidationError wraps request validation failures.
type ValidationError struct {
	Err error
}

func (e ValidationError) Error() string {
	if e.Err == nil {
		return "validation failed"
	}
	return e.Err.Error()
}

func (e ValidationError) Unwrap() error {
	return e.Err
}

func (e ValidationError) Is(target error) bool {
	_, ok := target.(ValidationError)
	if ok {
		return true
	}
	_, ok = target.(*ValidationError)
	return ok
}

var ErrValidation = ValidationError{}

// ErrorCode returns the stable code for err, or CodeInternal.
func ErrorCode(err error) Code {
	var nf NotFoundError
	if errors.As(err, &nf) {
		if nf.Code != "" {
			return nf.Code
		}
		return CodeApplicationNotFound
	}
	switch {
	case errors.Is(err, ErrDataFormat):
		return CodeDataFormat
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrValidation):
		return CodeValidation
	default:
		return CodeInternal
	}
}
