package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidState       = errors.New("invalid state")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrConflict           = errors.New("conflict")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// NotFoundError reports a lookup of an unknown chat, message, project or category.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e == nil {
		return ErrNotFound.Error()
	}
	return fmt.Sprintf("%s %q %s", e.Resource, e.ID, ErrNotFound)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// InvalidStateError reports an operation that is not allowed in the current state,
// e.g. mutating a message that is not the active streaming target.
type InvalidStateError struct {
	Resource string
	ID       string
	Reason   string
}

func (e *InvalidStateError) Error() string {
	if e == nil {
		return ErrInvalidState.Error()
	}
	return fmt.Sprintf("%s for %s %q: %s", ErrInvalidState, e.Resource, e.ID, e.Reason)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

func InvalidState(resource, id, reason string) error {
	return &InvalidStateError{Resource: resource, ID: id, Reason: reason}
}

// InvalidArgumentError reports invalid input data.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	if e == nil {
		return ErrInvalidArgument.Error()
	}
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidArgument, e.Reason)
	}
	return fmt.Sprintf("%s (%s): %s", ErrInvalidArgument, e.Field, e.Reason)
}

func (e *InvalidArgumentError) Is(target error) bool { return target == ErrInvalidArgument }

func InvalidArgument(field, reason string) error {
	return &InvalidArgumentError{Field: field, Reason: reason}
}

// ConflictError reports a request that collides with existing state,
// e.g. starting a second stream on a chat.
type ConflictError struct {
	Resource string
	ID       string
	Reason   string
}

func (e *ConflictError) Error() string {
	if e == nil {
		return ErrConflict.Error()
	}
	return fmt.Sprintf("%s on %s %q: %s", ErrConflict, e.Resource, e.ID, e.Reason)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

func Conflict(resource, id, reason string) error {
	return &ConflictError{Resource: resource, ID: id, Reason: reason}
}

// StorageError wraps a failure of the durable backend.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e == nil {
		return ErrStorageUnavailable.Error()
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s %q", ErrStorageUnavailable, e.Op, e.Key)
	}
	return fmt.Sprintf("%s: %s %q: %v", ErrStorageUnavailable, e.Op, e.Key, e.Err)
}

func (e *StorageError) Is(target error) bool { return target == ErrStorageUnavailable }

func (e *StorageError) Unwrap() error { return e.Err }

func Storage(op, key string, err error) error {
	return &StorageError{Op: op, Key: key, Err: err}
}

// HTTPStatus maps an error kind to the status code used by the HTTP surface.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
