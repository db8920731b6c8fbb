package errors

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/powertrain/catalogsync/internal/domain"
)

// ErrNotFound is returned when a resource is not found
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrUnauthorized is returned when a remote system rejects our credentials.
// It is fatal for a sync run: retrying will not change a credential problem.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrConflict is returned when there's a conflict (e.g. a sync run is already active)
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "conflict"
}

// ErrValidation is returned when validation fails
type ErrValidation struct {
	Message string
	Fields  map[string]string
}

func (e *ErrValidation) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "validation failed"
}

// ErrInvalidStateTransition is returned when a run phase transition is not allowed
type ErrInvalidStateTransition struct {
	From domain.RunPhase
	To   domain.RunPhase
}

func (e *ErrInvalidStateTransition) Error() string {
	return fmt.Sprintf("invalid state transition from %s to %s", e.From, e.To)
}

// ErrStatus is returned when a remote API answers with an unexpected HTTP status.
// RetryAfter carries the server's Retry-After hint, zero when absent.
type ErrStatus struct {
	Op         string
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *ErrStatus) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300]
	}
	if body == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d, body: %s", e.Op, e.StatusCode, body)
}

// IsUnauthorized reports whether err carries an ErrUnauthorized
func IsUnauthorized(err error) bool {
	var target *ErrUnauthorized
	return stderrors.As(err, &target)
}

// IsNotFound reports whether err carries an ErrNotFound
func IsNotFound(err error) bool {
	var target *ErrNotFound
	return stderrors.As(err, &target)
}
