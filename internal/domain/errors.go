package domain

import (
	"errors"
	"fmt"
)

// Error types for consistent error handling across the BFA.

// ErrNotAuthenticated indicates the request carries no usable user context.
type ErrNotAuthenticated struct {
	Message string
}

func (e *ErrNotAuthenticated) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "not authenticated"
}

// ErrNotFound indicates a referenced document was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrFetchFailure indicates the document store was unreachable or returned
// data that could not be decoded. Reports fail as a whole on this error.
type ErrFetchFailure struct {
	Operation string
	Err       error
}

func (e *ErrFetchFailure) Error() string {
	return fmt.Sprintf("fetch failed [%s]: %v", e.Operation, e.Err)
}

func (e *ErrFetchFailure) Unwrap() error {
	return e.Err
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrTransportFailure indicates the mail provider rejected or failed a send.
type ErrTransportFailure struct {
	To  string
	Err error
}

func (e *ErrTransportFailure) Error() string {
	return fmt.Sprintf("mail transport failed for %s: %v", e.To, e.Err)
}

func (e *ErrTransportFailure) Unwrap() error {
	return e.Err
}

// ErrTransportUnavailable is returned when no mail transport is configured.
var ErrTransportUnavailable = errors.New("mail transport not configured")
