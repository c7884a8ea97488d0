package toolerr

import (
	"errors"
	"fmt"
)

// ErrNoRelevantContent marks a retrieval that found nothing above the
// relevance threshold. It is a normal outcome, not a fault.
var ErrNoRelevantContent = errors.New("no_relevant_content")

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidation(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func NewNotFound(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

type BackendUnavailableError struct {
	Service string
	Err     error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error {
	return e.Err
}

func NewBackendUnavailable(service string, err error) *BackendUnavailableError {
	return &BackendUnavailableError{Service: service, Err: err}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}

func IsBackendUnavailable(err error) bool {
	var bue *BackendUnavailableError
	return errors.As(err, &bue)
}
