package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnauthenticated is returned when no owner identity could be resolved.
var ErrUnauthenticated = errors.New("authentication required")

var ErrInvalidCredentials = errors.New("invalid email or password")

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// validationErrorFromFields turns validator output (field -> failed tag)
// into a single ValidationError naming the first field alphabetically.
func validationErrorFromFields(fields map[string]string) *ValidationError {
	if len(fields) == 0 {
		return nil
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	field := names[0]
	switch fields[field] {
	case "required":
		return NewValidationError(field, "is required")
	default:
		return NewValidationError(field, "is invalid ("+fields[field]+")")
	}
}

type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.Key)
}

// ConflictError reports a write that would break the one-active-bill rule.
type ConflictError struct {
	Resource string
	Key      string
	Reason   string
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("%s %s already exists", e.Resource, e.Key)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

func requireOwner(ownerId string) error {
	if strings.TrimSpace(ownerId) == "" {
		return ErrUnauthenticated
	}
	return nil
}
