package ingress

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCommand is returned by Invoke for a name not in the table.
	ErrUnknownCommand = errors.New("ingress: unknown command")

	// ErrDecode marks a payload that is not valid JSON.
	ErrDecode = errors.New("ingress: invalid JSON")

	// ErrValidation marks well-formed JSON with missing or invalid fields.
	ErrValidation = errors.New("ingress: validation failed")

	// ErrInvalidTable is returned when the command table doesn't match the registry.
	ErrInvalidTable = errors.New("ingress: invalid command table")
)

// Node markers written by observational commands on failure.
const (
	markerJSON       = "JSON_ERROR"
	markerValidation = "VALIDATION_ERROR"
	markerGeneral    = "GENERAL_ERROR"
)

func marker(err error) string {
	switch {
	case errors.Is(err, ErrDecode):
		return markerJSON
	case errors.Is(err, ErrValidation):
		return markerValidation
	default:
		return markerGeneral
	}
}

// payloadError carries the detail of a decode or validation failure.
type payloadError struct {
	kind   error
	detail string
}

func (e *payloadError) Error() string { return e.kind.Error() + ": " + e.detail }
func (e *payloadError) Unwrap() error { return e.kind }

func decodeError(err error) error {
	return &payloadError{kind: ErrDecode, detail: err.Error()}
}

func validationError(format string, args ...any) error {
	return &payloadError{kind: ErrValidation, detail: fmt.Sprintf(format, args...)}
}
