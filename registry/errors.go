package registry

import (
	"errors"
	"fmt"
)

const (
	ErrMissingHeader   = "MISSING_HEADER"
	ErrMalformedRecord = "MALFORMED_RECORD"
	ErrAlreadyExists   = "ALREADY_EXISTS"
	ErrNotFound        = "NOT_FOUND"
	ErrClientNotFound  = "CLIENT_NOT_FOUND"
	ErrInvalid         = "INVALID"
	ErrIOFailure       = "IO_FAILURE"
	ErrReloadFailed    = "RELOAD_FAILED"
	ErrUnavailable     = "UNAVAILABLE"
)

type RegistryError struct {
	Code    string
	Message string
	Err     error
}

func (e *RegistryError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *RegistryError) Unwrap() error { return e.Err }

func newError(code string, err error, format string, args ...any) *RegistryError {
	return &RegistryError{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the registry error code carried by err, or "" for foreign errors.
func CodeOf(err error) string {
	var re *RegistryError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}
