// Package apperr holds the error kinds shared by the lifecycle services and
// their transports. Callers wrap a kind with fmt.Errorf("...: %w", kind) and
// test for it with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrNotFound               = errors.New("not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrConflict               = errors.New("conflict")
	ErrRequestNotQuotable     = errors.New("request is not quotable")
	ErrDuplicateQuote         = errors.New("pharmacy already holds a pending quote for this request")
	ErrUnauthenticated        = errors.New("unauthenticated")
	ErrForbidden              = errors.New("forbidden")
	ErrAddressUnresolvable    = errors.New("address unresolvable")
	ErrUpload                 = errors.New("upload failed")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrEmailTaken             = errors.New("email already registered")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrValidation, "ValidationError"},
	{ErrNotFound, "NotFound"},
	{ErrInvalidStateTransition, "InvalidStateTransition"},
	{ErrConflict, "Conflict"},
	{ErrRequestNotQuotable, "RequestNotQuotable"},
	{ErrDuplicateQuote, "DuplicateQuote"},
	{ErrUnauthenticated, "Unauthenticated"},
	{ErrForbidden, "Forbidden"},
	{ErrAddressUnresolvable, "AddressUnresolvable"},
	{ErrUpload, "UploadFailed"},
	{ErrInvalidCredentials, "InvalidCredentials"},
	{ErrEmailTaken, "EmailTaken"},
}

// Kind returns the stable name of the first known kind wrapped by err,
// or "Internal" when err carries none.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}

// Validation builds an ErrValidation with a formatted detail.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
