package errors

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Sentinel kinds. Concrete errors are built with NewError(...).Mark(kind) so
// callers can classify them with errors.Is.
var (
	ErrValidation   = new(ErrCodeValidation, "validation error")
	ErrNotFound     = new(ErrCodeNotFound, "resource not found")
	ErrProcessing   = new(ErrCodeProcessing, "payment processing error")
	ErrPersistence  = new(ErrCodePersistence, "payment persistence error")
	ErrVerification = new(ErrCodeVerification, "webhook verification error")
	ErrCache        = new(ErrCodeCache, "cache error")

	// Processing sub-kinds. Each one is also marked with ErrProcessing.
	ErrDeclined       = new(ErrCodeDeclined, "payment declined")
	ErrRateLimited    = new(ErrCodeRateLimited, "processor rate limited")
	ErrAuthentication = new(ErrCodeAuthentication, "processor authentication failed")

	statusCodeMap = []struct {
		err    error
		status int
	}{
		{ErrValidation, http.StatusBadRequest},
		{ErrVerification, http.StatusBadRequest},
		{ErrNotFound, http.StatusNotFound},
		{ErrDeclined, http.StatusPaymentRequired},
		{ErrRateLimited, http.StatusTooManyRequests},
		{ErrAuthentication, http.StatusBadGateway},
		{ErrProcessing, http.StatusBadGateway},
		{ErrPersistence, http.StatusInternalServerError},
	}
)

const (
	ErrCodeValidation     = "validation_error"
	ErrCodeNotFound       = "not_found"
	ErrCodeProcessing     = "processing_error"
	ErrCodePersistence    = "persistence_error"
	ErrCodeVerification   = "verification_error"
	ErrCodeCache          = "cache_error"
	ErrCodeDeclined       = "payment_declined"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeAuthentication = "authentication_error"
	ErrCodeInternal       = "internal_error"
)

// InternalError represents a classified domain error.
type InternalError struct {
	Code    string
	Message string
	Err     error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.DisplayError()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *InternalError) DisplayError() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is matches on the error code so wrapped copies still classify.
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}

	return e.Code == t.Code
}

func new(code string, message string) *InternalError {
	return &InternalError{
		Code:    code,
		Message: message,
	}
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func Is(err, reference error) bool {
	return errors.Is(err, reference)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsProcessing reports whether the processor rejected or could not complete
// the operation. Declined, rate limited and authentication failures all match.
func IsProcessing(err error) bool {
	return errors.Is(err, ErrProcessing)
}

// IsPersistence reports whether a store write failed. When it follows a
// successful processor call the local store and the processor have diverged.
func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistence)
}

func IsVerification(err error) bool {
	return errors.Is(err, ErrVerification)
}

func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// Code returns the most specific classification code for err.
func Code(err error) string {
	for _, entry := range statusCodeMap {
		if errors.Is(err, entry.err) {
			return entry.err.(*InternalError).Code
		}
	}
	return ErrCodeInternal
}

// HTTPStatusFromErr maps an error to a transport status. Sub-kinds are checked
// before their parent kind.
func HTTPStatusFromErr(err error) int {
	for _, entry := range statusCodeMap {
		if errors.Is(err, entry.err) {
			return entry.status
		}
	}
	return http.StatusInternalServerError
}
