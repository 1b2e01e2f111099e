package common

import (
	"context"
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
)

// Pipeline failure taxonomy. Per-document failures wrap one of these
// sentinels so batch summaries can report a stable kind for each document.
var (
	// ErrUnreadableDocument: the payload is empty or cannot be prepared for
	// the model at all. A routing failure, never classified as Unknown.
	ErrUnreadableDocument = errors.New("unreadable document")

	// ErrUnknownVendorSchema: no schema is configured for the vendor label.
	ErrUnknownVendorSchema = errors.New("unknown vendor schema")

	// ErrModelUnavailable: the document-understanding capability could not be
	// reached. Transient; retryable with backoff.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrMalformedResponse: the capability responded but the response is not
	// decodable as structured data.
	ErrMalformedResponse = errors.New("malformed model response")
)

// FailureKind maps an error to the stable kind string reported in batch
// summaries and the job ledger.
func FailureKind(err error) string {
	switch {
	case errors.Is(err, ErrUnreadableDocument):
		return "UnreadableDocument"
	case errors.Is(err, ErrUnknownVendorSchema):
		return "UnknownVendorSchema"
	case errors.Is(err, ErrModelUnavailable):
		return "ModelUnavailable"
	case errors.Is(err, ErrMalformedResponse):
		return "MalformedResponse"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// documents a cancelled batch never started, not real failures
		return "Canceled"
	default:
		return "Internal"
	}
}

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
