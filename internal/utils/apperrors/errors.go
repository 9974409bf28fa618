package apperrors

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind represents the category of error
type Kind string

const (
	KindNotFound        Kind = "NOT_FOUND"
	KindValidation      Kind = "VALIDATION"
	KindUnauthenticated Kind = "UNAUTHENTICATED"
	KindQuotaExceeded   Kind = "QUOTA_EXCEEDED"
	KindCancelled       Kind = "CANCELLED"
	KindExternal        Kind = "EXTERNAL"
	KindDatabaseError   Kind = "DATABASE_ERROR"
	KindInternal        Kind = "INTERNAL"
)

// Layer represents the application layer where the error occurred
type Layer string

const (
	LayerRepository     Layer = "repository"
	LayerDomain         Layer = "domain"
	LayerApplication    Layer = "application"
	LayerInfrastructure Layer = "infrastructure"
)

// AppError carries the error category, originating layer and a trace ID
// so a logged error can be correlated with the user-facing message.
type AppError struct {
	TraceID   string
	Kind      Kind
	Layer     Layer
	Message   string
	Err       error
	Timestamp time.Time
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s][%s][%s] %s: %v", e.Layer, e.Kind, e.TraceID, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s][%s][%s] %s", e.Layer, e.Kind, e.TraceID, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the given classification.
func New(layer Layer, kind Kind, message string, err error) *AppError {
	return &AppError{
		TraceID:   uuid.NewString(),
		Kind:      kind,
		Layer:     layer,
		Message:   message,
		Err:       err,
		Timestamp: time.Now().UTC(),
	}
}

// Wrap converts err into an AppError, preserving the classification of an
// existing AppError in the chain instead of re-labelling it.
func Wrap(layer Layer, err error, message string) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			TraceID:   appErr.TraceID,
			Kind:      appErr.Kind,
			Layer:     layer,
			Message:   message,
			Err:       err,
			Timestamp: time.Now().UTC(),
		}
	}
	return New(layer, KindInternal, message, err)
}

// KindOf returns the kind of the first AppError in the chain, or
// KindInternal when err carries no classification.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// IsQuotaExceeded reports whether err is a storage quota exhaustion failure.
func IsQuotaExceeded(err error) bool {
	return IsKind(err, KindQuotaExceeded)
}

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}

// IsUnauthenticated reports whether err is a missing-identity failure.
func IsUnauthenticated(err error) bool {
	return IsKind(err, KindUnauthenticated)
}
