package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes.
type ErrorCode string

const (
	// Coordinator errors
	ErrDeviceUnavailable ErrorCode = "DEVICE_UNAVAILABLE"
	ErrInvalidState      ErrorCode = "INVALID_STATE"
	ErrPlayback          ErrorCode = "PLAYBACK_ERROR"
	ErrAssessmentService ErrorCode = "ASSESSMENT_SERVICE_ERROR"
	ErrOutOfRange        ErrorCode = "OUT_OF_RANGE"

	// Surrounding errors
	ErrValidation  ErrorCode = "VALIDATION_ERROR"
	ErrGeneration  ErrorCode = "GENERATION_ERROR"
	ErrRateLimited ErrorCode = "RATE_LIMITED"
	ErrInternal    ErrorCode = "INTERNAL_ERROR"
)

// AppError represents an application error with code and metadata.
type AppError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails adds details to the error.
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// HTTPStatus returns the HTTP status code for the error.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrValidation, ErrOutOfRange:
		return http.StatusBadRequest
	case ErrInvalidState:
		return http.StatusConflict
	case ErrDeviceUnavailable:
		return http.StatusServiceUnavailable
	case ErrAssessmentService, ErrGeneration:
		return http.StatusBadGateway
	case ErrRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf returns the code of the first AppError in err's chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	ok := stderrors.As(err, &appErr)
	return appErr, ok
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}

// Common error constructors
func DeviceUnavailable(message string, err error) *AppError {
	return Wrap(ErrDeviceUnavailable, message, err)
}

func InvalidState(operation string, state fmt.Stringer) *AppError {
	return New(ErrInvalidState, fmt.Sprintf("%s not allowed in state %s", operation, state)).
		WithDetails(map[string]interface{}{"operation": operation, "state": state.String()})
}

func Playback(message string, err error) *AppError {
	return Wrap(ErrPlayback, message, err)
}

func AssessmentService(message string, err error) *AppError {
	return Wrap(ErrAssessmentService, message, err)
}

func OutOfRange(index, length int) *AppError {
	return New(ErrOutOfRange, fmt.Sprintf("exercise index %d outside [0, %d)", index, length)).
		WithDetails(map[string]interface{}{"index": index, "length": length})
}

func Validation(message string) *AppError {
	return New(ErrValidation, message)
}

func Generation(message string, err error) *AppError {
	return Wrap(ErrGeneration, message, err)
}

func Internal(message string) *AppError {
	return New(ErrInternal, message)
}
