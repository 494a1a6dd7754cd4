package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the type of error.
type ErrorType string

const (
	ErrorTypeMalformedFrame          ErrorType = "MALFORMED_FRAME"
	ErrorTypeCodecConfigMissing      ErrorType = "CODEC_CONFIG_MISSING"
	ErrorTypeOrderingViolation       ErrorType = "ORDERING_VIOLATION"
	ErrorTypeCorrelationUnderflow    ErrorType = "CORRELATION_UNDERFLOW"
	ErrorTypeCorrelationOverrun      ErrorType = "CORRELATION_OVERRUN"
	ErrorTypeUnmatchedDecodedPicture ErrorType = "UNMATCHED_DECODED_PICTURE"
	ErrorTypeDecodeKeyCollision      ErrorType = "DECODE_KEY_COLLISION"
	ErrorTypeSubscriptionFailed      ErrorType = "SUBSCRIPTION_FAILED"
	ErrorTypeTransport               ErrorType = "TRANSPORT_ERROR"
	ErrorTypeInvalidState            ErrorType = "INVALID_STATE"
	ErrorTypeNotFound                ErrorType = "NOT_FOUND"
	ErrorTypeRateLimited             ErrorType = "RATE_LIMITED"
	ErrorTypeInvalidRequest          ErrorType = "INVALID_REQUEST"
	ErrorTypeInternal                ErrorType = "INTERNAL_ERROR"
)

// PlaybackError represents a playback failure with additional context.
type PlaybackError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the error interface.
func (e *PlaybackError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error.
func (e *PlaybackError) Unwrap() error {
	return e.Err
}

// Is matches another PlaybackError by type, so sentinel values work with errors.Is.
func (e *PlaybackError) Is(target error) bool {
	t, ok := target.(*PlaybackError)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// WithDetails adds details to the error.
func (e *PlaybackError) WithDetails(details map[string]interface{}) *PlaybackError {
	e.Details = details
	return e
}

// Fatal reports whether the error ends the playback session.
// Late B-frames never surface as errors, so only the API level errors are
// recoverable.
func (e *PlaybackError) Fatal() bool {
	switch e.Type {
	case ErrorTypeNotFound, ErrorTypeInvalidState, ErrorTypeRateLimited, ErrorTypeInvalidRequest:
		return false
	default:
		return true
	}
}

// HTTPStatus maps the error onto a status code for the status API.
func (e *PlaybackError) HTTPStatus() int {
	switch e.Type {
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeInvalidState:
		return http.StatusConflict
	case ErrorTypeRateLimited:
		return http.StatusTooManyRequests
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeSubscriptionFailed, ErrorTypeTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new PlaybackError.
func New(errType ErrorType, message string) *PlaybackError {
	return &PlaybackError{
		Type:    errType,
		Message: message,
	}
}

// Wrap wraps an existing error.
func Wrap(err error, errType ErrorType, message string) *PlaybackError {
	return &PlaybackError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// Sentinels for errors.Is checks.
var (
	ErrMalformedFrame          = New(ErrorTypeMalformedFrame, "malformed frame")
	ErrOrderingViolation       = New(ErrorTypeOrderingViolation, "ordering violation")
	ErrCorrelationUnderflow    = New(ErrorTypeCorrelationUnderflow, "correlation queue underflow")
	ErrCorrelationOverrun      = New(ErrorTypeCorrelationOverrun, "correlation queue overrun")
	ErrUnmatchedDecodedPicture = New(ErrorTypeUnmatchedDecodedPicture, "unmatched decoded picture")
	ErrDecodeKeyCollision      = New(ErrorTypeDecodeKeyCollision, "decode key collision")
	ErrSubscriptionFailed      = New(ErrorTypeSubscriptionFailed, "subscription failed")
	ErrNotFound                = New(ErrorTypeNotFound, "not found")
)

// Common error constructors.

// NewMalformedFrameError creates a malformed input error.
func NewMalformedFrameError(message string) *PlaybackError {
	return New(ErrorTypeMalformedFrame, message)
}

// NewCodecConfigMissingError reports an init segment without a usable codec configuration.
func NewCodecConfigMissingError(message string) *PlaybackError {
	return New(ErrorTypeCodecConfigMissing, message)
}

// NewOrderingViolationError creates an ordering defect error.
func NewOrderingViolationError(message string) *PlaybackError {
	return New(ErrorTypeOrderingViolation, message)
}

// NewCorrelationUnderflowError reports a demuxer that emitted more samples than it was fed.
func NewCorrelationUnderflowError(message string) *PlaybackError {
	return New(ErrorTypeCorrelationUnderflow, message)
}

// NewCorrelationOverrunError creates a new correlation overrun error.
func NewCorrelationOverrunError(message string) *PlaybackError {
	return New(ErrorTypeCorrelationOverrun, message)
}

// NewUnmatchedDecodedPictureError reports decoder output without a pending submission.
func NewUnmatchedDecodedPictureError(message string) *PlaybackError {
	return New(ErrorTypeUnmatchedDecodedPicture, message)
}

// NewDecodeKeyCollisionError reports two pending submissions that map to one decoder timestamp.
func NewDecodeKeyCollisionError(message string) *PlaybackError {
	return New(ErrorTypeDecodeKeyCollision, message)
}

// WrapSubscriptionError wraps a transport subscription failure.
func WrapSubscriptionError(err error, track string) *PlaybackError {
	return Wrap(err, ErrorTypeSubscriptionFailed, fmt.Sprintf("couldn't subscribe to %s track", track))
}

// WrapTransportError wraps a read failure on an established subscription.
func WrapTransportError(err error, message string) *PlaybackError {
	return Wrap(err, ErrorTypeTransport, message)
}

// NewInvalidStateError creates an invalid state error.
func NewInvalidStateError(message string) *PlaybackError {
	return New(ErrorTypeInvalidState, message)
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(resource string) *PlaybackError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource))
}

// NewInvalidRequestError creates an error for a malformed API request.
func NewInvalidRequestError(message string) *PlaybackError {
	return New(ErrorTypeInvalidRequest, message)
}

// NewRateLimitedError creates an error for a rejected API request.
func NewRateLimitedError() *PlaybackError {
	return New(ErrorTypeRateLimited, "too many requests")
}

// WrapInternalError wraps an error as internal error.
func WrapInternalError(err error, message string) *PlaybackError {
	return Wrap(err, ErrorTypeInternal, message)
}

// IsPlaybackError checks if an error is a PlaybackError.
func IsPlaybackError(err error) bool {
	_, ok := GetPlaybackError(err)
	return ok
}

// GetPlaybackError extracts a PlaybackError from an error chain.
func GetPlaybackError(err error) (*PlaybackError, bool) {
	var pbErr *PlaybackError
	if errors.As(err, &pbErr) {
		return pbErr, true
	}
	return nil, false
}

// IsFatal reports whether err should abort the playback session.
// Errors of unknown origin are treated as fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if pbErr, ok := GetPlaybackError(err); ok {
		return pbErr.Fatal()
	}
	return true
}
