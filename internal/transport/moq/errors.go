package moq

import (
	"errors"
	"fmt"
)

// Sentinel errors for MoQ session handling.
var (
	ErrVersionMismatch    = errors.New("moq: no compatible version")
	ErrUnexpectedMessage  = errors.New("moq: unexpected control message")
	ErrSessionClosed      = errors.New("moq: session closed")
	ErrRequestIDExhausted = errors.New("moq: request id quota exhausted")
	ErrUnknownStreamType  = errors.New("moq: unknown data stream type")
)

// ParseError indicates a failure to parse a field of a MoQ message.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("moq: parse %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// SubscribeError is returned when the relay rejects a subscription.
func (e *SubscribeError) Error() string {
	return fmt.Sprintf("moq: subscribe %d rejected (code %d): %s", e.RequestID, e.ErrorCode, e.ReasonPhrase)
}
