package chat

import (
	"errors"
	"fmt"
)

var (
	// The encoded message would not fit in a frame, or the username is too long.
	ErrMessageTooLarge = errors.New("message too large")
	// The input is not valid UTF-8.
	ErrInvalidEncoding = errors.New("invalid UTF-8 encoding")
	// The payload does not contain the expected fields.
	ErrMalformedPayload = errors.New("malformed payload")
)

// Error returned by Encode.
type EncodeError struct {
	// Embedded error
	Err error
}

func (err *EncodeError) Error() string {
	return fmt.Sprintf("failed to encode chat message: %v", err.Err)
}

func (err *EncodeError) Unwrap() error {
	return err.Err
}

// Error returned by Decode.
type DecodeError struct {
	// Embedded error
	Err error
}

func (err *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode chat message: %v", err.Err)
}

func (err *DecodeError) Unwrap() error {
	return err.Err
}

// Build a DecodeError which wraps ErrMalformedPayload.
func malformed(format string, args ...any) *DecodeError {
	return &DecodeError{Err: fmt.Errorf("%w: %s", ErrMalformedPayload, fmt.Sprintf(format, args...))}
}
