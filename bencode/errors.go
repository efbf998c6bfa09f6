package bencode

import (
	"errors"
	"fmt"
)

// ErrUnexpectedEOF is wrapped by every SyntaxError caused by truncated input.
var ErrUnexpectedEOF = errors.New("bencode: unexpected end of input")

// SyntaxError reports malformed or truncated input at a byte offset.
type SyntaxError struct {
	Offset int
	Msg    string
	Err    error
}

func (e *SyntaxError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bencode: %s at offset %d: %v", e.Msg, e.Offset, e.Err)
	}
	return fmt.Sprintf("bencode: %s at offset %d", e.Msg, e.Offset)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// EncodeError is returned when a value has no bencode representation.
type EncodeError struct {
	Value Value
}

func (e *EncodeError) Error() string {
	if e.Value == nil {
		return "bencode: cannot encode nil value"
	}
	return fmt.Sprintf("bencode: unsupported value of type %T", e.Value)
}
